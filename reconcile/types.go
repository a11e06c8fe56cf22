// Package reconcile implements client-side snapshot comparison, the
// equal/no-rewind/rewind-required decision, and the rewind re-simulation
// loop of spec.md §4.5, wired to package control's controllers via plain
// callbacks rather than a direct type dependency in the other direction.
package reconcile

import (
	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/syncgroup"
)

// VarEntry is one synchronized variable's value as carried inside a
// Snapshot.
type VarEntry struct {
	Name  string
	Value any
}

// Snapshot is a full record of synchronized state at one input frame
// (spec.md §3).
type Snapshot struct {
	InputID           control.FrameIndex
	PeersFramesIndex  map[control.PeerID]control.FrameIndex
	SimulatedObjects  []syncgroup.ObjectNetId
	ObjectVars        map[syncgroup.ObjectNetId][]VarEntry
}

// varValue returns the value of name on netID within the snapshot, and
// whether it was present.
func (s Snapshot) varValue(netID syncgroup.ObjectNetId, name string) (any, bool) {
	for _, e := range s.ObjectVars[netID] {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// DollSnapshot is a client-side record of a remotely-controlled object's
// state as of the frame it had locally executed (spec.md §3).
type DollSnapshot struct {
	DollExecutedInput control.FrameIndex
	Data              Snapshot
}
