// Package syncgroup implements the server-side partitioning of objects and
// peers into SyncGroups (spec.md §4.4): which objects an authority peer's
// controller drives, and which peers receive that authority's echoed input
// and snapshots.
package syncgroup

import (
	"github.com/rhea-systems/netsync/control"
)

// ObjectLocalId is the application's process-local handle for a
// synchronized object; it is never transmitted.
type ObjectLocalId uint64

// ObjectNetId is the small integer the server assigns an object once it
// starts being synchronized. Reuse after deletion is disallowed while any
// peer may still reference it (enforced by the owning registry, not this
// package).
type ObjectNetId uint32

// VarDescriptor is one synchronized variable on an ObjectData: a typed
// getter/setter pair plus the last value observed and whether it has
// changed since the last snapshot encode.
type VarDescriptor struct {
	Name string
	Get  func() any
	Set  func(any)

	LastValue any
	Changed   bool

	// Soft marks a variable the application allows the reconciliation
	// driver to overwrite without triggering a full rewind (spec.md
	// §4.5's "no-rewind-recoverable" outcome).
	Soft bool
}

// RPCEntry is one registered remote-procedure endpoint on an ObjectData,
// addressed by its index in the RPC datagram layout (spec.md §6).
type RPCEntry struct {
	Index   uint8
	Name    string
	Handler func(sender control.PeerID, args []byte)
}

// ObjectData is the application-owned record for one synchronized object
// (spec.md §3).
type ObjectData struct {
	LocalID ObjectLocalId
	NetID   ObjectNetId

	Vars []*VarDescriptor
	RPCs []RPCEntry

	// ControlledByPeer is the authority peer for this object, or 0 for
	// "no controller" (server-authored objects with no remote owner).
	ControlledByPeer control.PeerID

	// RealtimeSyncEnabledOnClient is set per-client to indicate whether
	// this object is part of that client's active simulation.
	RealtimeSyncEnabledOnClient bool
}

// VarByName returns the descriptor named name, or nil.
func (o *ObjectData) VarByName(name string) *VarDescriptor {
	for _, v := range o.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}
