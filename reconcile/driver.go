package reconcile

import (
	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/syncgroup"
)

// ReceivedServerSnapshotEvent carries the snapshot just accepted by
// ReceiveServerSnapshot.
type ReceivedServerSnapshotEvent struct{ Snapshot Snapshot }

// SnapshotUpdateFinishedEvent fires once a received server snapshot has
// been merged into the driver's pending list.
type SnapshotUpdateFinishedEvent struct{ Snapshot Snapshot }

// StateValidatedEvent reports the outcome of one Reconcile pass.
type StateValidatedEvent struct {
	Frame          control.FrameIndex
	DesyncDetected bool
}

// RewindFrameBeginEvent fires once per re-simulation step of a rewind.
type RewindFrameBeginEvent struct {
	Frame control.FrameIndex
	Index int
	Total int
}

// SnapshotAppliedEvent fires once a rewind's authoritative snapshot has
// been written into client state.
type SnapshotAppliedEvent struct {
	Snapshot           Snapshot
	FrameCountToRewind int
}

// Outcome names which of the three branches of spec.md §4.5 a Reconcile
// call took.
type Outcome int

const (
	OutcomeNoPair Outcome = iota
	OutcomeEqual
	OutcomeRecoverable
	OutcomeRewindRequired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEqual:
		return "equal"
	case OutcomeRecoverable:
		return "no-rewind-recoverable"
	case OutcomeRewindRequired:
		return "rewind-required"
	default:
		return "no-pair"
	}
}

// ReconcileResult is the decision Reconcile made, for callers (the
// top-level host) that need to drive PlayerController/DollController
// through the resulting rewind themselves.
type ReconcileResult struct {
	Outcome            Outcome
	Frame              control.FrameIndex
	FrameCountToRewind int
}

// Driver holds the client's retained snapshot history and runs the
// compare/rewind loop of spec.md §4.5. ObjectLookup and ApplyValue are
// required collaborators supplied by the host; Driver never touches
// application object storage directly.
type Driver struct {
	ObjectLookup func(syncgroup.ObjectNetId) *syncgroup.ObjectData
	ApplyValue   func(netID syncgroup.ObjectNetId, name string, value any)

	clientSnapshots []Snapshot
	serverSnapshots []Snapshot
	dollSnapshots   map[control.PeerID][]DollSnapshot

	lastCheckedFrame control.FrameIndex

	ReceivedServerSnapshot broadcaster[ReceivedServerSnapshotEvent]
	SnapshotUpdateFinished broadcaster[SnapshotUpdateFinishedEvent]
	StateValidated         broadcaster[StateValidatedEvent]
	RewindFrameBegin       broadcaster[RewindFrameBeginEvent]
	SnapshotApplied        broadcaster[SnapshotAppliedEvent]
}

// New constructs a Driver.
func New(lookup func(syncgroup.ObjectNetId) *syncgroup.ObjectData, apply func(syncgroup.ObjectNetId, string, any)) *Driver {
	return &Driver{
		ObjectLookup:     lookup,
		ApplyValue:       apply,
		dollSnapshots:    make(map[control.PeerID][]DollSnapshot),
		lastCheckedFrame: control.NoneFrame,
	}
}

// LastCheckedFrame returns the most recent frame the driver has
// confirmed matches the server (or was reconciled up to).
func (d *Driver) LastCheckedFrame() control.FrameIndex {
	return d.lastCheckedFrame
}

// RecordClientSnapshot stores a freshly produced client snapshot, kept
// sorted by input id.
func (d *Driver) RecordClientSnapshot(snap Snapshot) {
	insertSnapshot(&d.clientSnapshots, snap)
}

// RecordDollSnapshot stores a doll's snapshot, keyed by the authority
// peer it represents.
func (d *Driver) RecordDollSnapshot(authority control.PeerID, snap DollSnapshot) {
	d.dollSnapshots[authority] = append(d.dollSnapshots[authority], snap)
}

// FindDollSnapshot returns the doll snapshot recorded for authority whose
// DollExecutedInput equals frame, if any. DollController.ApplySnapshotBefore
// drives lag compensation's per-frame snapshot lookup through this.
func (d *Driver) FindDollSnapshot(authority control.PeerID, frame control.FrameIndex) (DollSnapshot, bool) {
	for _, s := range d.dollSnapshots[authority] {
		if s.DollExecutedInput == frame {
			return s, true
		}
	}
	return DollSnapshot{}, false
}

// ReceiveServerSnapshot merges an incoming authoritative snapshot into
// the pending list, dropping any previously stored NONE-indexed
// snapshot once a real-indexed one arrives (spec.md §4.5 step 2).
func (d *Driver) ReceiveServerSnapshot(snap Snapshot) {
	if !snap.InputID.IsNone() {
		kept := d.serverSnapshots[:0]
		for _, s := range d.serverSnapshots {
			if !s.InputID.IsNone() {
				kept = append(kept, s)
			}
		}
		d.serverSnapshots = kept
	}
	insertSnapshot(&d.serverSnapshots, snap)
	d.ReceivedServerSnapshot.Emit(ReceivedServerSnapshotEvent{Snapshot: snap})
	d.SnapshotUpdateFinished.Emit(SnapshotUpdateFinishedEvent{Snapshot: snap})
}

func insertSnapshot(list *[]Snapshot, snap Snapshot) {
	l := *list
	i := 0
	for ; i < len(l); i++ {
		if l[i].InputID == snap.InputID {
			l[i] = snap
			return
		}
		if l[i].InputID > snap.InputID {
			break
		}
	}
	l = append(l, Snapshot{})
	copy(l[i+1:], l[i:])
	l[i] = snap
	*list = l
}

// DropAcknowledged discards retained client snapshots at or before
// upTo, per spec.md §3's "snapshots are discarded from the tail as their
// frame is acknowledged".
func (d *Driver) DropAcknowledged(upTo control.FrameIndex) {
	i := 0
	for ; i < len(d.clientSnapshots); i++ {
		if d.clientSnapshots[i].InputID > upTo {
			break
		}
	}
	d.clientSnapshots = d.clientSnapshots[i:]
}

// findClientByID returns the client snapshot with the given id, or false.
func (d *Driver) findClientByID(id control.FrameIndex) (Snapshot, bool) {
	for _, s := range d.clientSnapshots {
		if s.InputID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// mostRecentServerWithPair returns the newest server snapshot that also has a
// matching client snapshot, or false if none do yet.
func (d *Driver) mostRecentServerWithPair() (server, client Snapshot, ok bool) {
	for i := len(d.serverSnapshots) - 1; i >= 0; i-- {
		s := d.serverSnapshots[i]
		if s.InputID.IsNone() {
			continue
		}
		if c, found := d.findClientByID(s.InputID); found {
			return s, c, true
		}
	}
	return Snapshot{}, Snapshot{}, false
}

// varDiff is one variable that differs between the client and server
// snapshot for an object.
type varDiff struct {
	NetID syncgroup.ObjectNetId
	Name  string
	Value any
	Soft  bool
}

func (d *Driver) diff(server, client Snapshot) []varDiff {
	var diffs []varDiff
	for netID, serverVars := range server.ObjectVars {
		obj := d.ObjectLookup(netID)
		for _, sv := range serverVars {
			cv, found := client.varValue(netID, sv.Name)
			if found && valuesEqual(cv, sv.Value) {
				continue
			}
			soft := false
			if obj != nil {
				if vd := obj.VarByName(sv.Name); vd != nil {
					soft = vd.Soft
				}
			}
			diffs = append(diffs, varDiff{NetID: netID, Name: sv.Name, Value: sv.Value, Soft: soft})
		}
	}
	return diffs
}

func valuesEqual(a, b any) bool {
	return a == b
}

// Reconcile runs one compare/rewind decision against currentFrame, the
// client's own present simulation frame (used to compute
// frame_count_to_rewind). It applies soft-variable overwrites and, for a
// required rewind, the full snapshot overwrite itself; the caller
// (the host) is responsible for actually re-running PlayerController/
// DollController through the resulting FrameCountToRewind steps,
// observing RewindFrameBegin/SnapshotApplied as it does so.
func (d *Driver) Reconcile(currentFrame control.FrameIndex) ReconcileResult {
	server, client, ok := d.mostRecentServerWithPair()
	if !ok {
		return ReconcileResult{Outcome: OutcomeNoPair}
	}

	diffs := d.diff(server, client)
	if len(diffs) == 0 {
		d.lastCheckedFrame = server.InputID
		d.StateValidated.Emit(StateValidatedEvent{Frame: server.InputID, DesyncDetected: false})
		return ReconcileResult{Outcome: OutcomeEqual, Frame: server.InputID}
	}

	allSoft := true
	for _, diff := range diffs {
		if !diff.Soft {
			allSoft = false
			break
		}
	}

	d.StateValidated.Emit(StateValidatedEvent{Frame: server.InputID, DesyncDetected: true})

	if allSoft {
		for _, diff := range diffs {
			d.ApplyValue(diff.NetID, diff.Name, diff.Value)
		}
		d.lastCheckedFrame = server.InputID
		return ReconcileResult{Outcome: OutcomeRecoverable, Frame: server.InputID}
	}

	for netID, vars := range server.ObjectVars {
		for _, v := range vars {
			d.ApplyValue(netID, v.Name, v.Value)
		}
	}

	frameCountToRewind := 0
	if !currentFrame.IsNone() && currentFrame > server.InputID {
		frameCountToRewind = int(currentFrame) - int(server.InputID)
	}
	for i := 0; i < frameCountToRewind; i++ {
		d.RewindFrameBegin.Emit(RewindFrameBeginEvent{
			Frame: server.InputID + control.FrameIndex(i),
			Index: i,
			Total: frameCountToRewind,
		})
	}
	d.lastCheckedFrame = server.InputID
	d.SnapshotApplied.Emit(SnapshotAppliedEvent{Snapshot: server, FrameCountToRewind: frameCountToRewind})

	return ReconcileResult{
		Outcome:            OutcomeRewindRequired,
		Frame:              server.InputID,
		FrameCountToRewind: frameCountToRewind,
	}
}
