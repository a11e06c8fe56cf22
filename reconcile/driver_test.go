package reconcile

import (
	"testing"

	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/syncgroup"
)

func newTestDriver(softVars map[string]bool) (*Driver, *map[syncgroup.ObjectNetId]map[string]any) {
	applied := map[syncgroup.ObjectNetId]map[string]any{}
	obj := &syncgroup.ObjectData{NetID: 1}
	for name, soft := range softVars {
		obj.Vars = append(obj.Vars, &syncgroup.VarDescriptor{Name: name, Soft: soft})
	}
	d := New(
		func(id syncgroup.ObjectNetId) *syncgroup.ObjectData {
			if id == 1 {
				return obj
			}
			return nil
		},
		func(id syncgroup.ObjectNetId, name string, value any) {
			if applied[id] == nil {
				applied[id] = map[string]any{}
			}
			applied[id][name] = value
		},
	)
	return d, &applied
}

func snapAt(frame control.FrameIndex, vars map[string]any) Snapshot {
	entries := make([]VarEntry, 0, len(vars))
	for name, v := range vars {
		entries = append(entries, VarEntry{Name: name, Value: v})
	}
	return Snapshot{
		InputID:    frame,
		ObjectVars: map[syncgroup.ObjectNetId][]VarEntry{1: entries},
	}
}

func TestReconcileEqualAdvancesLastChecked(t *testing.T) {
	d, _ := newTestDriver(nil)
	d.RecordClientSnapshot(snapAt(10, map[string]any{"hp": 100}))
	d.ReceiveServerSnapshot(snapAt(10, map[string]any{"hp": 100}))

	var validated []StateValidatedEvent
	d.StateValidated.Bind(func(e StateValidatedEvent) { validated = append(validated, e) })

	res := d.Reconcile(10)
	if res.Outcome != OutcomeEqual {
		t.Fatalf("expected equal outcome, got %v", res.Outcome)
	}
	if d.LastCheckedFrame() != 10 {
		t.Fatalf("expected last checked frame 10, got %v", d.LastCheckedFrame())
	}
	if len(validated) != 1 || validated[0].DesyncDetected {
		t.Fatalf("expected one state_validated event with desync=false, got %v", validated)
	}
}

func TestReconcileSoftVarDiffIsRecoverable(t *testing.T) {
	d, applied := newTestDriver(map[string]bool{"cosmetic": true})
	d.RecordClientSnapshot(snapAt(10, map[string]any{"cosmetic": "red"}))
	d.ReceiveServerSnapshot(snapAt(10, map[string]any{"cosmetic": "blue"}))

	res := d.Reconcile(10)
	if res.Outcome != OutcomeRecoverable {
		t.Fatalf("expected recoverable outcome, got %v", res.Outcome)
	}
	if (*applied)[1]["cosmetic"] != "blue" {
		t.Fatalf("expected soft var overwritten to server value, got %v", (*applied)[1])
	}
}

func TestReconcileHardVarDiffRequiresRewind(t *testing.T) {
	d, applied := newTestDriver(map[string]bool{"hp": false})
	d.RecordClientSnapshot(snapAt(10, map[string]any{"hp": 100}))
	d.ReceiveServerSnapshot(snapAt(10, map[string]any{"hp": 90}))

	var begins []RewindFrameBeginEvent
	d.RewindFrameBegin.Bind(func(e RewindFrameBeginEvent) { begins = append(begins, e) })
	var applied_ []SnapshotAppliedEvent
	d.SnapshotApplied.Bind(func(e SnapshotAppliedEvent) { applied_ = append(applied_, e) })

	res := d.Reconcile(15) // client has simulated 5 frames past the snapshot
	if res.Outcome != OutcomeRewindRequired {
		t.Fatalf("expected rewind-required outcome, got %v", res.Outcome)
	}
	if res.FrameCountToRewind != 5 {
		t.Fatalf("expected frame_count_to_rewind=5, got %d", res.FrameCountToRewind)
	}
	if len(begins) != 5 {
		t.Fatalf("expected 5 rewind_frame_begin events, got %d", len(begins))
	}
	if len(applied_) != 1 || applied_[0].FrameCountToRewind != 5 {
		t.Fatalf("expected one snapshot_applied event with count 5, got %v", applied_)
	}
	if (*applied)[1]["hp"] != 90 {
		t.Fatalf("expected hp overwritten from server snapshot, got %v", (*applied)[1])
	}
}

func TestReceiveServerSnapshotDropsNoneIndexedOnRealArrival(t *testing.T) {
	d, _ := newTestDriver(nil)
	d.ReceiveServerSnapshot(snapAt(control.NoneFrame, nil))
	if len(d.serverSnapshots) != 1 {
		t.Fatalf("expected 1 pending snapshot after first receive, got %d", len(d.serverSnapshots))
	}
	d.ReceiveServerSnapshot(snapAt(5, nil))
	if len(d.serverSnapshots) != 1 || d.serverSnapshots[0].InputID != 5 {
		t.Fatalf("expected the NONE-indexed snapshot dropped once a real one arrived, got %+v", d.serverSnapshots)
	}
}

func TestBroadcasterUnbindStopsDelivery(t *testing.T) {
	var b broadcaster[int]
	calls := 0
	id := b.Bind(func(int) { calls++ })
	b.Emit(1)
	b.Unbind(id)
	b.Emit(2)
	if calls != 1 {
		t.Fatalf("expected exactly 1 delivered call before unbind, got %d", calls)
	}
}

func TestNoPairYieldsNoOutcome(t *testing.T) {
	d, _ := newTestDriver(nil)
	res := d.Reconcile(10)
	if res.Outcome != OutcomeNoPair {
		t.Fatalf("expected no-pair outcome with nothing recorded, got %v", res.Outcome)
	}
}
