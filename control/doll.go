package control

import (
	"github.com/rhea-systems/netsync/config"
	"github.com/rhea-systems/netsync/databuffer"
)

// DollHooks are the application callbacks specific to DollController. The
// snapshot-lookup/apply side of lag compensation deliberately isn't one
// of them: Snapshot/DollSnapshot data belongs to package reconcile, and
// DollController exposes pure decisions (DecideLagCompensation) plus
// plain setters so netsync.Host can drive it from reconcile's data
// without control importing reconcile's types back.
type DollHooks struct {
	Process func(buf *databuffer.DataBuffer, delta float64)
	// ApplySnapshotBefore is invoked, when non-nil, right before Process
	// runs for a newly picked input, given (newlyPickedID - 1). It
	// returns whether a snapshot existed and was applied.
	ApplySnapshotBefore func(frame FrameIndex) bool
}

// DollController replays a remote authority's input stream on its own,
// independent timeline, reconciled against server snapshots (spec.md
// §4.3.4). Its timeline advances only when it has an input to consume,
// or, if guessing is enabled, by substituting the nearest neighbour.
type DollController struct {
	hooks DollHooks

	framesInput          []FrameInput
	currentInputBufferID FrameIndex

	// queuedInstantToProcess >= 0 means the reconciliation driver is
	// rewinding this doll; -1 means normal, independent ticking.
	queuedInstantToProcess    int
	queuedFrameIndexToProcess FrameIndex
}

// NewDollController constructs a DollController.
func NewDollController(hooks DollHooks) *DollController {
	return &DollController{
		hooks:                  hooks,
		currentInputBufferID:   NoneFrame,
		queuedInstantToProcess: -1,
	}
}

// ResetToFresh clears the doll's frame counter back to NoneFrame and
// cancels any in-progress rewind. It is the setter DecideLagCompensation's
// ApplyImmediate branch calls for ("the server has not yet started
// simulating this doll"): the next Process call restarts from frame 0
// the same way a brand new DollController would.
func (d *DollController) ResetToFresh() {
	d.currentInputBufferID = NoneFrame
	d.queuedInstantToProcess = -1
}

// JumpToFrame sets the doll's frame counter directly to id with no
// active rewind, for DecideLagCompensation's no-rewind-in-progress
// branch: the server snapshot for id has already been applied by the
// caller, and the next Process call continues from id.Next().
func (d *DollController) JumpToFrame(id FrameIndex) {
	d.currentInputBufferID = id
	d.queuedInstantToProcess = -1
}

// CurrentFrameIndex returns the doll's own, independent frame counter.
func (d *DollController) CurrentFrameIndex() FrameIndex {
	return d.currentInputBufferID
}

// ReceiveInputs parses the shared input packet format and merges it into
// the doll's retained deque, sorted and deduplicated by id. DollHooks
// has no input-size hook, so a packet holding any input with its
// has_data bit set is rejected with ErrMalformedInputPacket; only
// packets of no-data inputs are merged.
func (d *DollController) ReceiveInputs(raw []byte) error {
	_, inputs, err := decodeInputPacket(raw, Hooks{}, 0)
	if err != nil {
		return err
	}
	for _, fi := range inputs {
		d.insert(fi)
	}
	return nil
}

func (d *DollController) insert(fi FrameInput) {
	i := 0
	for ; i < len(d.framesInput); i++ {
		if d.framesInput[i].ID == fi.ID {
			return
		}
		if d.framesInput[i].ID > fi.ID {
			break
		}
	}
	d.framesInput = append(d.framesInput, FrameInput{})
	copy(d.framesInput[i+1:], d.framesInput[i:])
	d.framesInput[i] = fi
}

func (d *DollController) findByID(id FrameIndex) int {
	for i, fi := range d.framesInput {
		if fi.ID == id {
			return i
		}
	}
	return -1
}

// findNearest returns the index of the deque entry whose id is closest
// to target, or -1 if the deque is empty.
func (d *DollController) findNearest(target FrameIndex) int {
	best := -1
	var bestDist int64
	for i, fi := range d.framesInput {
		dist := int64(fi.ID) - int64(target)
		if dist < 0 {
			dist = -dist
		}
		if best == -1 || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return best
}

// SetRewindTarget tells the doll it is being driven by the global
// reconciliation rewind loop, at sub-step instant relative to
// frameIndexBase. Pass instant < 0 to resume independent ticking.
func (d *DollController) SetRewindTarget(frameIndexBase FrameIndex, instant int) {
	d.queuedFrameIndexToProcess = frameIndexBase
	d.queuedInstantToProcess = instant
}

// Process implements spec.md §4.3.4 steps 1-3.
func (d *DollController) Process(delta float64) {
	guess := config.Load().LagCompensation.DollAllowGuessInputWhenMissing

	var idx int
	var targetID FrameIndex

	if d.queuedInstantToProcess >= 0 {
		targetID = d.queuedFrameIndexToProcess + FrameIndex(d.queuedInstantToProcess)
		idx = d.findByID(targetID)
		if idx < 0 {
			// Open question (spec.md §9) resolved: stall. This also
			// covers current_input_buffer_id == NONE mid-rewind: the
			// doll simply does not advance for this sub-step rather
			// than guessing or pulling a fresh snapshot, so the
			// rewind loop's fixed step count is never perturbed. A
			// doll that has started uses the nearest input instead
			// when guessing is enabled.
			if !guess || d.currentInputBufferID.IsNone() {
				return
			}
			idx = d.findNearest(targetID)
			if idx < 0 {
				return
			}
		}
	} else {
		targetID = d.currentInputBufferID.Next()
		if d.currentInputBufferID.IsNone() {
			targetID = 0
		}
		idx = d.findByID(targetID)
		if idx < 0 {
			if !guess {
				return
			}
			idx = d.findNearest(targetID)
			if idx < 0 {
				return
			}
		}
	}

	fi := d.framesInput[idx]
	fi.ID = targetID // renumber a guessed neighbour to the expected id
	d.framesInput = append(d.framesInput[:idx], d.framesInput[idx+1:]...)

	if d.hooks.ApplySnapshotBefore != nil && targetID > 0 {
		d.hooks.ApplySnapshotBefore(targetID - 1)
	}
	d.currentInputBufferID = targetID

	if d.hooks.Process != nil {
		d.hooks.Process(inputBuffer(fi), delta)
	}
}

// LagCompensationDecision is the outcome of DecideLagCompensation: what
// the reconciliation driver should do with a doll upon receiving a fresh
// server snapshot for it.
type LagCompensationDecision struct {
	// ApplyImmediate means: apply the received snapshot as-is and reset
	// the doll's local frame to NONE (the server has not yet started
	// simulating this doll).
	ApplyImmediate bool

	// TargetFrame, when ApplyImmediate is false and RewindWindowLen==0,
	// is the frame whose snapshot should be applied with
	// current_input_buffer_id set to it directly (no active rewind).
	TargetFrame FrameIndex

	// RewindWindowStart/RewindWindowLen describe the
	// [start, start+len) window to search for a usable snapshot when a
	// rewind is in progress; the caller sets
	// queued_frame_index_to_process = start+1 if a snapshot in the
	// window is found.
	RewindWindowStart FrameIndex
	RewindWindowLen   int
}

// DecideLagCompensation implements spec.md §4.3.4's three-branch lag
// compensation algorithm. optimalQueuedInputs is documented by spec.md
// as "min_frames_delay (a constant today; documented as future-adaptive)".
func DecideLagCompensation(hasStartedSimulating bool, frameCountToRewind int, lastReceivedInputID FrameIndex, optimalQueuedInputs int) LagCompensationDecision {
	if !hasStartedSimulating {
		return LagCompensationDecision{ApplyImmediate: true}
	}
	if frameCountToRewind == 0 {
		target := int64(lastReceivedInputID) - int64(optimalQueuedInputs)
		if target < 0 {
			target = 0
		}
		return LagCompensationDecision{TargetFrame: FrameIndex(target)}
	}
	newStart := int64(lastReceivedInputID) - int64(frameCountToRewind+optimalQueuedInputs)
	if newStart < 0 {
		newStart = 0
	}
	return LagCompensationDecision{
		RewindWindowStart: FrameIndex(newStart),
		RewindWindowLen:   frameCountToRewind + optimalQueuedInputs,
	}
}

// OptimalQueuedInputs returns the documented-constant value for
// optimal_queued_inputs.
func OptimalQueuedInputs() int {
	return config.Load().MinFramesDelay
}

// NeedsForcedReconciliation implements spec.md §4.3.4's "Per-doll
// reconciliation check": a doll force-requests a rewind if it has
// accumulated an excess of buffered inputs.
func (d *DollController) NeedsForcedReconciliation(frameCountToRewind int) bool {
	cfg := config.Load().LagCompensation
	if frameCountToRewind < cfg.DollForceInputReconciliationMinFrames {
		return false
	}
	threshold := frameCountToRewind + OptimalQueuedInputs() + cfg.DollForceInputReconciliation
	return len(d.framesInput) > threshold
}
