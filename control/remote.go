package control

import (
	"math"

	"github.com/rhea-systems/netsync/config"
	"github.com/rhea-systems/netsync/databuffer"
)

// remotelyControlled is the state and fetchNextInput algorithm embedded
// by ServerController: an ordered deque of received FrameInput plus the
// stream-pause/ghost-input recovery logic of spec.md §4.3.2.
// AutonomousServerController does not use it; it collects its input
// locally each tick and keeps only its own frame counter.
type remotelyControlled struct {
	hooks Hooks

	framesInput          []FrameInput
	currentInputBufferID FrameIndex
	lastConsumed         FrameInput
	ghostInputCount      int
	streamingPaused      bool

	consecutiveInputWatcher *ring
	networkTimeWatcher      *ring
	lastReceivedAtMs        uint32

	observers map[PeerID]struct{}
}

func newRemotelyControlled(hooks Hooks) remotelyControlled {
	cfg := config.Load()
	return remotelyControlled{
		hooks:                   hooks,
		currentInputBufferID:    NoneFrame,
		consecutiveInputWatcher: newRing(cfg.NetworkTracedFrames),
		networkTimeWatcher:      newRing(cfg.NetworkTracedFrames),
		observers:               make(map[PeerID]struct{}),
	}
}

// CurrentFrameIndex returns the id of the last input this controller
// consumed.
func (r *remotelyControlled) CurrentFrameIndex() FrameIndex {
	return r.currentInputBufferID
}

// insertSorted inserts fi into framesInput keeping the deque sorted by id
// and deduplicated, per spec.md §5's ordering guarantee: "the receiver
// sorts by id on insert and deduplicates by id."
func (r *remotelyControlled) insertSorted(fi FrameInput) {
	// Drop inputs at or before what's already been consumed.
	if !r.currentInputBufferID.IsNone() && fi.ID <= r.currentInputBufferID {
		return
	}
	i := 0
	for ; i < len(r.framesInput); i++ {
		if r.framesInput[i].ID == fi.ID {
			return // duplicate
		}
		if r.framesInput[i].ID > fi.ID {
			break
		}
	}
	r.framesInput = append(r.framesInput, FrameInput{})
	copy(r.framesInput[i+1:], r.framesInput[i:])
	r.framesInput[i] = fi
}

// observeConsecutiveRun pushes the count of head entries forming an
// unbroken run starting at currentInputBufferID+1 into the consecutive
// input watcher.
func (r *remotelyControlled) observeConsecutiveRun() {
	expected := r.currentInputBufferID.Next()
	count := 0
	for _, fi := range r.framesInput {
		if fi.ID != expected {
			break
		}
		count++
		expected = expected.Next()
	}
	r.consecutiveInputWatcher.push(count)
}

// observeArrival pushes the inter-arrival jitter sample for a freshly
// received input into the network-time watcher.
func (r *remotelyControlled) observeArrival(receivedAtMs uint32, frameDeltaMs int) {
	if r.lastReceivedAtMs != 0 {
		gap := int(receivedAtMs) - int(r.lastReceivedAtMs) - frameDeltaMs
		if gap < 0 {
			gap = 0
		}
		r.networkTimeWatcher.push(gap)
	}
	r.lastReceivedAtMs = receivedAtMs
}

// ClientTickRateFeedback computes the signed per-tick speed-up/slow-down
// byte of spec.md §4.3.2's "Client tick-rate feedback".
func (r *remotelyControlled) ClientTickRateFeedback(frameDeltaMs int) int8 {
	cfg := config.Load()
	worst := r.networkTimeWatcher.max()
	optimal := math.Ceil(float64(worst)/float64(frameDeltaMs) - 0.05)
	if optimal < float64(cfg.MinFramesDelay) {
		optimal = float64(cfg.MinFramesDelay)
	}
	if optimal > float64(cfg.MaxFramesDelay) {
		optimal = float64(cfg.MaxFramesDelay)
	}
	current := math.Round(r.consecutiveInputWatcher.avg())
	distance := optimal - current
	if distance < -128 {
		distance = -128
	}
	if distance > 127 {
		distance = 127
	}
	return int8(distance)
}

// AddObserver registers a doll-owning peer that should receive a copy of
// every successfully parsed input packet for this controller (spec.md
// §4.3.2 "Peer pong").
func (r *remotelyControlled) AddObserver(p PeerID) {
	r.observers[p] = struct{}{}
}

// RemoveObserver undoes AddObserver.
func (r *remotelyControlled) RemoveObserver(p PeerID) {
	delete(r.observers, p)
}

// Observers returns the peers currently observing this controller's
// input stream.
func (r *remotelyControlled) Observers() []PeerID {
	out := make([]PeerID, 0, len(r.observers))
	for p := range r.observers {
		out = append(out, p)
	}
	return out
}

// fetchNextInput implements spec.md §4.3.2 step 1: select the input for
// current_input_buffer_id+1, falling back to stream-pause handling, ghost
// replay, or the forward-scan recovery when it is not immediately
// available.
func (r *remotelyControlled) fetchNextInput() FrameInput {
	if r.currentInputBufferID.IsNone() {
		if len(r.framesInput) == 0 {
			void := FrameInput{ID: 0, PayloadBitSize: 1}
			r.currentInputBufferID = 0
			r.lastConsumed = void
			return void
		}
		head := r.framesInput[0]
		r.framesInput = r.framesInput[1:]
		r.currentInputBufferID = head.ID
		r.lastConsumed = head
		return head
	}

	nextID := r.currentInputBufferID.Next()

	if r.streamingPaused {
		if len(r.framesInput) > 0 && r.framesInput[0].ID >= nextID && r.framesInput[0].HasData() {
			head := r.framesInput[0]
			r.framesInput = r.framesInput[1:]
			r.streamingPaused = false
			r.currentInputBufferID = head.ID
			r.lastConsumed = head
			r.ghostInputCount = 0
			return head
		}
		void := FrameInput{ID: nextID, PayloadBitSize: 1}
		r.currentInputBufferID = nextID
		r.lastConsumed = void
		return void
	}

	if len(r.framesInput) == 0 {
		r.ghostInputCount++
		replay := r.lastConsumed
		replay.ID = nextID
		r.currentInputBufferID = nextID
		r.lastConsumed = replay
		if !replay.HasData() {
			r.streamingPaused = true
		}
		return replay
	}

	if r.framesInput[0].ID == nextID {
		head := r.framesInput[0]
		r.framesInput = r.framesInput[1:]
		r.ghostInputCount = 0
		r.currentInputBufferID = nextID
		r.lastConsumed = head
		if !head.HasData() {
			r.streamingPaused = true
		}
		return head
	}

	// Gap: the head is for a later frame than expected. Scan forward a
	// budget of entries looking either for one within reach of the
	// current ghost budget, or one whose payload genuinely differs from
	// what we last consumed (meaning it's worth jumping to).
	limit := r.ghostInputCount
	if limit > len(r.framesInput) {
		limit = len(r.framesInput)
	}
	ghostPacketID := nextID + FrameIndex(r.ghostInputCount)

	discard := 0
	foundIdx := -1
	for i := 0; i < limit; i++ {
		entry := r.framesInput[i]
		if entry.ID <= ghostPacketID {
			discard = i + 1
			continue
		}
		if r.inputsDiffer(entry) {
			foundIdx = i
			break
		}
		discard = i + 1
	}

	if foundIdx >= 0 {
		recovered := r.framesInput[foundIdx]
		r.framesInput = r.framesInput[foundIdx+1:]
		r.ghostInputCount = 0
		r.currentInputBufferID = recovered.ID
		r.lastConsumed = recovered
		return recovered
	}

	r.framesInput = r.framesInput[discard:]
	r.ghostInputCount++
	replay := r.lastConsumed
	replay.ID = nextID
	r.currentInputBufferID = nextID
	r.lastConsumed = replay
	return replay
}

func (r *remotelyControlled) inputsDiffer(entry FrameInput) bool {
	if r.hooks.AreInputsDifferent == nil {
		return true
	}
	a := databuffer.NewFromBytes(r.lastConsumed.Payload)
	a.ShrinkTo(0, int(r.lastConsumed.PayloadBitSize))
	a.BeginRead()
	a.Skip(1)
	b := databuffer.NewFromBytes(entry.Payload)
	b.ShrinkTo(0, int(entry.PayloadBitSize))
	b.BeginRead()
	b.Skip(1)
	return r.hooks.AreInputsDifferent(a, b)
}

// inputBuffer reconstructs a positioned DataBuffer over fi's payload,
// ready for the application's process hook.
func inputBuffer(fi FrameInput) *databuffer.DataBuffer {
	buf := databuffer.NewFromBytes(fi.Payload)
	buf.ShrinkTo(0, int(fi.PayloadBitSize))
	buf.BeginRead()
	return buf
}
