package control

import (
	"github.com/rhea-systems/netsync/config"
	"github.com/rhea-systems/netsync/databuffer"
)

// PlayerController is the local-authority controller on a client
// (spec.md §4.3.1): it collects local input, advances local simulation
// speculatively, and redundantly transmits its recent inputs to the
// server.
type PlayerController struct {
	hooks Hooks

	framesInput          []FrameInput
	inputBuffersCounter  FrameIndex
	currentInputID       FrameIndex
	queuedInstantToProcess int // -1 when not being driven by a rewind

	sentStreamPaused bool

	// Send transmits one encoded input datagram to the server.
	Send func(raw []byte)
}

// NewPlayerController constructs a PlayerController with the given
// application hooks.
func NewPlayerController(hooks Hooks) *PlayerController {
	return &PlayerController{
		hooks:                  hooks,
		inputBuffersCounter:    0,
		currentInputID:         NoneFrame,
		queuedInstantToProcess: -1,
	}
}

// CurrentFrameIndex returns the id of the input currently driving local
// simulation.
func (p *PlayerController) CurrentFrameIndex() FrameIndex {
	return p.currentInputID
}

// ReceiveInputs is a no-op: the player is the authority for its own
// input stream and never receives it back.
func (p *PlayerController) ReceiveInputs(raw []byte) error {
	return nil
}

// NotifyFrameChecked drops stored inputs the server has acknowledged up
// to and including lastChecked (spec.md §4.3.1 step 1).
func (p *PlayerController) NotifyFrameChecked(lastChecked FrameIndex) {
	i := 0
	for ; i < len(p.framesInput); i++ {
		if p.framesInput[i].ID > lastChecked {
			break
		}
	}
	p.framesInput = p.framesInput[i:]
}

// SetQueuedInstantToProcess tells the controller which retained input
// index to replay on the next Process call, driven by the reconciliation
// rewind loop. Pass -1 to resume normal local collection.
func (p *PlayerController) SetQueuedInstantToProcess(idx int) {
	p.queuedInstantToProcess = idx
}

// CanAcceptNewInputs reports whether the retained deque has room for
// another locally collected input.
func (p *PlayerController) CanAcceptNewInputs() bool {
	return len(p.framesInput) < config.Load().ClientMaxFramesStorageSize
}

// ApplyTickRateFeedback biases the caller's fixed-step accumulator by one
// frame step per unit of distance (SPEC_FULL.md §12); this controller
// only reports the bias, since owning the host's tick accumulator is the
// host's responsibility, not the core's.
func (p *PlayerController) ApplyTickRateFeedback(distance int8) int {
	return int(distance)
}

// Process implements spec.md §4.3.1: replay a queued rewind instant if
// one is set; otherwise, when the retained deque has room, collect a new
// input, run the process hook on it and send to the server. When the
// deque already holds ClientMaxFramesStorageSize inputs, the tick does
// nothing: no input is collected, the process hook does not run and
// nothing is sent.
func (p *PlayerController) Process(delta float64) {
	if p.queuedInstantToProcess >= 0 {
		idx := p.queuedInstantToProcess
		if idx >= len(p.framesInput) {
			return
		}
		fi := p.framesInput[idx]
		p.currentInputID = fi.ID
		if p.hooks.Process != nil {
			p.hooks.Process(inputBuffer(fi), delta)
		}
		return
	}

	if p.CanAcceptNewInputs() {
		payload, bitSize := collectInput(p.hooks)
		fi := FrameInput{
			ID:             p.inputBuffersCounter,
			Payload:        payload,
			PayloadBitSize: uint16(bitSize),
			Similarity:     NoneFrame,
		}
		p.framesInput = append(p.framesInput, fi)
		p.inputBuffersCounter = p.inputBuffersCounter.Next()
		p.currentInputID = fi.ID

		if p.hooks.Process != nil {
			p.hooks.Process(inputBuffer(fi), delta)
		}
		p.sendFrameInputBuffer()
	}
}

// sendFrameInputBuffer implements the redundant-send/stream-pause/
// similarity-memoization policy of spec.md §4.3.1's "Send policy".
func (p *PlayerController) sendFrameInputBuffer() {
	if len(p.framesInput) == 0 || p.Send == nil {
		return
	}

	last := p.framesInput[len(p.framesInput)-1]
	if !last.HasData() {
		if p.sentStreamPaused {
			return
		}
		p.sentStreamPaused = true
	} else {
		p.sentStreamPaused = false
	}

	cfg := config.Load()
	inputsCount := cfg.MaxRedundantInputs + 1
	if inputsCount > len(p.framesInput) {
		inputsCount = len(p.framesInput)
	}
	start := len(p.framesInput) - inputsCount
	firstID := p.framesInput[start].ID

	var groups []inputPacketGroup
	previousID := NoneFrame
	previousSimilarity := NoneFrame
	var previousPayload []byte
	var previousBitSize int
	duplicationCount := 0

	for i := start; i < len(p.framesInput); i++ {
		entry := p.framesInput[i]
		isSimilar := false

		switch {
		case previousID.IsNone():
			isSimilar = false
		case duplicationCount == 255:
			isSimilar = false
		case entry.Similarity != previousID:
			switch {
			case entry.Similarity.IsNone():
				isSimilar = !p.payloadsDiffer(previousPayload, previousBitSize, entry.Payload, int(entry.PayloadBitSize))
			case entry.Similarity == previousSimilarity:
				isSimilar = true
			default:
				isSimilar = false
			}
		default:
			isSimilar = true
		}

		if isSimilar {
			duplicationCount++
			p.framesInput[i].Similarity = previousID
		} else {
			if !previousID.IsNone() {
				groups = append(groups, inputPacketGroup{
					Payload:          previousPayload,
					PayloadBitSize:   previousBitSize,
					DuplicationCount: uint8(duplicationCount),
				})
			}
			duplicationCount = 0
			previousID = entry.ID
			previousSimilarity = entry.Similarity
			previousPayload = entry.Payload
			previousBitSize = int(entry.PayloadBitSize)
		}
	}
	groups = append(groups, inputPacketGroup{
		Payload:          previousPayload,
		PayloadBitSize:   previousBitSize,
		DuplicationCount: uint8(duplicationCount),
	})

	p.Send(encodeInputPacket(firstID, groups))
}

func (p *PlayerController) payloadsDiffer(aBytes []byte, aBits int, bBytes []byte, bBits int) bool {
	if p.hooks.AreInputsDifferent == nil {
		return true
	}
	a := databuffer.NewFromBytes(aBytes)
	a.ShrinkTo(0, aBits)
	a.BeginRead()
	a.Skip(1)
	b := databuffer.NewFromBytes(bBytes)
	b.ShrinkTo(0, bBits)
	b.BeginRead()
	b.Skip(1)
	return p.hooks.AreInputsDifferent(a, b)
}
