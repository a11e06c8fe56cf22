package control

import "github.com/rhea-systems/netsync/databuffer"

// NoNetController is used when there is no network at all: it collects,
// writes, and immediately consumes local input every tick, with a simple
// monotone frame counter (spec.md §4.3.5).
type NoNetController struct {
	hooks   Hooks
	current FrameIndex
}

// NewNoNetController constructs a NoNetController.
func NewNoNetController(hooks Hooks) *NoNetController {
	return &NoNetController{hooks: hooks, current: NoneFrame}
}

// CurrentFrameIndex returns the local monotone frame counter.
func (n *NoNetController) CurrentFrameIndex() FrameIndex {
	return n.current
}

// ReceiveInputs is a no-op: there is no network to receive from.
func (n *NoNetController) ReceiveInputs(raw []byte) error {
	return nil
}

// Process collects, writes, and consumes one input.
func (n *NoNetController) Process(delta float64) {
	if n.current.IsNone() {
		n.current = 0
	} else {
		n.current = n.current.Next()
	}
	if n.hooks.Process == nil {
		return
	}
	payload, bitSize := collectInput(n.hooks)
	buf := databuffer.NewFromBytes(payload)
	buf.ShrinkTo(0, bitSize)
	buf.BeginRead()
	n.hooks.Process(buf, delta)
}
