package control

import (
	"log/slog"

	"github.com/rhea-systems/netsync/databuffer"
)

// AutonomousServerController is used when the server itself hosts the
// authoritative player for a controller (spec.md §4.3.3): inputs are
// collected locally each tick rather than received over the wire.
type AutonomousServerController struct {
	hooks                Hooks
	currentInputBufferID FrameIndex
	log                  *slog.Logger
}

// NewAutonomousServerController constructs an AutonomousServerController.
func NewAutonomousServerController(hooks Hooks, log *slog.Logger) *AutonomousServerController {
	if log == nil {
		log = slog.Default()
	}
	return &AutonomousServerController{
		hooks:                hooks,
		currentInputBufferID: NoneFrame,
		log:                  log,
	}
}

// CurrentFrameIndex returns the id of the locally collected input last
// processed.
func (a *AutonomousServerController) CurrentFrameIndex() FrameIndex {
	return a.currentInputBufferID
}

// ReceiveInputs is a no-op: an autonomous server never receives this
// controller's inputs over the wire.
func (a *AutonomousServerController) ReceiveInputs(raw []byte) error {
	a.log.Warn("autonomous server controller received unexpected input packet", "bytes", len(raw))
	return nil
}

// Process collects this tick's input locally and advances the
// application simulation with it.
func (a *AutonomousServerController) Process(delta float64) {
	if a.currentInputBufferID.IsNone() {
		a.currentInputBufferID = 0
	} else {
		a.currentInputBufferID = a.currentInputBufferID.Next()
	}
	if a.hooks.Process == nil {
		return
	}
	payload, bitSize := collectInput(a.hooks)
	buf := databuffer.NewFromBytes(payload)
	buf.ShrinkTo(0, bitSize)
	buf.BeginRead()
	a.hooks.Process(buf, delta)
}
