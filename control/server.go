package control

import (
	"github.com/rhea-systems/netsync/config"
)

// ServerController is the server-side controller for a peer whose
// authority is that remote peer (spec.md §4.3.2). It is also referred to
// in the wire-level docs as "remote authority on the server".
type ServerController struct {
	remotelyControlled
	// ForwardInputPacket, when set, is called with the exact bytes of
	// every successfully parsed input packet once for each peer
	// currently observing this controller (the doll "peer pong" of
	// spec.md §4.3.2 / SPEC_FULL.md §12).
	ForwardInputPacket func(observer PeerID, raw []byte)
	nowMs              func() uint32
}

// NewServerController constructs a ServerController with the given
// application hooks.
func NewServerController(hooks Hooks, nowMs func() uint32) *ServerController {
	return &ServerController{
		remotelyControlled: newRemotelyControlled(hooks),
		nowMs:              nowMs,
	}
}

// ReceiveInputs parses an input datagram and merges its entries into the
// ordered deque. A malformed packet is dropped in its entirety (spec.md
// §7 bullet 2); well-formed packets are additionally echoed to any peers
// observing this controller.
func (s *ServerController) ReceiveInputs(raw []byte) error {
	now := uint32(0)
	if s.nowMs != nil {
		now = s.nowMs()
	}
	_, inputs, err := decodeInputPacket(raw, s.hooks, now)
	if err != nil {
		return err
	}
	frameDeltaMs := int(config.Load().FixedFrameDelta.Milliseconds())
	for _, fi := range inputs {
		s.insertSorted(fi)
	}
	s.observeArrival(now, frameDeltaMs)

	if s.ForwardInputPacket != nil {
		for _, p := range s.Observers() {
			s.ForwardInputPacket(p, raw)
		}
	}
	return nil
}

// Process selects the next input via the fetch/ghost-recovery algorithm
// and advances the application simulation with it.
func (s *ServerController) Process(delta float64) {
	s.observeConsecutiveRun()
	fi := s.fetchNextInput()
	if s.hooks.Process != nil {
		s.hooks.Process(inputBuffer(fi), delta)
	}
}
