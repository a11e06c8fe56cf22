// Package control implements PeerNetworkedController and its five role
// variants: the per-peer state machines that source, pack, transmit,
// resynchronize, and consume one fixed-step input stream each.
//
// Role dispatch follows a tagged-variant shape rather than virtual
// inheritance: Role names which concrete controller a PeerNetworkedController
// wraps, and RoleController is the small capability interface every variant
// satisfies.
package control

import (
	"math"

	"github.com/rhea-systems/netsync/databuffer"
)

// FrameIndex is a monotone unsigned counter identifying one fixed-step
// tick of one peer's input stream. Arithmetic saturates only at NoneFrame.
type FrameIndex uint32

// NoneFrame is the reserved sentinel meaning "no frame".
const NoneFrame FrameIndex = math.MaxUint32

// IsNone reports whether f is the NoneFrame sentinel.
func (f FrameIndex) IsNone() bool {
	return f == NoneFrame
}

// Next returns f+1, saturating at NoneFrame.
func (f FrameIndex) Next() FrameIndex {
	if f.IsNone() || f == NoneFrame-1 {
		return NoneFrame
	}
	return f + 1
}

// PeerID identifies one network peer. 0 means "no peer" and 1
// conventionally identifies the server.
type PeerID uint32

// ServerPeerID is the conventional id of the server peer.
const ServerPeerID PeerID = 1

// FrameInput is one frame's worth of collected or received input.
type FrameInput struct {
	ID             FrameIndex
	Payload        []byte // raw bytes of the application's input payload, metadata bit included
	PayloadBitSize uint16
	Similarity     FrameIndex // id of an earlier input this one is byte-equivalent to, or NoneFrame
	ReceivedAtMs   uint32
}

// HasData reports whether the payload carries more than just the leading
// metadata bit (i.e. payload_bit_size > 1).
func (fi FrameInput) HasData() bool {
	return fi.PayloadBitSize > 1
}

// Role names which concrete controller a PeerNetworkedController wraps.
type Role int

const (
	RoleNoNet Role = iota
	RoleServer
	RoleAutonomousServer
	RolePlayer
	RoleDoll
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleAutonomousServer:
		return "autonomous-server"
	case RolePlayer:
		return "player"
	case RoleDoll:
		return "doll"
	default:
		return "no-net"
	}
}

// SelectRole implements spec.md's role selection table.
func SelectRole(authority, local PeerID, localIsServer, networked bool) Role {
	if !networked {
		return RoleNoNet
	}
	if authority == local {
		if localIsServer {
			return RoleAutonomousServer
		}
		return RolePlayer
	}
	if localIsServer {
		return RoleServer
	}
	return RoleDoll
}

// RoleController is the capability set every role variant implements. It
// is the "virtual" contract PeerNetworkedController dispatches to without
// using interface-based inheritance for the role types themselves.
type RoleController interface {
	Process(delta float64)
	ReceiveInputs(data []byte) error
	CurrentFrameIndex() FrameIndex
}

// Hooks are the application-provided callbacks every role variant needs.
// They stand in for the host scene graph / simulation function, which is
// explicitly out of scope for this module (spec.md §1).
type Hooks struct {
	// CollectInput fills buf with this tick's local input, returning the
	// number of bits written (0 meaning "no input this tick").
	CollectInput func(buf *databuffer.DataBuffer) int
	// CountInputSize reports how many additional bits follow the
	// leading has_data metadata bit, read from buf positioned right
	// after that bit.
	CountInputSize func(buf *databuffer.DataBuffer) int
	// AreInputsDifferent reports whether two input payloads, positioned
	// past their metadata bit, differ in application-meaningful ways.
	AreInputsDifferent func(a, b *databuffer.DataBuffer) bool
	// Process advances local simulation using buf as the active inputs
	// buffer for this tick.
	Process func(buf *databuffer.DataBuffer, delta float64)
}
