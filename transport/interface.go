// Package transport defines the network boundary this module consumes
// (spec.md §6): a small NetworkInterface contract the host implements
// over whatever real transport it has, plus the RPC datagram codec and
// dispatch table that sits on top of it.
package transport

import (
	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/databuffer"
)

// NetworkInterface is the transport contract the host supplies.
// Implementations are expected to be thin: this module never owns
// sockets directly.
type NetworkInterface interface {
	ServerPeerID() control.PeerID
	LocalPeerID() control.PeerID

	OnPeerConnected(fn func(control.PeerID))
	OnPeerDisconnected(fn func(control.PeerID))

	// Send transmits buf to peer. The core never awaits the result
	// (spec.md §5): implementations must not block the caller.
	Send(peer control.PeerID, reliable bool, buf *databuffer.DataBuffer)
}
