package main

import (
	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/databuffer"
)

// loopbackNet is a toy transport.NetworkInterface for a single-peer host
// (a client or a doll-observer in the demo), always talking to the
// server. onRPC is set by the caller once the server host exists.
type loopbackNet struct {
	local control.PeerID
	onRPC func(sender control.PeerID, raw []byte) error
}

func (l *loopbackNet) ServerPeerID() control.PeerID { return control.ServerPeerID }
func (l *loopbackNet) LocalPeerID() control.PeerID  { return l.local }

func (l *loopbackNet) OnPeerConnected(fn func(control.PeerID))    {}
func (l *loopbackNet) OnPeerDisconnected(fn func(control.PeerID)) {}

// Send hands the RPC datagram straight to the server's dispatcher.
func (l *loopbackNet) Send(peer control.PeerID, reliable bool, buf *databuffer.DataBuffer) {
	if l.onRPC != nil {
		l.onRPC(l.local, buf.GetBytes())
	}
}

// remotePeerLink is one connected peer's inbound RPC handler, as seen
// from the server's multiplexed side.
type remotePeerLink struct {
	onRPC func(sender control.PeerID, raw []byte) error
}

// serverNet is the server's toy transport.NetworkInterface: unlike
// loopbackNet it fans Send out to whichever of several connected peers
// the caller addressed, the way a real socket's peer table would.
type serverNet struct {
	local       control.PeerID
	onConnected func(control.PeerID)
	peers       map[control.PeerID]*remotePeerLink
}

func newServerNet() *serverNet {
	return &serverNet{local: control.ServerPeerID, peers: make(map[control.PeerID]*remotePeerLink)}
}

func (s *serverNet) ServerPeerID() control.PeerID { return control.ServerPeerID }
func (s *serverNet) LocalPeerID() control.PeerID  { return s.local }

func (s *serverNet) OnPeerConnected(fn func(control.PeerID))    { s.onConnected = fn }
func (s *serverNet) OnPeerDisconnected(fn func(control.PeerID)) {}

func (s *serverNet) Send(peer control.PeerID, reliable bool, buf *databuffer.DataBuffer) {
	link, ok := s.peers[peer]
	if !ok || link.onRPC == nil {
		return
	}
	link.onRPC(s.local, buf.GetBytes())
}

// connect registers peer as newly connected, firing the host's
// OnPeerConnected callback, and returns the link the caller wires its
// HandleRPCDatagram into.
func (s *serverNet) connect(peer control.PeerID) *remotePeerLink {
	link := &remotePeerLink{}
	s.peers[peer] = link
	if s.onConnected != nil {
		s.onConnected(peer)
	}
	return link
}
