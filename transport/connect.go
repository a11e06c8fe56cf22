package transport

import (
	"context"
	"errors"

	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/internal/backoff"
)

// ErrPeerNotConnected is returned by WaitForPeerConnection's probe when
// the peer isn't connected yet.
var ErrPeerNotConnected = errors.New("transport: peer not yet connected")

// WaitForPeerConnection blocks (bootstrap-time only, never from inside
// the tick loop) until isConnected reports peer as connected or the
// policy's attempt budget is exhausted.
func WaitForPeerConnection(ctx context.Context, policy backoff.Policy, peer control.PeerID, isConnected func(control.PeerID) bool) error {
	return backoff.Run(ctx, policy, func(ctx context.Context) error {
		if isConnected(peer) {
			return nil
		}
		return ErrPeerNotConnected
	})
}
