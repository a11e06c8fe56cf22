// Command netsyncd is a minimal demo driver: it wires a server Host, a
// player client Host, and a third doll-observer Host together over an
// in-process loopback transport and runs all three fixed-step tick loops
// long enough to show a PlayerController's input reaching the server,
// the server echoing it to the doll-observer via peer-pong, and an
// injected client misprediction reconciling back through an actual
// rewind. It is not a production entry point; embedding applications
// construct netsync.Host directly against their own NetworkInterface.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/rhea-systems/netsync/config"
	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/databuffer"
	"github.com/rhea-systems/netsync/internal/logging"
	"github.com/rhea-systems/netsync/netsync"
	"github.com/rhea-systems/netsync/reconcile"
	"github.com/rhea-systems/netsync/syncgroup"
)

func main() {
	log := logging.New(os.Stdout, logging.Options{Level: slog.LevelInfo, UseColor: true})
	config.Init()

	const clientPeer = control.PeerID(2)
	const dollObserverPeer = control.PeerID(3)

	serverSide := newServerNet()
	clientSide := &loopbackNet{local: clientPeer}
	dollSide := &loopbackNet{local: dollObserverPeer}

	nowMs := func() uint32 { return uint32(time.Now().UnixMilli()) }

	serverHost := netsync.New(serverSide, true, log.With("role", "server"))
	clientHost := netsync.New(clientSide, false, log.With("role", "client"))
	dollHost := netsync.New(dollSide, false, log.With("role", "doll-observer"))
	serverHost.NowMs, clientHost.NowMs, dollHost.NowMs = nowMs, nowMs, nowMs

	var authoritativePosition int
	serverObj := &syncgroup.ObjectData{NetID: 1, ControlledByPeer: clientPeer}
	serverObj.Vars = []*syncgroup.VarDescriptor{{
		Name: "x",
		Get:  func() any { return authoritativePosition },
		Set:  func(v any) { authoritativePosition = v.(int) },
	}}
	serverHost.RegisterObject(serverObj)

	var predictedPosition int
	clientObj := &syncgroup.ObjectData{NetID: 1, ControlledByPeer: clientPeer}
	clientObj.Vars = []*syncgroup.VarDescriptor{{
		Name: "x",
		Get:  func() any { return predictedPosition },
		Set:  func(v any) { predictedPosition = v.(int) },
	}}
	clientHost.RegisterObject(clientObj)

	server := control.NewServerController(control.Hooks{
		Process: func(buf *databuffer.DataBuffer, delta float64) {
			authoritativePosition++
		},
	}, nowMs)
	serverHost.RegisterController(clientPeer, control.NewPeerNetworkedController(clientPeer, control.RoleServer, server))

	group := syncgroup.New()
	serverHost.AddSyncGroup(group)
	group.AddSyncObject(serverObj, true)

	clientLink := serverSide.connect(clientPeer)
	clientLink.onRPC = clientHost.HandleRPCDatagram
	clientSide.onRPC = serverHost.HandleRPCDatagram

	dollLink := serverSide.connect(dollObserverPeer)
	dollLink.onRPC = dollHost.HandleRPCDatagram
	dollSide.onRPC = serverHost.HandleRPCDatagram

	var dollPosition int
	dollHost.DollHooksFactory = func(authority control.PeerID) control.DollHooks {
		return control.DollHooks{
			Process: func(buf *databuffer.DataBuffer, delta float64) {
				dollPosition++
			},
		}
	}
	dollObj := &syncgroup.ObjectData{NetID: 1, ControlledByPeer: clientPeer}
	dollObj.Vars = []*syncgroup.VarDescriptor{{
		Name: "x",
		Get:  func() any { return dollPosition },
		Set:  func(v any) { dollPosition = v.(int) },
	}}
	dollHost.RegisterObject(dollObj)

	player := control.NewPlayerController(control.Hooks{
		Process: func(buf *databuffer.DataBuffer, delta float64) {
			predictedPosition++
		},
	})
	player.Send = func(raw []byte) { serverHost.HandleInputDatagram(clientPeer, raw) }
	clientHost.RegisterController(control.ServerPeerID, control.NewPeerNetworkedController(clientPeer, control.RolePlayer, player))

	ctx := context.Background()
	delta := 1.0 / 60.0

	for i := 0; i < 180; i++ {
		if err := serverHost.Tick(ctx, delta); err != nil {
			log.Error("server tick failed", "error", err)
			return
		}
		if err := clientHost.Tick(ctx, delta); err != nil {
			log.Error("client tick failed", "error", err)
			return
		}
		if err := dollHost.Tick(ctx, delta); err != nil {
			log.Error("doll tick failed", "error", err)
			return
		}

		// Inject a one-off misprediction: the client's speculative copy
		// drifts from the server's authoritative one, the way a dropped
		// or misapplied input would in a real session.
		if i == 50 {
			predictedPosition += 7
			log.Info("injecting client misprediction", "predicted", predictedPosition, "authoritative", authoritativePosition)
		}

		if i%30 == 0 {
			frame := serverHost.CurrentFrame()
			clientHost.Reconcile.RecordClientSnapshot(reconcile.Snapshot{
				InputID:    frame,
				ObjectVars: map[syncgroup.ObjectNetId][]reconcile.VarEntry{1: {{Name: "x", Value: predictedPosition}}},
			})
			clientHost.Reconcile.ReceiveServerSnapshot(reconcile.Snapshot{
				InputID:    frame,
				ObjectVars: map[syncgroup.ObjectNetId][]reconcile.VarEntry{1: {{Name: "x", Value: authoritativePosition}}},
			})
		}

		if i%45 == 0 {
			dollHost.ReceiveDollSnapshot(clientPeer, reconcile.DollSnapshot{
				DollExecutedInput: dollHost.CurrentFrame(),
				Data: reconcile.Snapshot{
					InputID:    dollHost.CurrentFrame(),
					ObjectVars: map[syncgroup.ObjectNetId][]reconcile.VarEntry{1: {{Name: "x", Value: authoritativePosition}}},
				},
			})
		}
	}

	log.Info("demo run complete",
		"server_frame", serverHost.CurrentFrame(),
		"client_frame", clientHost.CurrentFrame(),
		"authoritative_position", authoritativePosition,
		"predicted_position", predictedPosition,
		"doll_position", dollPosition,
	)
}
