// Package netsync assembles control, syncgroup, reconcile and transport
// into the single fixed-step host spec.md describes: one Host per
// process, owning one PeerNetworkedController per networked peer, one
// SyncGroup per top-level scene root, and (client-side) one reconcile
// Driver validating the local prediction against server snapshots.
package netsync

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhea-systems/netsync/config"
	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/databuffer"
	"github.com/rhea-systems/netsync/internal/registry"
	"github.com/rhea-systems/netsync/reconcile"
	"github.com/rhea-systems/netsync/syncgroup"
	"github.com/rhea-systems/netsync/transport"
)

// Global RPC indices the host itself owns, kept in a high range so they
// never collide with an embedding application's per-object indices.
const (
	rpcForwardedInput   uint8 = 250
	rpcTickRateFeedback uint8 = 251
	rpcPing             uint8 = 252
	rpcPong             uint8 = 253
)

// Cadence, in ticks, for the host's own periodic RPCs: half a second and
// one second respectively at a 60Hz fixed step.
const (
	tickRateFeedbackIntervalTicks = 30
	pingIntervalTicks             = 60
)

// Host is the top-level runtime object an embedding application
// constructs once. It does not own a socket: Net is supplied by the
// caller and only ever asked to Send (spec.md §5 — the core never
// blocks waiting on the network).
type Host struct {
	Net        transport.NetworkInterface
	Dispatcher *transport.Dispatcher
	Log        *slog.Logger

	// IsServer fixes this host's half of control.SelectRole.
	IsServer bool

	// NowMs sources wall-clock milliseconds for ping round-trip timing.
	// Defaults to time.Now in New.
	NowMs func() uint32

	// DollHooksFactory supplies the application Process hook for a
	// lazily constructed DollController the first time a peer-pong
	// forwarded input or snapshot names an authority this host hasn't
	// seen yet. May be left nil on hosts that never hold dolls (e.g. a
	// pure server).
	DollHooksFactory func(authority control.PeerID) control.DollHooks

	controllers *registry.Map[control.PeerID, *control.PeerNetworkedController]
	peers       *registry.Map[control.PeerID, *syncgroup.PeerData]
	objects     *registry.Map[syncgroup.ObjectNetId, *syncgroup.ObjectData]
	groups      []*syncgroup.SyncGroup

	// Reconcile is non-nil only on a host that is not the server: the
	// server is always the oracle it reconciles against (spec.md §4.4).
	Reconcile *reconcile.Driver

	player                 *control.PlayerController
	tickDelta              float64
	tickCounter            int
	lastFrameCountToRewind int
	tickRateBiasFrames     int

	currentFrame control.FrameIndex
}

// New constructs a Host. log may be nil, in which case slog.Default is
// used.
func New(net transport.NetworkInterface, isServer bool, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	h := &Host{
		Net:         net,
		Dispatcher:  transport.NewDispatcher(),
		Log:         log,
		IsServer:    isServer,
		NowMs:       func() uint32 { return uint32(time.Now().UnixMilli()) },
		controllers: registry.New[control.PeerID, *control.PeerNetworkedController](),
		peers:       registry.New[control.PeerID, *syncgroup.PeerData](),
		objects:     registry.New[syncgroup.ObjectNetId, *syncgroup.ObjectData](),

		currentFrame: control.NoneFrame,
	}
	if !isServer {
		h.Reconcile = reconcile.New(h.lookupObject, h.applyVar)
		h.bindReconcileEvents()
	}
	h.registerHostRPCs()
	net.OnPeerConnected(h.handlePeerConnected)
	net.OnPeerDisconnected(h.handlePeerDisconnected)
	return h
}

// bindReconcileEvents wires the rollback re-simulation of spec.md §4.5
// to package control: StateValidated drains everything the server just
// acknowledged (spec.md §4.3.1 step 1 and §3's tail-discard rule) for
// every outcome that reaches it, RewindFrameBegin replays the player and
// every doll through one rewound instant, and SnapshotApplied resumes
// normal ticking once the rewind loop completes.
func (h *Host) bindReconcileEvents() {
	h.Reconcile.StateValidated.Bind(func(ev reconcile.StateValidatedEvent) {
		if h.player != nil {
			h.player.NotifyFrameChecked(ev.Frame)
		}
		h.Reconcile.DropAcknowledged(ev.Frame)
	})
	h.Reconcile.RewindFrameBegin.Bind(func(ev reconcile.RewindFrameBeginEvent) {
		if h.player != nil {
			h.player.SetQueuedInstantToProcess(ev.Index)
			h.player.Process(h.tickDelta)
		}
		h.forEachDoll(func(doll *control.DollController) {
			doll.SetRewindTarget(ev.Frame, 0)
			doll.Process(h.tickDelta)
		})
	})
	h.Reconcile.SnapshotApplied.Bind(func(reconcile.SnapshotAppliedEvent) {
		if h.player != nil {
			h.player.SetQueuedInstantToProcess(-1)
		}
		h.forEachDoll(func(doll *control.DollController) {
			doll.SetRewindTarget(control.NoneFrame, -1)
		})
	})
}

// registerHostRPCs binds the handlers for the host-owned global RPCs
// (SPEC_FULL.md §12): peer-pong forwarded input, tick-rate feedback, and
// the ping/pong pair feeding PeerData.RecordRoundTrip.
func (h *Host) registerHostRPCs() {
	h.Dispatcher.RegisterGlobal(rpcForwardedInput, func(sender control.PeerID, args *databuffer.DataBuffer) {
		authority, err := args.ReadUint(databuffer.CompressionLevel1)
		if err != nil {
			return
		}
		payload, err := args.ReadString()
		if err != nil {
			return
		}
		doll := h.EnsureDollController(control.PeerID(authority))
		if err := doll.ReceiveInputs([]byte(payload)); err != nil {
			h.Log.Warn("forwarded input packet malformed", "authority", authority, "error", err)
		}
	})

	h.Dispatcher.RegisterGlobal(rpcTickRateFeedback, func(sender control.PeerID, args *databuffer.DataBuffer) {
		distance, err := args.ReadInt(databuffer.CompressionLevel3)
		if err != nil {
			return
		}
		if h.player == nil {
			return
		}
		h.tickRateBiasFrames = h.player.ApplyTickRateFeedback(int8(distance))
	})

	h.Dispatcher.RegisterGlobal(rpcPing, func(sender control.PeerID, args *databuffer.DataBuffer) {
		ts, err := args.ReadUint(databuffer.CompressionLevel1)
		if err != nil {
			return
		}
		h.sendRPC(sender, rpcPong, func(buf *databuffer.DataBuffer) {
			buf.AddUint(ts, databuffer.CompressionLevel1)
		})
	})

	h.Dispatcher.RegisterGlobal(rpcPong, func(sender control.PeerID, args *databuffer.DataBuffer) {
		ts, err := args.ReadUint(databuffer.CompressionLevel1)
		if err != nil {
			return
		}
		rtt := float64(h.nowMs()) - float64(ts)
		if pd, ok := h.peers.Get(sender); ok {
			pd.RecordRoundTrip(rtt)
		}
	})
}

func (h *Host) nowMs() uint32 {
	if h.NowMs != nil {
		return h.NowMs()
	}
	return uint32(time.Now().UnixMilli())
}

func (h *Host) sendRPC(peer control.PeerID, index uint8, writeArgs func(*databuffer.DataBuffer)) {
	if h.Net == nil {
		return
	}
	raw := transport.EncodeRPC(false, 0, index, writeArgs)
	h.Net.Send(peer, false, transport.BufferFromBytes(raw))
}

func (h *Host) forEachDoll(fn func(*control.DollController)) {
	for _, peer := range h.controllers.Keys() {
		c, ok := h.controllers.Get(peer)
		if !ok {
			continue
		}
		if doll, ok := c.AsDoll(); ok {
			fn(doll)
		}
	}
}

// TickRateBiasFrames reports the fixed-step accumulator bias the most
// recently received tick-rate feedback RPC requested (SPEC_FULL.md §12);
// the embedding application's own accumulator consults this, since owning
// that accumulator is the host's caller's responsibility, not the core's.
func (h *Host) TickRateBiasFrames() int {
	return h.tickRateBiasFrames
}

// AddSyncGroup registers a SyncGroup this host partitions objects into.
// On a server host, it also wires the group's simulating-peer
// transitions to AddObserver/RemoveObserver on the affected peer's
// ServerController, so the peer-pong input echo of spec.md §4.3.2 last
// paragraph actually reaches the listening dolls (SPEC_FULL.md §12).
func (h *Host) AddSyncGroup(g *syncgroup.SyncGroup) {
	h.groups = append(h.groups, g)
	if h.IsServer {
		g.OnPeerSimulatingChanged = func(listener, authority control.PeerID, simulating bool) {
			c, ok := h.controllers.Get(authority)
			if !ok {
				return
			}
			sc, ok := c.AsServer()
			if !ok {
				return
			}
			if simulating {
				sc.AddObserver(listener)
			} else {
				sc.RemoveObserver(listener)
			}
		}
	}
}

// RegisterController wires a peer's already-constructed role controller
// into the host, alongside its PeerData bookkeeping. A PlayerController
// is cached so the reconciliation rewind loop can drive it directly; a
// ServerController has its peer-pong forwarding hook wired to the host's
// forwarded-input RPC.
func (h *Host) RegisterController(peer control.PeerID, c *control.PeerNetworkedController) {
	h.controllers.Put(peer, c)
	if _, ok := h.peers.Get(peer); !ok {
		h.peers.Put(peer, syncgroup.NewPeerData())
	}
	if p, ok := c.AsPlayer(); ok {
		h.player = p
	}
	if h.IsServer {
		if sc, ok := c.AsServer(); ok {
			authority := c.AuthorityPeer
			sc.ForwardInputPacket = func(observer control.PeerID, raw []byte) {
				h.sendRPC(observer, rpcForwardedInput, func(buf *databuffer.DataBuffer) {
					buf.AddUint(uint64(authority), databuffer.CompressionLevel1)
					buf.AddString(string(raw))
				})
			}
		}
	}
}

// Controller returns the controller registered for peer, if any.
func (h *Host) Controller(peer control.PeerID) (*control.PeerNetworkedController, bool) {
	return h.controllers.Get(peer)
}

// PeerData returns the bookkeeping record for peer, if any.
func (h *Host) PeerData(peer control.PeerID) (*syncgroup.PeerData, bool) {
	return h.peers.Get(peer)
}

// RemovePeer drops peer's controller and bookkeeping, e.g. on
// disconnect.
func (h *Host) RemovePeer(peer control.PeerID) {
	h.controllers.Delete(peer)
	h.peers.Delete(peer)
}

// RegisterObject tracks object under netID so RPC dispatch and
// reconciliation lookups can find it, and flushes any RPCs withheld
// pending its spawn.
func (h *Host) RegisterObject(object *syncgroup.ObjectData) {
	h.objects.Put(object.NetID, object)
	h.Dispatcher.ObjectSpawned(object.NetID)
}

// UnregisterObject drops object's bookkeeping, e.g. on despawn.
func (h *Host) UnregisterObject(netID syncgroup.ObjectNetId) {
	h.objects.Delete(netID)
}

func (h *Host) lookupObject(netID syncgroup.ObjectNetId) *syncgroup.ObjectData {
	obj, _ := h.objects.Get(netID)
	return obj
}

func (h *Host) applyVar(netID syncgroup.ObjectNetId, name string, value any) {
	obj := h.lookupObject(netID)
	if obj == nil {
		h.Log.Warn("reconcile applied a var for an unregistered object", "object", netID, "var", name)
		return
	}
	v := obj.VarByName(name)
	if v == nil {
		h.Log.Warn("reconcile applied an unknown var", "object", netID, "var", name)
		return
	}
	if v.Set != nil {
		v.Set(value)
	}
	v.LastValue = value
}

func (h *Host) applySnapshotVars(snap reconcile.Snapshot) {
	for netID, vars := range snap.ObjectVars {
		for _, v := range vars {
			h.applyVar(netID, v.Name, v.Value)
		}
	}
}

// EnsureDollController returns the DollController registered for
// authority, lazily constructing one (via DollHooksFactory) the first
// time a peer-pong forwarded input or doll snapshot names a authority
// this host hasn't seen before (spec.md §4.3.4).
func (h *Host) EnsureDollController(authority control.PeerID) *control.DollController {
	if c, ok := h.controllers.Get(authority); ok {
		if d, ok := c.AsDoll(); ok {
			return d
		}
	}
	var hooks control.DollHooks
	if h.DollHooksFactory != nil {
		hooks = h.DollHooksFactory(authority)
	}
	hooks.ApplySnapshotBefore = func(frame control.FrameIndex) bool {
		if h.Reconcile == nil {
			return false
		}
		snap, ok := h.Reconcile.FindDollSnapshot(authority, frame)
		if !ok {
			return false
		}
		h.applySnapshotVars(snap.Data)
		return true
	}
	doll := control.NewDollController(hooks)
	h.controllers.Put(authority, control.NewPeerNetworkedController(authority, control.RoleDoll, doll))
	return doll
}

// ReceiveDollSnapshot records a freshly arrived server snapshot for a
// doll-held authority and applies spec.md §4.3.4's three-branch lag
// compensation decision to it; it is also the one place that owns a live
// DollController, so it's where NeedsForcedReconciliation (SPEC_FULL.md
// §12) is consulted.
func (h *Host) ReceiveDollSnapshot(authority control.PeerID, snap reconcile.DollSnapshot) {
	if h.Reconcile == nil {
		return
	}
	h.Reconcile.RecordDollSnapshot(authority, snap)
	doll := h.EnsureDollController(authority)

	if doll.NeedsForcedReconciliation(h.lastFrameCountToRewind) {
		h.Log.Warn("doll accumulated excess buffered input, forcing reconciliation", "authority", authority)
	}

	hasStarted := !doll.CurrentFrameIndex().IsNone()
	decision := control.DecideLagCompensation(hasStarted, h.lastFrameCountToRewind, snap.DollExecutedInput, control.OptimalQueuedInputs())

	switch {
	case decision.ApplyImmediate:
		h.applySnapshotVars(snap.Data)
		doll.ResetToFresh()
	case decision.RewindWindowLen > 0:
		found := false
		for i := 0; i < decision.RewindWindowLen; i++ {
			if _, ok := h.Reconcile.FindDollSnapshot(authority, decision.RewindWindowStart+control.FrameIndex(i)); ok {
				found = true
				break
			}
		}
		if found {
			doll.SetRewindTarget(decision.RewindWindowStart+1, 0)
		}
	default:
		for f := int64(decision.TargetFrame); f >= 0; f-- {
			if s, ok := h.Reconcile.FindDollSnapshot(authority, control.FrameIndex(f)); ok {
				h.applySnapshotVars(s.Data)
				break
			}
		}
		doll.JumpToFrame(decision.TargetFrame)
	}
}

func (h *Host) handlePeerConnected(peer control.PeerID) {
	if _, ok := h.peers.Get(peer); !ok {
		h.peers.Put(peer, syncgroup.NewPeerData())
	}
	for _, g := range h.groups {
		g.AddListeningPeer(peer)
	}
}

func (h *Host) handlePeerDisconnected(peer control.PeerID) {
	for _, g := range h.groups {
		g.RemoveListeningPeer(peer)
	}
	h.RemovePeer(peer)
}

// HandleInputDatagram routes a received input packet to sender's
// controller.
func (h *Host) HandleInputDatagram(sender control.PeerID, raw []byte) error {
	c, ok := h.controllers.Get(sender)
	if !ok {
		return nil
	}
	return c.ReceiveInputs(raw)
}

// HandleRPCDatagram routes a received RPC datagram through the
// dispatcher.
func (h *Host) HandleRPCDatagram(sender control.PeerID, raw []byte) error {
	return h.Dispatcher.Receive(sender, raw)
}

// CurrentFrame is the host's own fixed-step tick counter.
func (h *Host) CurrentFrame() control.FrameIndex {
	return h.currentFrame
}

// Tick advances every registered controller by one fixed-step frame,
// accumulates trickled-object priority, and — on a non-server host —
// runs one reconciliation pass, driving the resulting rewind through
// bindReconcileEvents' broadcaster bindings. Controller ticks are
// independent state machines keyed by peer, so they fan out across
// goroutines joined before this call returns; nothing downstream
// observes partial progress (spec.md §5's single-threaded-mutation
// guarantee holds at the tick boundary, not inside it).
func (h *Host) Tick(ctx context.Context, delta float64) error {
	h.tickDelta = delta
	g, _ := errgroup.WithContext(ctx)
	for _, peer := range h.controllers.Keys() {
		c, ok := h.controllers.Get(peer)
		if !ok {
			continue
		}
		c := c
		g.Go(func() error {
			c.Process(delta)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, grp := range h.groups {
		grp.AccumulatePriority(delta)
		grp.SortTrickledByUpdatePriority()
	}

	if h.currentFrame.IsNone() {
		h.currentFrame = 0
	} else {
		h.currentFrame = h.currentFrame.Next()
	}

	if h.Reconcile != nil {
		result := h.Reconcile.Reconcile(h.currentFrame)
		h.lastFrameCountToRewind = 0
		if result.Outcome == reconcile.OutcomeRewindRequired {
			h.lastFrameCountToRewind = result.FrameCountToRewind
		}
	}

	h.tickCounter++
	if h.IsServer {
		if h.tickCounter%tickRateFeedbackIntervalTicks == 0 {
			h.broadcastTickRateFeedback()
		}
		if h.tickCounter%pingIntervalTicks == 0 {
			h.pingPeers()
		}
	}
	return nil
}

// broadcastTickRateFeedback sends every remote peer's computed
// ClientTickRateFeedback byte (spec.md §4.3.2), completing the
// SPEC_FULL.md §12 path into PlayerController.ApplyTickRateFeedback.
func (h *Host) broadcastTickRateFeedback() {
	frameDeltaMs := int(config.Load().FixedFrameDelta.Milliseconds())
	for _, peer := range h.controllers.Keys() {
		c, ok := h.controllers.Get(peer)
		if !ok {
			continue
		}
		sc, ok := c.AsServer()
		if !ok {
			continue
		}
		distance := sc.ClientTickRateFeedback(frameDeltaMs)
		h.sendRPC(c.AuthorityPeer, rpcTickRateFeedback, func(buf *databuffer.DataBuffer) {
			buf.AddInt(int64(distance), databuffer.CompressionLevel3)
		})
	}
}

// pingPeers sends every connected peer a timestamped ping, whose pong
// reply feeds PeerData.RecordRoundTrip (SPEC_FULL.md §12).
func (h *Host) pingPeers() {
	ts := uint64(h.nowMs())
	for _, peer := range h.peers.Keys() {
		h.sendRPC(peer, rpcPing, func(buf *databuffer.DataBuffer) {
			buf.AddUint(ts, databuffer.CompressionLevel1)
		})
	}
}
