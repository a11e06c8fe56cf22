package syncgroup

import (
	"sort"

	"github.com/rhea-systems/netsync/control"
)

// simulatedEntry is a simulated object plus its per-variable change
// record (spec.md §3's "per-variable change record").
type simulatedEntry struct {
	Object  *ObjectData
	Changed map[string]bool
}

// trickledEntry is a trickled object plus the state
// sort_trickled_node_by_update_priority operates on.
type trickledEntry struct {
	Object     *ObjectData
	UpdateRate float64 // priority units accumulated per AccumulatePriority call
	Priority   float64
	Known      bool // has ever been sent to every listening peer at least once
	Changed    map[string]bool
}

// OnPeerSimulatingChanged, when set, is invoked once per listening peer
// every time a peer enters or leaves this group's simulating_peers set
// (spec.md §4.4's "server_set_peer_simulating_this_controller").
type PeerSimulatingHook func(listener control.PeerID, authority control.PeerID, simulating bool)

// SyncGroup is a server-side partition of objects and peers (spec.md §3,
// §4.4). The zero value is not usable; construct with New.
type SyncGroup struct {
	simulated []*simulatedEntry
	trickled  []*trickledEntry

	networkedPeers                 map[control.PeerID]struct{}
	simulatingPeers                map[control.PeerID]struct{}
	listeningPeers                 map[control.PeerID]struct{}
	peersWithNewlyCalculatedLatency map[control.PeerID]struct{}

	simulatedDirty bool
	trickledDirty  bool

	OnPeerSimulatingChanged PeerSimulatingHook
}

// New constructs an empty SyncGroup.
func New() *SyncGroup {
	return &SyncGroup{
		networkedPeers:                  make(map[control.PeerID]struct{}),
		simulatingPeers:                 make(map[control.PeerID]struct{}),
		listeningPeers:                  make(map[control.PeerID]struct{}),
		peersWithNewlyCalculatedLatency: make(map[control.PeerID]struct{}),
	}
}

func (g *SyncGroup) findSimulated(id ObjectNetId) int {
	for i, e := range g.simulated {
		if e.Object.NetID == id {
			return i
		}
	}
	return -1
}

func (g *SyncGroup) findTrickled(id ObjectNetId) int {
	for i, e := range g.trickled {
		if e.Object.NetID == id {
			return i
		}
	}
	return -1
}

// hasSimulatedOwnedBy reports whether any simulated object in the group
// is controlled by p.
func (g *SyncGroup) hasSimulatedOwnedBy(p control.PeerID) bool {
	for _, e := range g.simulated {
		if e.Object.ControlledByPeer == p {
			return true
		}
	}
	return false
}

// hasAnyOwnedBy reports whether any object (simulated or trickled) in the
// group is controlled by p.
func (g *SyncGroup) hasAnyOwnedBy(p control.PeerID) bool {
	if g.hasSimulatedOwnedBy(p) {
		return true
	}
	for _, e := range g.trickled {
		if e.Object.ControlledByPeer == p {
			return true
		}
	}
	return false
}

func (g *SyncGroup) notifySimulatingChanged(authority control.PeerID, simulating bool) {
	if g.OnPeerSimulatingChanged == nil {
		return
	}
	for listener := range g.listeningPeers {
		g.OnPeerSimulatingChanged(listener, authority, simulating)
	}
}

// AddSyncObject adds object to the simulated or trickled list
// (spec.md §4.4). Idempotent: if the object is already present in the
// other list it is moved instead of duplicated.
func (g *SyncGroup) AddSyncObject(object *ObjectData, isSimulated bool) {
	if idx := g.findSimulated(object.NetID); idx >= 0 {
		if isSimulated {
			g.simulated[idx].Object = object
			return
		}
		g.moveSimulatedToTrickled(idx)
	}
	if idx := g.findTrickled(object.NetID); idx >= 0 {
		if !isSimulated {
			g.trickled[idx].Object = object
			return
		}
		g.moveTrickledToSimulated(idx)
		return
	}

	wasSimulatingBefore := false
	if object.ControlledByPeer != 0 {
		_, wasSimulatingBefore = g.simulatingPeers[object.ControlledByPeer]
	}

	if isSimulated {
		g.simulated = append(g.simulated, &simulatedEntry{Object: object, Changed: map[string]bool{}})
		g.simulatedDirty = true
	} else {
		g.trickled = append(g.trickled, &trickledEntry{Object: object, Changed: map[string]bool{}})
		g.trickledDirty = true
	}

	if object.ControlledByPeer != 0 {
		g.networkedPeers[object.ControlledByPeer] = struct{}{}
		if isSimulated {
			g.simulatingPeers[object.ControlledByPeer] = struct{}{}
			if !wasSimulatingBefore {
				g.notifySimulatingChanged(object.ControlledByPeer, true)
			}
		}
	}
}

func (g *SyncGroup) moveSimulatedToTrickled(idx int) {
	e := g.simulated[idx]
	g.simulated = append(g.simulated[:idx], g.simulated[idx+1:]...)
	g.simulatedDirty = true
	g.trickled = append(g.trickled, &trickledEntry{Object: e.Object, Changed: e.Changed})
	g.trickledDirty = true
	if p := e.Object.ControlledByPeer; p != 0 && !g.hasSimulatedOwnedBy(p) {
		delete(g.simulatingPeers, p)
		g.notifySimulatingChanged(p, false)
	}
}

func (g *SyncGroup) moveTrickledToSimulated(idx int) {
	e := g.trickled[idx]
	g.trickled = append(g.trickled[:idx], g.trickled[idx+1:]...)
	g.trickledDirty = true
	g.simulated = append(g.simulated, &simulatedEntry{Object: e.Object, Changed: e.Changed})
	g.simulatedDirty = true
	if p := e.Object.ControlledByPeer; p != 0 {
		_, already := g.simulatingPeers[p]
		g.simulatingPeers[p] = struct{}{}
		if !already {
			g.notifySimulatingChanged(p, true)
		}
	}
}

// RemoveSyncObject removes object from whichever list holds it, updating
// simulating_peers/networked_peers per spec.md §4.4 and §8 example 6.
func (g *SyncGroup) RemoveSyncObject(object *ObjectData) {
	owner := object.ControlledByPeer

	if idx := g.findSimulated(object.NetID); idx >= 0 {
		g.simulated = append(g.simulated[:idx], g.simulated[idx+1:]...)
		g.simulatedDirty = true
	} else if idx := g.findTrickled(object.NetID); idx >= 0 {
		g.trickled = append(g.trickled[:idx], g.trickled[idx+1:]...)
		g.trickledDirty = true
	} else {
		return
	}

	if owner == 0 {
		return
	}
	if !g.hasSimulatedOwnedBy(owner) {
		if _, wasSimulating := g.simulatingPeers[owner]; wasSimulating {
			delete(g.simulatingPeers, owner)
			g.notifySimulatingChanged(owner, false)
		}
	}
	if !g.hasAnyOwnedBy(owner) {
		delete(g.networkedPeers, owner)
	}
}

// ReplaceObjects diff-updates the group's simulated/trickled lists
// (spec.md §4.4): retained entries keep their change record, removed
// entries leave via RemoveSyncObject, new entries arrive via
// AddSyncObject.
func (g *SyncGroup) ReplaceObjects(newSimulated, newTrickled []*ObjectData) {
	wanted := make(map[ObjectNetId]bool, len(newSimulated)+len(newTrickled))
	for _, o := range newSimulated {
		wanted[o.NetID] = true
	}
	for _, o := range newTrickled {
		wanted[o.NetID] = true
	}

	currentSimulated := append([]*simulatedEntry{}, g.simulated...)
	for _, e := range currentSimulated {
		if !wanted[e.Object.NetID] {
			g.RemoveSyncObject(e.Object)
		}
	}
	currentTrickled := append([]*trickledEntry{}, g.trickled...)
	for _, e := range currentTrickled {
		if !wanted[e.Object.NetID] {
			g.RemoveSyncObject(e.Object)
		}
	}

	for _, o := range newSimulated {
		g.AddSyncObject(o, true)
	}
	for _, o := range newTrickled {
		g.AddSyncObject(o, false)
	}
}

// AddListeningPeer registers p in the group's receive set, informing it
// of every currently simulating peer (spec.md §4.4).
func (g *SyncGroup) AddListeningPeer(p control.PeerID) {
	if _, already := g.listeningPeers[p]; already {
		return
	}
	g.listeningPeers[p] = struct{}{}
	if g.OnPeerSimulatingChanged == nil {
		return
	}
	for authority := range g.simulatingPeers {
		g.OnPeerSimulatingChanged(p, authority, true)
	}
}

// RemoveListeningPeer undoes AddListeningPeer.
func (g *SyncGroup) RemoveListeningPeer(p control.PeerID) {
	if _, present := g.listeningPeers[p]; !present {
		return
	}
	delete(g.listeningPeers, p)
	if g.OnPeerSimulatingChanged == nil {
		return
	}
	for authority := range g.simulatingPeers {
		g.OnPeerSimulatingChanged(p, authority, false)
	}
}

// ListeningPeers returns the current receive set.
func (g *SyncGroup) ListeningPeers() []control.PeerID {
	return peerSetSlice(g.listeningPeers)
}

// SimulatingPeers returns the peers owning at least one simulated object
// in this group.
func (g *SyncGroup) SimulatingPeers() []control.PeerID {
	return peerSetSlice(g.simulatingPeers)
}

// NetworkedPeers returns every peer owning any object in this group.
func (g *SyncGroup) NetworkedPeers() []control.PeerID {
	return peerSetSlice(g.networkedPeers)
}

func peerSetSlice(m map[control.PeerID]struct{}) []control.PeerID {
	out := make([]control.PeerID, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}

// NotifyNewVariable marks netId/name as newly registered and dirty, so
// the next snapshot encode includes it.
func (g *SyncGroup) NotifyNewVariable(netID ObjectNetId, name string) {
	g.NotifyVariableChanged(netID, name)
}

// NotifyVariableChanged marks the per-object per-variable dirty entry
// snapshot encoding consults (spec.md §4.4).
func (g *SyncGroup) NotifyVariableChanged(netID ObjectNetId, name string) {
	if idx := g.findSimulated(netID); idx >= 0 {
		g.simulated[idx].Changed[name] = true
		return
	}
	if idx := g.findTrickled(netID); idx >= 0 {
		g.trickled[idx].Changed[name] = true
	}
}

// ChangedVars returns the set of variable names marked dirty for netID
// and clears the dirty set, ready for the next snapshot window.
func (g *SyncGroup) ChangedVars(netID ObjectNetId) []string {
	var changed map[string]bool
	if idx := g.findSimulated(netID); idx >= 0 {
		changed = g.simulated[idx].Changed
	} else if idx := g.findTrickled(netID); idx >= 0 {
		changed = g.trickled[idx].Changed
	} else {
		return nil
	}
	out := make([]string, 0, len(changed))
	for name, dirty := range changed {
		if dirty {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	for name := range changed {
		changed[name] = false
	}
	return out
}

// SimulatedObjects returns the group's simulated objects in insertion
// order.
func (g *SyncGroup) SimulatedObjects() []*ObjectData {
	out := make([]*ObjectData, len(g.simulated))
	for i, e := range g.simulated {
		out[i] = e.Object
	}
	return out
}

// TrickledObjects returns the group's trickled objects in their current
// priority order (last result of SortTrickledByUpdatePriority, or
// insertion order if it has never run).
func (g *SyncGroup) TrickledObjects() []*ObjectData {
	out := make([]*ObjectData, len(g.trickled))
	for i, e := range g.trickled {
		out[i] = e.Object
	}
	return out
}

// AccumulatePriority advances every trickled object's send priority by
// its update rate times dt, the way a piece-availability rarest-first
// score accumulates between sends.
func (g *SyncGroup) AccumulatePriority(dt float64) {
	for _, e := range g.trickled {
		e.Priority += e.UpdateRate * dt
	}
}

// SetTrickledUpdateRate configures how fast netID's priority accumulates.
func (g *SyncGroup) SetTrickledUpdateRate(netID ObjectNetId, rate float64) {
	if idx := g.findTrickled(netID); idx >= 0 {
		g.trickled[idx].UpdateRate = rate
	}
}

// SortTrickledByUpdatePriority stable-sorts the trickled list by
// descending accumulated priority (spec.md §4.4), using the adapted
// priority-queue heap rather than sort.SliceStable so draining it is the
// natural per-tick top-k selection hook for callers that want fewer than
// the full list.
func (g *SyncGroup) SortTrickledByUpdatePriority() {
	pq := newPriorityQueue[*trickledEntry](func(a, b *trickledEntry) bool {
		return a.Priority > b.Priority
	})
	for i, e := range g.trickled {
		pq.enqueue(e, i)
	}
	ordered := make([]*trickledEntry, 0, len(g.trickled))
	for {
		e, ok := pq.dequeue()
		if !ok {
			break
		}
		ordered = append(ordered, e)
	}
	g.trickled = ordered
}

// TopTrickled returns the first k trickled objects in the current
// priority order (call SortTrickledByUpdatePriority first), marking them
// Known and resetting their accumulated priority to 0 as if just sent.
func (g *SyncGroup) TopTrickled(k int) []*ObjectData {
	if k > len(g.trickled) {
		k = len(g.trickled)
	}
	out := make([]*ObjectData, k)
	for i := 0; i < k; i++ {
		g.trickled[i].Known = true
		g.trickled[i].Priority = 0
		out[i] = g.trickled[i].Object
	}
	return out
}
