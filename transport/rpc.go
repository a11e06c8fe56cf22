package transport

import (
	"errors"

	"github.com/rhea-systems/netsync/control"
	"github.com/rhea-systems/netsync/databuffer"
	"github.com/rhea-systems/netsync/syncgroup"
)

// ErrUnknownRPC is returned when a known object, or the global table,
// receives an RPC whose index has no registered handler (spec.md §7
// bullet 3: "drop with an error").
var ErrUnknownRPC = errors.New("transport: unknown rpc index for known object")

// RPCHandler processes one RPC call's encoded arguments.
type RPCHandler func(sender control.PeerID, args *databuffer.DataBuffer)

// pendingRPC is a datagram withheld because its target object hadn't
// spawned yet.
type pendingRPC struct {
	sender control.PeerID
	data   []byte
}

// Dispatcher decodes RPC datagrams (spec.md §6's RPC datagram layout)
// and routes them to registered handlers, buffering calls targeting an
// object that has not spawned yet and flushing them once it does.
type Dispatcher struct {
	global  map[uint8]RPCHandler
	objects map[syncgroup.ObjectNetId]map[uint8]RPCHandler
	pending map[syncgroup.ObjectNetId][]pendingRPC
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		global:  make(map[uint8]RPCHandler),
		objects: make(map[syncgroup.ObjectNetId]map[uint8]RPCHandler),
		pending: make(map[syncgroup.ObjectNetId][]pendingRPC),
	}
}

// RegisterGlobal binds a handler with no target object.
func (d *Dispatcher) RegisterGlobal(index uint8, h RPCHandler) {
	d.global[index] = h
}

// RegisterObject binds a handler scoped to one object's rpc_index space.
func (d *Dispatcher) RegisterObject(netID syncgroup.ObjectNetId, index uint8, h RPCHandler) {
	if d.objects[netID] == nil {
		d.objects[netID] = make(map[uint8]RPCHandler)
	}
	d.objects[netID][index] = h
}

// ObjectSpawned flushes any RPCs that were withheld because netID had
// not spawned client-side yet (spec.md §6).
func (d *Dispatcher) ObjectSpawned(netID syncgroup.ObjectNetId) {
	queued := d.pending[netID]
	delete(d.pending, netID)
	for _, p := range queued {
		d.dispatchToObject(netID, p.sender, p.data)
	}
}

// Receive decodes one RPC datagram and dispatches it.
func (d *Dispatcher) Receive(sender control.PeerID, data []byte) error {
	buf := databuffer.NewFromBytes(data)
	buf.ShrinkTo(0, len(data)*8)
	buf.BeginRead()

	hasTarget, err := buf.ReadBool()
	if err != nil {
		return err
	}

	if !hasTarget {
		index, err := buf.ReadUint(databuffer.CompressionLevel3)
		if err != nil {
			return err
		}
		h, ok := d.global[uint8(index)]
		if !ok {
			return ErrUnknownRPC
		}
		h(sender, buf)
		return nil
	}

	netIDRaw, err := buf.ReadUint(databuffer.CompressionLevel1)
	if err != nil {
		return err
	}
	return d.dispatchToObject(syncgroup.ObjectNetId(netIDRaw), sender, data)
}

func (d *Dispatcher) dispatchToObject(netID syncgroup.ObjectNetId, sender control.PeerID, data []byte) error {
	buf := databuffer.NewFromBytes(data)
	buf.ShrinkTo(0, len(data)*8)
	buf.BeginRead()
	if _, err := buf.ReadBool(); err != nil {
		return err
	}
	if _, err := buf.ReadUint(databuffer.CompressionLevel1); err != nil {
		return err
	}
	index, err := buf.ReadUint(databuffer.CompressionLevel3)
	if err != nil {
		return err
	}

	handlers, ok := d.objects[netID]
	if !ok {
		d.pending[netID] = append(d.pending[netID], pendingRPC{sender: sender, data: append([]byte(nil), data...)})
		return nil
	}
	h, ok := handlers[uint8(index)]
	if !ok {
		return ErrUnknownRPC
	}
	h(sender, buf)
	return nil
}

// BufferFromBytes wraps an already-encoded datagram (typically
// EncodeRPC's return value) in a DataBuffer ready to pass to
// NetworkInterface.Send.
func BufferFromBytes(raw []byte) *databuffer.DataBuffer {
	buf := databuffer.NewFromBytes(raw)
	buf.ShrinkTo(0, len(raw)*8)
	return buf
}

// EncodeRPC assembles an RPC datagram per spec.md §6's layout. Pass
// netID=0, hasTarget=false for a global RPC.
func EncodeRPC(hasTarget bool, netID syncgroup.ObjectNetId, index uint8, writeArgs func(*databuffer.DataBuffer)) []byte {
	buf := databuffer.New()
	buf.BeginWrite(0)
	buf.AddBool(hasTarget)
	if hasTarget {
		buf.AddUint(uint64(netID), databuffer.CompressionLevel1)
	}
	buf.AddUint(uint64(index), databuffer.CompressionLevel3)
	if writeArgs != nil {
		writeArgs(buf)
	}
	return buf.GetBytes()
}
