package control

import (
	"encoding/binary"
	"errors"

	"github.com/rhea-systems/netsync/databuffer"
)

// ErrMalformedInputPacket is returned when an input datagram's payload
// framing is inconsistent (a size mismatch or a count-input-size
// overflow). Per spec.md §7 the packet is dropped in its entirety with no
// partial effect on the controller's input deque.
var ErrMalformedInputPacket = errors.New("control: malformed input packet")

// inputPacketGroup is one duplication-compressed run in the wire format:
// a payload repeated (DuplicationCount+1) times.
type inputPacketGroup struct {
	Payload        []byte
	PayloadBitSize int
	DuplicationCount uint8
}

// encodeInputPacket assembles the shared input packet format: a u32
// first input id followed by (duplication_count byte, payload bytes)
// pairs, payload already padded to a whole byte.
func encodeInputPacket(firstID FrameIndex, groups []inputPacketGroup) []byte {
	out := make([]byte, 4, 4+len(groups)*2)
	binary.BigEndian.PutUint32(out, uint32(firstID))
	for _, g := range groups {
		out = append(out, byte(g.DuplicationCount))
		out = append(out, g.Payload...)
	}
	return out
}

// decodeInputPacket parses the shared input packet format, expanding
// duplication runs into individual FrameInput values with consecutive
// ids starting at the packet's first_input_id.
func decodeInputPacket(data []byte, hooks Hooks, nowMs uint32) (FrameIndex, []FrameInput, error) {
	if len(data) < 5 {
		return NoneFrame, nil, ErrMalformedInputPacket
	}
	firstID := FrameIndex(binary.BigEndian.Uint32(data[:4]))
	offset := 4
	runningID := firstID
	var out []FrameInput

	for offset < len(data) {
		dup := data[offset]
		offset++
		if offset >= len(data) {
			return NoneFrame, nil, ErrMalformedInputPacket
		}
		hasData := data[offset]&1 != 0
		payloadBits := 1
		if hasData {
			if hooks.CountInputSize == nil {
				return NoneFrame, nil, ErrMalformedInputPacket
			}
			tmp := databuffer.NewFromBytes(data[offset:])
			tmp.ShrinkTo(0, (len(data)-offset)*8)
			tmp.BeginRead()
			if _, err := tmp.ReadBool(); err != nil {
				return NoneFrame, nil, ErrMalformedInputPacket
			}
			extra := hooks.CountInputSize(tmp)
			if extra < 0 {
				return NoneFrame, nil, ErrMalformedInputPacket
			}
			payloadBits += extra
		}
		payloadBytes := (payloadBits + 7) / 8
		if offset+payloadBytes > len(data) {
			return NoneFrame, nil, ErrMalformedInputPacket
		}
		payload := append([]byte(nil), data[offset:offset+payloadBytes]...)
		offset += payloadBytes

		for i := 0; i <= int(dup); i++ {
			out = append(out, FrameInput{
				ID:             runningID,
				Payload:        payload,
				PayloadBitSize: uint16(payloadBits),
				Similarity:     NoneFrame,
				ReceivedAtMs:   nowMs,
			})
			runningID = runningID.Next()
		}
	}
	return firstID, out, nil
}
