// Package databuffer implements DataBuffer, a cursor over a bitio.BitArray
// with a typed, compressed write/read API. It is the wire codec every
// input, snapshot, and RPC payload in this module is built on.
package databuffer

import (
	"fmt"
	"math"

	"github.com/rhea-systems/netsync/bitio"
)

// DataBuffer is a (BitArray, metadata-size, bit-size, cursor, mode,
// failed) tuple. A DataBuffer owns its backing BitArray.
type DataBuffer struct {
	buffer       *bitio.BitArray
	metadataBits int
	bitSize      int
	cursor       int
	mode         mode
	failed       bool
}

// New returns an empty DataBuffer, not yet in read or write mode.
func New() *DataBuffer {
	return &DataBuffer{buffer: bitio.New(0)}
}

// NewFromBytes wraps raw bytes for reading; callers must still call
// BeginRead before reading typed values.
func NewFromBytes(raw []byte) *DataBuffer {
	return &DataBuffer{buffer: bitio.FromBytes(raw)}
}

// BeginWrite resets the buffer to write mode with the given metadata size
// in bits; both metadata and data sizes reset to (m,0).
func (d *DataBuffer) BeginWrite(metadataBits int) {
	d.metadataBits = metadataBits
	d.bitSize = 0
	d.cursor = metadataBits
	d.mode = modeWrite
	d.failed = false
	if d.buffer.SizeInBits() < metadataBits {
		d.buffer.ResizeInBits(metadataBits)
	}
}

// BeginRead switches the buffer to read mode, resetting the cursor to 0.
// The metadata/data size split is preserved from however it was set
// (typically by the sender encoding it, or by a prior BeginWrite).
func (d *DataBuffer) BeginRead() {
	d.mode = modeRead
	d.cursor = 0
	d.failed = false
}

// Failed reports whether a prior operation latched the failure flag.
func (d *DataBuffer) Failed() bool {
	return d.failed
}

// Size returns the data bit-size (excluding metadata).
func (d *DataBuffer) Size() int {
	return d.bitSize
}

// MetadataSize returns the metadata bit-size.
func (d *DataBuffer) MetadataSize() int {
	return d.metadataBits
}

// TotalSize returns MetadataSize()+Size().
func (d *DataBuffer) TotalSize() int {
	return d.metadataBits + d.bitSize
}

// GetBitOffset returns the current cursor position in bits.
func (d *DataBuffer) GetBitOffset() int {
	return d.cursor
}

// GetBuffer returns the backing BitArray (read-only use expected).
func (d *DataBuffer) GetBuffer() *bitio.BitArray {
	return d.buffer
}

// GetBytes returns a copy of the bytes covering [0, TotalSize()).
func (d *DataBuffer) GetBytes() []byte {
	nbytes := (d.TotalSize() + 7) / 8
	all := d.buffer.Bytes()
	if nbytes > len(all) {
		nbytes = len(all)
	}
	return all[:nbytes]
}

// Copy replaces the contents of d with a copy of other's backing array,
// metadata size, and data size (cursor/mode reset to zero/none).
func (d *DataBuffer) Copy(other *DataBuffer) {
	d.buffer = other.buffer.Clone()
	d.metadataBits = other.metadataBits
	d.bitSize = other.bitSize
	d.cursor = 0
	d.mode = modeNone
	d.failed = false
}

// Zero clears every byte of the backing storage.
func (d *DataBuffer) Zero() {
	d.buffer.Zero()
}

// Seek moves the cursor to an absolute bit position.
func (d *DataBuffer) Seek(bitPos int) {
	d.cursor = bitPos
}

// Skip advances the cursor by n bits without reading or writing.
func (d *DataBuffer) Skip(n int) {
	d.cursor += n
}

// ShrinkTo sets the metadata and data bit sizes directly, without
// touching the backing storage or cursor.
func (d *DataBuffer) ShrinkTo(metadataBits, dataBits int) {
	d.metadataBits = metadataBits
	d.bitSize = dataBits
}

// Dry trims the backing storage down to exactly TotalSize() bits.
func (d *DataBuffer) Dry() {
	d.buffer.ResizeInBits(d.TotalSize())
	d.buffer.ResizeInBytes((d.TotalSize() + 7) / 8)
}

// PadToNextByte reports how many bits must be skipped from the current
// cursor to reach the next byte boundary.
func (d *DataBuffer) PadToNextByte() int {
	return ((d.cursor + 7) &^ 7) - d.cursor
}

// makeRoomInBits grows the backing storage and bit-size tracking so that
// [cursor, cursor+dim) is addressable for a write.
func (d *DataBuffer) makeRoomInBits(dim int) error {
	if dim < 0 {
		return ErrSizeOverflow
	}
	needed := d.cursor + dim
	if needed > math.MaxUint32 {
		return ErrSizeOverflow
	}
	if needed > d.buffer.SizeInBits() {
		d.buffer.ResizeInBits(needed)
	}
	if needed-d.metadataBits > d.bitSize {
		d.bitSize = needed - d.metadataBits
	}
	return nil
}

// makeRoomPadToNextByte pads the cursor up to the next byte boundary,
// growing storage to cover the padding.
func (d *DataBuffer) makeRoomPadToNextByte() error {
	pad := d.PadToNextByte()
	if pad == 0 {
		return nil
	}
	if err := d.makeRoomInBits(pad); err != nil {
		return err
	}
	if err := d.buffer.StoreBits(d.cursor, 0, pad); err != nil {
		return err
	}
	d.cursor += pad
	return nil
}

func (d *DataBuffer) fail() {
	d.failed = true
}

// AddBool appends a single bit.
func (d *DataBuffer) AddBool(v bool) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	if err := d.makeRoomInBits(1); err != nil {
		return err
	}
	var bit uint64
	if v {
		bit = 1
	}
	if err := d.buffer.StoreBits(d.cursor, bit, 1); err != nil {
		d.fail()
		return err
	}
	d.cursor++
	return nil
}

// ReadBool reads a single bit previously written by AddBool.
func (d *DataBuffer) ReadBool() (bool, error) {
	if d.mode != modeRead {
		return false, ErrReadInWriteMode
	}
	v, err := d.buffer.ReadBits(d.cursor, 1)
	if err != nil {
		d.fail()
		return false, nil
	}
	d.cursor++
	return v != 0, nil
}

func intRange(bits int) (min, max int64) {
	max = int64(1)<<uint(bits-1) - 1
	min = -(int64(1) << uint(bits-1))
	return
}

// AddInt writes a clamped, two's-complement signed integer at the width
// implied by level.
func (d *DataBuffer) AddInt(v int64, level CompressionLevel) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	bits := intBitWidth(level)
	lo, hi := intRange(bits)
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	if err := d.makeRoomInBits(bits); err != nil {
		return err
	}
	if err := d.buffer.StoreBits(d.cursor, uint64(v), bits); err != nil {
		d.fail()
		return err
	}
	d.cursor += bits
	return nil
}

// ReadInt reads a signed integer written by AddInt at the given level,
// sign-extending it back to int64.
func (d *DataBuffer) ReadInt(level CompressionLevel) (int64, error) {
	if d.mode != modeRead {
		return 0, ErrReadInWriteMode
	}
	bits := intBitWidth(level)
	raw, err := d.buffer.ReadBits(d.cursor, bits)
	if err != nil {
		d.fail()
		return 0, nil
	}
	d.cursor += bits
	return signExtend(raw, bits), nil
}

func signExtend(raw uint64, bits int) int64 {
	shift := uint(64 - bits)
	return int64(raw<<shift) >> shift
}

// AddUint writes a clamped unsigned integer at the width implied by level.
func (d *DataBuffer) AddUint(v uint64, level CompressionLevel) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	bits := intBitWidth(level)
	var max uint64
	if bits == 64 {
		max = math.MaxUint64
	} else {
		max = uint64(1)<<uint(bits) - 1
	}
	if v > max {
		v = max
	}
	if err := d.makeRoomInBits(bits); err != nil {
		return err
	}
	if err := d.buffer.StoreBits(d.cursor, v, bits); err != nil {
		d.fail()
		return err
	}
	d.cursor += bits
	return nil
}

// ReadUint reads an unsigned integer written by AddUint at the given
// level.
func (d *DataBuffer) ReadUint(level CompressionLevel) (uint64, error) {
	if d.mode != modeRead {
		return 0, ErrReadInWriteMode
	}
	bits := intBitWidth(level)
	raw, err := d.buffer.ReadBits(d.cursor, bits)
	if err != nil {
		d.fail()
		return 0, nil
	}
	d.cursor += bits
	return raw, nil
}

// AddBits appends the given number of raw bits copied byte-chunk by
// byte-chunk from src (a BitArray positioned so its own bit 0 is the
// first bit to copy).
func (d *DataBuffer) AddBits(src *bitio.BitArray, nbits int) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	if err := d.makeRoomInBits(nbits); err != nil {
		return err
	}
	remaining := nbits
	srcOff := 0
	for remaining > 0 {
		chunk := 8
		if remaining < chunk {
			chunk = remaining
		}
		v, err := src.ReadBits(srcOff, chunk)
		if err != nil {
			d.fail()
			return err
		}
		if err := d.buffer.StoreBits(d.cursor, v, chunk); err != nil {
			d.fail()
			return err
		}
		d.cursor += chunk
		srcOff += chunk
		remaining -= chunk
	}
	return nil
}

// ReadBitsRaw reads nbits raw bits into a freshly sized BitArray.
func (d *DataBuffer) ReadBitsRaw(nbits int) (*bitio.BitArray, error) {
	if d.mode != modeRead {
		return nil, ErrReadInWriteMode
	}
	out := bitio.New(nbits)
	remaining := nbits
	dstOff := 0
	for remaining > 0 {
		chunk := 8
		if remaining < chunk {
			chunk = remaining
		}
		v, err := d.buffer.ReadBits(d.cursor, chunk)
		if err != nil {
			d.fail()
			return out, nil
		}
		out.StoreBits(dstOff, v, chunk)
		d.cursor += chunk
		dstOff += chunk
		remaining -= chunk
	}
	return out, nil
}

// AddDataBuffer prepends a compression-level flag and a length prefix,
// pads to the next byte boundary, and copies other's raw bytes in. This
// is the dynamic sub-buffer encoding used to nest, e.g., a whole input
// payload inside a snapshot.
func (d *DataBuffer) AddDataBuffer(other *DataBuffer) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	otherBits := other.TotalSize()
	usingL2 := otherBits < math.MaxUint16
	if err := d.AddBool(usingL2); err != nil {
		return err
	}
	if usingL2 {
		if err := d.AddUint(uint64(otherBits), CompressionLevel2); err != nil {
			return err
		}
	} else {
		if err := d.AddUint(uint64(otherBits), CompressionLevel1); err != nil {
			return err
		}
	}
	if err := d.makeRoomPadToNextByte(); err != nil {
		return err
	}
	src := bitio.FromBytes(other.GetBytes())
	return d.AddBits(src, otherBits)
}

// ReadDataBuffer is the symmetric inverse of AddDataBuffer.
func (d *DataBuffer) ReadDataBuffer() (*DataBuffer, error) {
	if d.mode != modeRead {
		return nil, ErrReadInWriteMode
	}
	usingL2, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	var nbits uint64
	if usingL2 {
		nbits, err = d.ReadUint(CompressionLevel2)
	} else {
		nbits, err = d.ReadUint(CompressionLevel1)
	}
	if err != nil {
		return nil, err
	}
	pad := d.PadToNextByte()
	d.cursor += pad
	raw, err := d.ReadBitsRaw(int(nbits))
	if err != nil {
		return nil, err
	}
	sub := NewFromBytes(raw.Bytes())
	sub.bitSize = int(nbits)
	return sub, nil
}

// AddString writes a string as an L2 length prefix holding len(s) (its
// byte count) followed by the raw bytes, 8 bits each.
func (d *DataBuffer) AddString(s string) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	if len(s) > math.MaxInt16 {
		return fmt.Errorf("databuffer: string too long: %d bytes", len(s))
	}
	if err := d.AddUint(uint64(len(s)), CompressionLevel2); err != nil {
		return err
	}
	src := bitio.FromBytes([]byte(s))
	return d.AddBits(src, len(s)*8)
}

// ReadString is the symmetric inverse of AddString.
func (d *DataBuffer) ReadString() (string, error) {
	if d.mode != modeRead {
		return "", ErrReadInWriteMode
	}
	n, err := d.ReadUint(CompressionLevel2)
	if err != nil {
		return "", err
	}
	raw, err := d.ReadBitsRaw(int(n) * 8)
	if err != nil {
		return "", err
	}
	return string(raw.Bytes()[:n]), nil
}
