package databuffer

import (
	"math"

	"github.com/rhea-systems/netsync/netmath"
)

func biasFor(level CompressionLevel, exponentBits int) int {
	if level == CompressionLevel3 {
		return (1 << uint(exponentBits)) - 3
	}
	return (1 << uint(exponentBits-1)) - 1
}

func maxRealValue(mantissaBits, exponentBits, bias int) float64 {
	maxBiasedExponent := (1 << uint(exponentBits)) - 1
	maxUnbiasedExponent := maxBiasedExponent - bias
	return (2 - math.Pow(2, -(float64(mantissaBits-1)))) * math.Pow(2, float64(maxUnbiasedExponent))
}

// AddReal appends an IEEE-754-shaped, platform-stable encoding of v:
// sign bit, (mantissaBits-1) mantissa bits with an implicit leading one,
// then exponentBits biased exponent bits. Subnormals and overflow are
// folded in explicitly so the result is reproducible without relying on
// the host's native float representation.
func (d *DataBuffer) AddReal(v float64, level CompressionLevel) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	m := mantissaBits(level)
	e := exponentBits(level)
	bias := biasFor(level, e)
	maxVal := maxRealValue(m, e, bias)

	if v > maxVal {
		v = maxVal
	}
	if v < -maxVal {
		v = -maxVal
	}

	sign := math.Signbit(v)
	av := math.Abs(v)

	mantissaFieldBits := m - 1
	mantissaScale := float64(uint64(1) << uint(mantissaFieldBits))
	maxBiasedExponent := uint64(1)<<uint(e) - 1

	var storedExp, storedMant uint64
	if av != 0 {
		frac, exp := math.Frexp(av) // av = frac * 2^exp, frac in [0.5,1)
		e2 := exp - 1              // av = (frac*2) * 2^e2, frac*2 in [1,2)
		biasedExp := int64(e2) + int64(bias)

		if biasedExp <= 0 {
			// Subnormal: value = fraction * 2^(1-bias), fraction in [0,1).
			fraction := av / math.Ldexp(1, 1-bias)
			mantInt := uint64(math.Round(fraction * mantissaScale))
			if mantInt >= uint64(mantissaScale) {
				storedExp = 1
				storedMant = 0
			} else {
				storedExp = 0
				storedMant = mantInt
			}
		} else {
			frac2 := frac*2 - 1 // fractional part in [0,1)
			mantInt := uint64(math.Round(frac2 * mantissaScale))
			if mantInt >= uint64(mantissaScale) {
				mantInt = 0
				biasedExp++
			}
			if uint64(biasedExp) > maxBiasedExponent {
				biasedExp = int64(maxBiasedExponent)
				mantInt = uint64(mantissaScale) - 1
			}
			storedExp = uint64(biasedExp)
			storedMant = mantInt
		}
	}

	if err := d.makeRoomInBits(1 + mantissaFieldBits + e); err != nil {
		return err
	}
	var signBit uint64
	if sign {
		signBit = 1
	}
	if err := d.buffer.StoreBits(d.cursor, signBit, 1); err != nil {
		d.fail()
		return err
	}
	d.cursor++
	if mantissaFieldBits > 0 {
		if err := d.buffer.StoreBits(d.cursor, storedMant, mantissaFieldBits); err != nil {
			d.fail()
			return err
		}
		d.cursor += mantissaFieldBits
	}
	if err := d.buffer.StoreBits(d.cursor, storedExp, e); err != nil {
		d.fail()
		return err
	}
	d.cursor += e
	return nil
}

// ReadReal is the exact inverse of AddReal.
func (d *DataBuffer) ReadReal(level CompressionLevel) (float64, error) {
	if d.mode != modeRead {
		return 0, ErrReadInWriteMode
	}
	m := mantissaBits(level)
	e := exponentBits(level)
	bias := biasFor(level, e)
	mantissaFieldBits := m - 1

	signBit, err := d.buffer.ReadBits(d.cursor, 1)
	if err != nil {
		d.fail()
		return 0, nil
	}
	d.cursor++
	var mant uint64
	if mantissaFieldBits > 0 {
		mant, err = d.buffer.ReadBits(d.cursor, mantissaFieldBits)
		if err != nil {
			d.fail()
			return 0, nil
		}
		d.cursor += mantissaFieldBits
	}
	exp, err := d.buffer.ReadBits(d.cursor, e)
	if err != nil {
		d.fail()
		return 0, nil
	}
	d.cursor += e

	mantissaScale := float64(uint64(1) << uint(mantissaFieldBits))
	var value float64
	if exp == 0 {
		value = (float64(mant) / mantissaScale) * math.Ldexp(1, 1-bias)
	} else {
		value = (1 + float64(mant)/mantissaScale) * math.Ldexp(1, int(exp)-bias)
	}
	if signBit != 0 {
		value = -value
	}
	return value, nil
}

func compressUnitFloat(v, max float64) uint64 {
	if v < 0 {
		v = 0
	}
	scaled := v * max
	if scaled > max {
		scaled = max
	}
	return uint64(math.Round(scaled))
}

func decompressUnitFloat(v uint64, max float64) float64 {
	if max == 0 {
		return 0
	}
	return float64(v) / max
}

// AddPositiveUnitReal appends v (clamped to [0,1]) quantized to the bit
// width implied by level.
func (d *DataBuffer) AddPositiveUnitReal(v float64, level CompressionLevel) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	bits := positiveUnitRealBitWidth(level)
	maxValue := float64(uint64(1)<<uint(bits) - 1)
	compressed := compressUnitFloat(v, maxValue)
	if err := d.makeRoomInBits(bits); err != nil {
		return err
	}
	if err := d.buffer.StoreBits(d.cursor, compressed, bits); err != nil {
		d.fail()
		return err
	}
	d.cursor += bits
	return nil
}

// ReadPositiveUnitReal is the inverse of AddPositiveUnitReal.
func (d *DataBuffer) ReadPositiveUnitReal(level CompressionLevel) (float64, error) {
	if d.mode != modeRead {
		return 0, ErrReadInWriteMode
	}
	bits := positiveUnitRealBitWidth(level)
	raw, err := d.buffer.ReadBits(d.cursor, bits)
	if err != nil {
		d.fail()
		return 0, nil
	}
	d.cursor += bits
	maxValue := float64(uint64(1)<<uint(bits) - 1)
	return decompressUnitFloat(raw, maxValue), nil
}

// AddUnitReal appends v (clamped to [-1,1]) as a magnitude quantized by
// AddPositiveUnitReal followed by a single sign bit.
func (d *DataBuffer) AddUnitReal(v float64, level CompressionLevel) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	if v < -1 {
		v = -1
	}
	if v > 1 {
		v = 1
	}
	sign := v < 0
	mag := math.Abs(v)
	bits := positiveUnitRealBitWidth(level)
	maxValue := float64(uint64(1)<<uint(bits) - 1)
	compressed := compressUnitFloat(mag, maxValue)
	if err := d.makeRoomInBits(bits + 1); err != nil {
		return err
	}
	if err := d.buffer.StoreBits(d.cursor, compressed, bits); err != nil {
		d.fail()
		return err
	}
	d.cursor += bits
	var signBit uint64
	if sign {
		signBit = 1
	}
	if err := d.buffer.StoreBits(d.cursor, signBit, 1); err != nil {
		d.fail()
		return err
	}
	d.cursor++
	return nil
}

// ReadUnitReal is the inverse of AddUnitReal.
func (d *DataBuffer) ReadUnitReal(level CompressionLevel) (float64, error) {
	if d.mode != modeRead {
		return 0, ErrReadInWriteMode
	}
	bits := positiveUnitRealBitWidth(level)
	raw, err := d.buffer.ReadBits(d.cursor, bits)
	if err != nil {
		d.fail()
		return 0, nil
	}
	d.cursor += bits
	signBit, err := d.buffer.ReadBits(d.cursor, 1)
	if err != nil {
		d.fail()
		return 0, nil
	}
	d.cursor++
	maxValue := float64(uint64(1)<<uint(bits) - 1)
	mag := decompressUnitFloat(raw, maxValue)
	if signBit != 0 {
		mag = -mag
	}
	return mag, nil
}

// AddVector2 appends two reals, each through AddReal at level.
func (d *DataBuffer) AddVector2(v Vector2, level CompressionLevel) error {
	if err := d.AddReal(v.X, level); err != nil {
		return err
	}
	return d.AddReal(v.Y, level)
}

// ReadVector2 is the inverse of AddVector2.
func (d *DataBuffer) ReadVector2(level CompressionLevel) (Vector2, error) {
	x, err := d.ReadReal(level)
	if err != nil {
		return Vector2{}, err
	}
	y, err := d.ReadReal(level)
	return Vector2{X: x, Y: y}, err
}

// AddVector3 appends three reals, each through AddReal at level.
func (d *DataBuffer) AddVector3(v Vector3, level CompressionLevel) error {
	if err := d.AddReal(v.X, level); err != nil {
		return err
	}
	if err := d.AddReal(v.Y, level); err != nil {
		return err
	}
	return d.AddReal(v.Z, level)
}

// ReadVector3 is the inverse of AddVector3.
func (d *DataBuffer) ReadVector3(level CompressionLevel) (Vector3, error) {
	x, err := d.ReadReal(level)
	if err != nil {
		return Vector3{}, err
	}
	y, err := d.ReadReal(level)
	if err != nil {
		return Vector3{}, err
	}
	z, err := d.ReadReal(level)
	return Vector3{X: x, Y: y, Z: z}, err
}

const tau = 2 * math.Pi

// AddNormalizedVector2 encodes a unit-length direction as one zero-flag
// bit plus a quantized angle in [0,2pi). The zero-vector case is encoded
// explicitly rather than as an arbitrary angle.
func (d *DataBuffer) AddNormalizedVector2(v Vector2, level CompressionLevel) error {
	if d.mode != modeWrite {
		return ErrWriteInReadMode
	}
	totalBits := normalizedVector2BitWidth(level)
	angleBits := totalBits - 1
	isZero := v.X == 0 && v.Y == 0
	if err := d.AddBool(isZero); err != nil {
		return err
	}
	maxAngle := float64(uint64(1)<<uint(angleBits) - 1)
	var compressed uint64
	if !isZero {
		angle := netmath.Atan2(v.Y, v.X)
		normalized := (angle + math.Pi) / tau
		compressed = compressUnitFloat(normalized, maxAngle)
	}
	if err := d.makeRoomInBits(angleBits); err != nil {
		return err
	}
	if err := d.buffer.StoreBits(d.cursor, compressed, angleBits); err != nil {
		d.fail()
		return err
	}
	d.cursor += angleBits
	return nil
}

// ReadNormalizedVector2 is the inverse of AddNormalizedVector2.
func (d *DataBuffer) ReadNormalizedVector2(level CompressionLevel) (Vector2, error) {
	if d.mode != modeRead {
		return Vector2{}, ErrReadInWriteMode
	}
	totalBits := normalizedVector2BitWidth(level)
	angleBits := totalBits - 1
	isZero, err := d.ReadBool()
	if err != nil {
		return Vector2{}, err
	}
	raw, err := d.buffer.ReadBits(d.cursor, angleBits)
	if err != nil {
		d.fail()
		return Vector2{}, nil
	}
	d.cursor += angleBits
	if isZero {
		return Vector2{}, nil
	}
	maxAngle := float64(uint64(1)<<uint(angleBits) - 1)
	normalized := decompressUnitFloat(raw, maxAngle)
	angle := normalized*tau - math.Pi
	return Vector2{X: netmath.Cos(angle), Y: netmath.Sin(angle)}, nil
}

// AddNormalizedVector3 encodes three unit-reals. The decoded vector is
// not re-normalized; the quantization artifact is accepted as intentional.
func (d *DataBuffer) AddNormalizedVector3(v Vector3, level CompressionLevel) error {
	if err := d.AddUnitReal(v.X, level); err != nil {
		return err
	}
	if err := d.AddUnitReal(v.Y, level); err != nil {
		return err
	}
	return d.AddUnitReal(v.Z, level)
}

// ReadNormalizedVector3 is the inverse of AddNormalizedVector3.
func (d *DataBuffer) ReadNormalizedVector3(level CompressionLevel) (Vector3, error) {
	x, err := d.ReadUnitReal(level)
	if err != nil {
		return Vector3{}, err
	}
	y, err := d.ReadUnitReal(level)
	if err != nil {
		return Vector3{}, err
	}
	z, err := d.ReadUnitReal(level)
	return Vector3{X: x, Y: y, Z: z}, err
}
