package databuffer

import (
	"math"
	"testing"
)

func TestBoolInt8BoolPacksToTenBits(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	if err := d.AddBool(true); err != nil {
		t.Fatal(err)
	}
	if err := d.AddInt(-5, CompressionLevel3); err != nil {
		t.Fatal(err)
	}
	if err := d.AddBool(false); err != nil {
		t.Fatal(err)
	}
	if d.Size() != 10 {
		t.Fatalf("expected 10 bits written, got %d", d.Size())
	}

	d.BeginRead()
	b1, err := d.ReadBool()
	if err != nil || b1 != true {
		t.Fatalf("first bool: got %v err %v", b1, err)
	}
	n, err := d.ReadInt(CompressionLevel3)
	if err != nil || n != -5 {
		t.Fatalf("int8: got %d err %v", n, err)
	}
	b2, err := d.ReadBool()
	if err != nil || b2 != false {
		t.Fatalf("second bool: got %v err %v", b2, err)
	}
}

func TestRealMinifloatExactRoundTrip(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	if err := d.AddReal(3.25, CompressionLevel3); err != nil {
		t.Fatal(err)
	}
	d.BeginRead()
	got, err := d.ReadReal(CompressionLevel3)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3.25 {
		t.Fatalf("expected exact 3.25, got %v", got)
	}
}

func TestRealMinifloatClampsOverflow(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	if err := d.AddReal(1e30, CompressionLevel3); err != nil {
		t.Fatal(err)
	}
	d.BeginRead()
	got, err := d.ReadReal(CompressionLevel3)
	if err != nil {
		t.Fatal(err)
	}
	m, e := mantissaBits(CompressionLevel3), exponentBits(CompressionLevel3)
	want := maxRealValue(m, e, biasFor(CompressionLevel3, e))
	if got != want {
		t.Fatalf("expected clamp to %v, got %v", want, got)
	}

	// negative overflow clamps symmetrically.
	d2 := New()
	d2.BeginWrite(0)
	d2.AddReal(-1e30, CompressionLevel3)
	d2.BeginRead()
	got2, _ := d2.ReadReal(CompressionLevel3)
	if got2 != -want {
		t.Fatalf("expected clamp to %v, got %v", -want, got2)
	}
}

func TestRealRoundTripAcrossLevels(t *testing.T) {
	values := []float64{0, 1, -1, 0.5, 123.456, -9999.125}
	for _, level := range []CompressionLevel{CompressionLevel0, CompressionLevel1, CompressionLevel2, CompressionLevel3} {
		for _, v := range values {
			d := New()
			d.BeginWrite(0)
			d.AddReal(v, level)
			d.BeginRead()
			got, err := d.ReadReal(level)
			if err != nil {
				t.Fatalf("level %d value %v: %v", level, v, err)
			}
			// idempotent: re-encoding the decoded value must match exactly.
			d2 := New()
			d2.BeginWrite(0)
			d2.AddReal(got, level)
			d2.BeginRead()
			got2, _ := d2.ReadReal(level)
			if got2 != got {
				t.Fatalf("level %d not idempotent: %v -> %v -> %v", level, v, got, got2)
			}
		}
	}
}

func TestPositiveUnitRealClampsToRange(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	d.AddPositiveUnitReal(1.5, CompressionLevel0)
	d.AddPositiveUnitReal(-1.0, CompressionLevel0)
	d.BeginRead()
	hi, _ := d.ReadPositiveUnitReal(CompressionLevel0)
	lo, _ := d.ReadPositiveUnitReal(CompressionLevel0)
	if hi != 1 {
		t.Fatalf("expected clamp to 1, got %v", hi)
	}
	if lo != 0 {
		t.Fatalf("expected clamp to 0, got %v", lo)
	}
}

func TestUnitRealSignRoundTrip(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	d.AddUnitReal(-0.75, CompressionLevel0)
	d.BeginRead()
	got, _ := d.ReadUnitReal(CompressionLevel0)
	if math.Abs(got-(-0.75)) > 1e-3 {
		t.Fatalf("expected ~-0.75, got %v", got)
	}
}

func TestNormalizedVector2ZeroFlag(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	d.AddNormalizedVector2(Vector2{}, CompressionLevel0)
	d.BeginRead()
	got, _ := d.ReadNormalizedVector2(CompressionLevel0)
	if got.X != 0 || got.Y != 0 {
		t.Fatalf("expected zero vector, got %+v", got)
	}
}

func TestNormalizedVector2ApproximatesAngle(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	d.AddNormalizedVector2(Vector2{X: 1, Y: 0}, CompressionLevel0)
	d.BeginRead()
	got, _ := d.ReadNormalizedVector2(CompressionLevel0)
	if math.Abs(got.X-1) > 1e-2 || math.Abs(got.Y) > 1e-2 {
		t.Fatalf("expected ~(1,0), got %+v", got)
	}
}

func TestAddDataBufferRoundTrip(t *testing.T) {
	inner := New()
	inner.BeginWrite(0)
	inner.AddInt(42, CompressionLevel1)
	inner.AddBool(true)

	outer := New()
	outer.BeginWrite(0)
	if err := outer.AddDataBuffer(inner); err != nil {
		t.Fatal(err)
	}
	outer.BeginRead()
	got, err := outer.ReadDataBuffer()
	if err != nil {
		t.Fatal(err)
	}
	got.BeginRead()
	n, _ := got.ReadInt(CompressionLevel1)
	b, _ := got.ReadBool()
	if n != 42 || !b {
		t.Fatalf("sub-buffer round trip mismatch: n=%d b=%v", n, b)
	}
}

func TestAddStringRoundTrip(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	if err := d.AddString("hello, netsync"); err != nil {
		t.Fatal(err)
	}
	d.BeginRead()
	got, err := d.ReadString()
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello, netsync" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteSequenceCursorMatchesSumOfWidths(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	d.AddBool(true)
	d.AddInt(7, CompressionLevel3)
	d.AddUint(300, CompressionLevel2)
	d.AddReal(1.5, CompressionLevel1)

	want := 1 + 8 + 16 + realBitWidth(CompressionLevel1)
	if d.GetBitOffset() != want {
		t.Fatalf("cursor = %d, want %d", d.GetBitOffset(), want)
	}
}

func TestOutOfRangeReadLatchesFailedAndReturnsZero(t *testing.T) {
	d := New()
	d.BeginWrite(0)
	d.AddBool(true)
	d.BeginRead()
	d.ReadBool()
	v, err := d.ReadInt(CompressionLevel0) // nothing left to read
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected zero value on failed read, got %d", v)
	}
	if !d.Failed() {
		t.Fatal("expected failed flag to latch")
	}
}
