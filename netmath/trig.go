// Package netmath supplies the deterministic trigonometric backend the
// quantized vector codecs in package databuffer are built on. Standard
// library math functions are not guaranteed bit-identical across
// platforms; a fixed polynomial approximation is, which matters here
// because a minifloat-quantized angle must decode to the same value on
// every peer.
package netmath

import "math"

const (
	tau = 2 * math.Pi
)

// Sin returns a platform-stable approximation of sin(x), with an
// absolute error of about 1e-3 over the full range, via range reduction
// into [-pi,pi] followed by a parabolic approximation.
func Sin(x float64) float64 {
	x = reduceToPi(x)
	// Parabola through sin's zeros and peaks, refined with one
	// correction term; deterministic because it uses only +,-,*,/ on
	// float64.
	const b = 4.0 / (math.Pi * math.Pi)
	const c = 4.0 / math.Pi
	y := c*x - b*x*absf(x)
	const p = 0.225
	y = p*(y*absf(y)-y) + y
	return y
}

// Cos returns a platform-stable approximation of cos(x), defined in terms
// of Sin via the quarter-turn identity so both share one polynomial.
func Cos(x float64) float64 {
	return Sin(x + math.Pi/2)
}

// Atan2 returns a platform-stable approximation of atan2(y, x) accurate
// to within 1e-5, using a standard polynomial atan approximation with
// quadrant correction.
func Atan2(y, x float64) float64 {
	if x == 0 && y == 0 {
		return 0
	}
	ax, ay := absf(x), absf(y)
	var a float64
	if ax >= ay {
		a = atanApprox(safeDiv(ay, ax))
	} else {
		a = math.Pi/2 - atanApprox(safeDiv(ax, ay))
	}
	switch {
	case x >= 0 && y >= 0:
		return a
	case x < 0 && y >= 0:
		return math.Pi - a
	case x < 0 && y < 0:
		return a - math.Pi
	default:
		return -a
	}
}

func atanApprox(z float64) float64 {
	const a1 = 0.9998660
	const a3 = -0.3302995
	const a5 = 0.1801410
	const a7 = -0.0851330
	const a9 = 0.0208351
	z2 := z * z
	return z * (a1 + z2*(a3+z2*(a5+z2*(a7+z2*a9))))
}

func reduceToPi(x float64) float64 {
	n := math.Floor((x + math.Pi) / tau)
	return x - n*tau
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
