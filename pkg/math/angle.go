package math

import "github.com/chewxy/math32"

// Round rounds half to even.
func Round(x float32) float32 {
	f := math32.Floor(x)
	d := x - f
	if d > 0.5 || (d == 0.5 && math32.Mod(f, 2) != 0) {
		f++
	}
	return f
}

// ToS16 rounds x and wraps it into the signed 16-bit range.
func ToS16(x float32) int16 {
	return int16(int64(Round(x)))
}

// RadiansToS16 converts an angle to SM64 binary angle units, where a full
// turn is 0x10000.
func RadiansToS16(r float32) int16 {
	return ToS16(r * 0x10000 / (2 * math32.Pi))
}

// S16ToRadians converts binary angle units to radians in [0, 2π).
func S16ToRadians(v int16) float32 {
	return float32(uint16(v)) * (2 * math32.Pi) / 0x10000
}

// WrapAngle returns r in (-π, π].
func WrapAngle(r float32) float32 {
	r = math32.Mod(r+math32.Pi, 2*math32.Pi)
	if r <= 0 {
		r += 2 * math32.Pi
	}
	return r - math32.Pi
}
