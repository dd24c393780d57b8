package math

import (
	"math"
	"testing"
)

func TestVec3Ops(t *testing.T) {
	a := Vec3{1, 2, 3}
	if got, want := a.Scale(2), (Vec3{2, 4, 6}); got != want {
		t.Errorf("Vec3.Scale() = %v, want %v", got, want)
	}
	if got, want := a.Array(), [3]float32{1, 2, 3}; got != want {
		t.Errorf("Vec3.Array() = %v, want %v", got, want)
	}
}

func TestToS16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1.4, 1},
		{-1.6, -2},
		{2.5, 2},
		{3.5, 4},
		{-2.5, -2},
		{32767, 32767},
		{32768, -32768},
		{70000, 4464},
	}
	for _, tt := range tests {
		if got := ToS16(tt.in); got != tt.want {
			t.Errorf("ToS16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAngleConversion(t *testing.T) {
	if got := RadiansToS16(float32(math.Pi / 2)); got != 0x4000 {
		t.Errorf("RadiansToS16(pi/2) = 0x%X, want 0x4000", got)
	}
	if got := RadiansToS16(float32(-math.Pi / 2)); got != -0x4000 {
		t.Errorf("RadiansToS16(-pi/2) = %d, want %d", got, -0x4000)
	}
	if got := S16ToRadians(0x4000); math.Abs(float64(got)-math.Pi/2) > 0.0001 {
		t.Errorf("S16ToRadians(0x4000) = %v, want pi/2", got)
	}
	// Negative angles come back in [0, 2pi).
	if got := S16ToRadians(-0x4000); math.Abs(float64(got)-3*math.Pi/2) > 0.0001 {
		t.Errorf("S16ToRadians(-0x4000) = %v, want 3pi/2", got)
	}
	if got := WrapAngle(float32(3 * math.Pi / 2)); math.Abs(float64(got)+math.Pi/2) > 0.0001 {
		t.Errorf("WrapAngle(3pi/2) = %v, want -pi/2", got)
	}
}
