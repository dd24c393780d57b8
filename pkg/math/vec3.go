// Package math holds the float sample types handed over by the scene layer
// and their conversion to the fixed-point units stored in animations.
package math

// Vec3 is one x/y/z sample: a translation or Euler angles in radians.
type Vec3 struct {
	X, Y, Z float32
}

// Scale returns v * s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Array returns the components in x, y, z order.
func (v Vec3) Array() [3]float32 {
	return [3]float32{v.X, v.Y, v.Z}
}
