package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/orbit-simulator/model"
)

// Vec3 is an inertial-frame vector in SI units. It is a value type:
// every operation returns a new vector and never mutates its receiver.
type Vec3 struct {
	X, Y, Z float64
}

// VecFromModel converts a template/config vector.
func VecFromModel(v model.Vec) Vec3 {
	return Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

// Model converts v into the plain model representation.
func (v Vec3) Model() model.Vec {
	return model.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

func (v Vec3) r3() r3.Vec { return r3.Vec(v) }

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3(r3.Add(v.r3(), other.r3()))
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3(r3.Sub(v.r3(), other.r3()))
}

// Scale returns v * f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3(r3.Scale(f, v.r3()))
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return r3.Dot(v.r3(), other.r3())
}

// Cross returns v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3(r3.Cross(v.r3(), other.r3()))
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return r3.Norm(v.r3())
}

// NormSq returns the squared Euclidean norm.
func (v Vec3) NormSq() float64 {
	return r3.Norm2(v.r3())
}

// Unit returns v scaled to length one. The zero vector has no direction
// and yields the zero vector rather than NaN components.
func (v Vec3) Unit() Vec3 {
	if v.NormSq() == 0 {
		return Vec3{}
	}
	return Vec3(r3.Unit(v.r3()))
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// IsFinite reports whether no component is NaN or infinite.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
