package core

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// MinOrientSpeedSq is the squared speed (m²/s²) below which a secondary's
// facing direction is left unchanged.
const MinOrientSpeedSq = 0.1

// Orientation is a unit quaternion rotating body-local axes into the
// inertial frame.
type Orientation quat.Number

// IdentityOrientation is the zero rotation.
func IdentityOrientation() Orientation {
	return Orientation{Real: 1}
}

// AxisAngle returns the rotation of angle radians about axis.
func AxisAngle(axis Vec3, angle float64) Orientation {
	u := axis.Unit()
	if u.NormSq() == 0 {
		return IdentityOrientation()
	}
	s, c := math.Sincos(angle / 2)
	return Orientation{Real: c, Imag: u.X * s, Jmag: u.Y * s, Kmag: u.Z * s}
}

// Mul composes o followed by the body-local rotation r.
func (o Orientation) Mul(r Orientation) Orientation {
	return Orientation(quat.Mul(quat.Number(o), quat.Number(r)))
}

// Normalize rescales o to unit length.
func (o Orientation) Normalize() Orientation {
	n := quat.Abs(quat.Number(o))
	if n == 0 {
		return IdentityOrientation()
	}
	return Orientation(quat.Scale(1/n, quat.Number(o)))
}

// Rotate applies o to v.
func (o Orientation) Rotate(v Vec3) Vec3 {
	q := quat.Number(o)
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return Vec3{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// LookAt returns the rotation whose local +Z axis points from target back
// to eye and whose local +Y axis is as close to up as possible. This is
// the usual scene-graph look-at convention.
func LookAt(eye, target, up Vec3) Orientation {
	z := eye.Sub(target).Unit()
	if z.NormSq() == 0 {
		z = Vec3{Z: 1}
	}
	x := up.Cross(z)
	if x.NormSq() == 0 {
		// up is parallel to the view axis; borrow the axis least aligned
		// with z so the frame stays right-handed.
		x = referenceAxis(z).Cross(z)
	}
	x = x.Unit()
	y := z.Cross(x)
	return fromBasis(x, y, z)
}

// OrientAlongVelocity points a secondary along its velocity with the
// orbital-plane normal as up, then applies the +90° local X correction
// for assets modelled along +Z. At or below MinOrientSpeedSq the current
// orientation is returned unchanged.
func OrientAlongVelocity(b Body, current Orientation) Orientation {
	if b.Velocity.NormSq() <= MinOrientSpeedSq {
		return current
	}
	forward := b.Velocity.Unit()
	up := b.Position.Unit().Cross(b.Velocity).Unit()
	look := LookAt(b.Position, b.Position.Add(forward), up)
	return look.Mul(AxisAngle(Vec3{X: 1}, math.Pi/2)).Normalize()
}

func referenceAxis(v Vec3) Vec3 {
	ax, ay, az := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	switch {
	case ax <= ay && ax <= az:
		return Vec3{X: 1}
	case ay <= az:
		return Vec3{Y: 1}
	default:
		return Vec3{Z: 1}
	}
}

// fromBasis converts the rotation matrix with columns x, y, z into a
// quaternion.
func fromBasis(x, y, z Vec3) Orientation {
	m11, m12, m13 := x.X, y.X, z.X
	m21, m22, m23 := x.Y, y.Y, z.Y
	m31, m32, m33 := x.Z, y.Z, z.Z

	var q Orientation
	switch trace := m11 + m22 + m33; {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = Orientation{
			Real: 0.25 / s,
			Imag: (m32 - m23) * s,
			Jmag: (m13 - m31) * s,
			Kmag: (m21 - m12) * s,
		}
	case m11 > m22 && m11 > m33:
		s := 2 * math.Sqrt(1+m11-m22-m33)
		q = Orientation{
			Real: (m32 - m23) / s,
			Imag: 0.25 * s,
			Jmag: (m12 + m21) / s,
			Kmag: (m13 + m31) / s,
		}
	case m22 > m33:
		s := 2 * math.Sqrt(1+m22-m11-m33)
		q = Orientation{
			Real: (m13 - m31) / s,
			Imag: (m12 + m21) / s,
			Jmag: 0.25 * s,
			Kmag: (m23 + m32) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m33-m11-m22)
		q = Orientation{
			Real: (m21 - m12) / s,
			Imag: (m13 + m31) / s,
			Jmag: (m23 + m32) / s,
			Kmag: 0.25 * s,
		}
	}
	return q.Normalize()
}
