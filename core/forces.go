package core

import (
	"fmt"
	"math"
)

// GravitationalConstant is the standard value in N·m²/kg².
const GravitationalConstant = 6.67430e-11

// Gravity returns the Newtonian force exerted by primary on secondary,
// pointing from the secondary towards the primary. Coincident positions
// leave the direction undefined and are reported as ErrCoincidentBodies.
func Gravity(g float64, primary, secondary Body) (Vec3, error) {
	r := secondary.Position.Sub(primary.Position)
	d2 := r.NormSq()
	if d2 == 0 {
		return Vec3{}, fmt.Errorf("gravity: %w", ErrCoincidentBodies)
	}
	magnitude := g * primary.Mass * secondary.Mass / d2
	return r.Unit().Scale(-magnitude), nil
}

// Drag returns the atmospheric drag force on secondary for a primary of
// the given radius. Position is taken relative to the primary's centre.
//
// Below the surface the exponential model is undefined and the result is
// the zero vector; a body at rest also feels no drag.
func Drag(secondary Body, primaryRadius float64) Vec3 {
	altitude := secondary.Position.Norm() - primaryRadius
	if altitude < 0 {
		return Vec3{}
	}
	speed2 := secondary.Velocity.NormSq()
	if speed2 == 0 {
		return Vec3{}
	}

	p := secondary.Drag
	density := AirDensity(p.SeaLevelDensity, p.ScaleHeight, altitude)
	magnitude := 0.5 * density * speed2 * p.Coefficient * p.Area
	return secondary.Velocity.Unit().Scale(-magnitude)
}

// AirDensity evaluates the exponential atmosphere at altitude (metres).
func AirDensity(seaLevel, scaleHeight, altitude float64) float64 {
	if scaleHeight <= 0 {
		return 0
	}
	return seaLevel * math.Exp(-altitude/scaleHeight)
}

// CircularSpeed returns the speed of a circular orbit of radius r about
// a primary of mass m.
func CircularSpeed(g, m, r float64) float64 {
	if r <= 0 {
		return 0
	}
	return math.Sqrt(g * m / r)
}
