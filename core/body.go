package core

import (
	"fmt"

	"github.com/signalsfoundry/orbit-simulator/model"
)

// BodyHandle identifies a body for the lifetime of a Stepper. Handles are
// never reused.
type BodyHandle uint64

// Body is the physical state of one simulated object. It holds no
// presentation resources, so copying a Body clones its physics only.
type Body struct {
	Name string
	Role model.Role

	Position  Vec3 // m, relative to the primary's nominal origin
	Velocity  Vec3 // m/s
	PrevAccel Vec3 // m/s², acceleration used by the last integration

	Mass   float64 // kg
	Radius float64 // m, primaries only

	Flags model.ForceFlags
	Drag  model.DragParams

	SpinRate    float64 // rad/s, primaries only
	SpinAxis    Vec3
	SpinAngle   float64
	Orientation Orientation

	Scale model.Vec
	Asset string

	InScene bool

	// primed reports whether PrevAccel holds the acceleration at the
	// current position.
	primed bool
}

// Validate checks the invariants a body must hold before it can take
// part in force calculations.
func (b Body) Validate() error {
	if b.Role != model.RolePrimary && b.Role != model.RoleSecondary {
		return fmt.Errorf("%w: %q has unknown role", ErrInvalidBody, b.Name)
	}
	if !(b.Mass > 0) || !isFinite(b.Mass) {
		return fmt.Errorf("%w: %q has mass %v", ErrInvalidBody, b.Name, b.Mass)
	}
	if !b.Position.IsFinite() || !b.Velocity.IsFinite() {
		return fmt.Errorf("%w: %q has non-finite position or velocity", ErrInvalidBody, b.Name)
	}
	if b.Role == model.RolePrimary && (b.Radius < 0 || !isFinite(b.Radius)) {
		return fmt.Errorf("%w: %q has radius %v", ErrInvalidBody, b.Name, b.Radius)
	}
	return nil
}

// Integrate advances position and velocity in place by dt using
// velocity Verlet:
//
//	x' = x + v·dt + ½·a_prev·dt²
//	v' = v + ½·(a_prev + a)·dt
//	a_prev' = a
//
// accel must be the acceleration at x'. With forces disabled, or dt == 0,
// the body is left untouched. A negative dt integrates backwards in time.
func (b *Body) Integrate(dt float64, accel Vec3) {
	if !b.Flags.ForcesEnabled || dt == 0 {
		return
	}
	b.Position = b.PredictPosition(dt)
	b.Velocity = b.Velocity.Add(b.PrevAccel.Add(accel).Scale(0.5 * dt))
	b.PrevAccel = accel
	b.primed = true
}

// PredictPosition returns the position Integrate would produce for dt
// without modifying the body.
func (b Body) PredictPosition(dt float64) Vec3 {
	return b.Position.
		Add(b.Velocity.Scale(dt)).
		Add(b.PrevAccel.Scale(0.5 * dt * dt))
}

// Prime seeds the previous-acceleration cache with the acceleration at
// the current position.
func (b *Body) Prime(accel Vec3) {
	b.PrevAccel = accel
	b.primed = true
}

// Primed reports whether the previous-acceleration cache is current.
func (b Body) Primed() bool { return b.primed }

func (b Body) finite() bool {
	return b.Position.IsFinite() && b.Velocity.IsFinite() && b.PrevAccel.IsFinite()
}

func bodyFromTemplate(t model.BodyTemplate, role model.Role) Body {
	b := Body{
		Name:     t.Name,
		Role:     role,
		Position: VecFromModel(t.Position),
		Velocity: VecFromModel(t.Velocity),
		Mass:     t.Mass,
		Radius:   t.Radius,
		Flags:    t.Flags,
		Drag:     t.Drag,
		SpinRate: t.SpinRate,
		SpinAxis: VecFromModel(t.SpinAxis),
		Scale:    t.Scale,
		Asset:    t.Asset,

		Orientation: IdentityOrientation(),
	}
	if b.SpinAxis.NormSq() == 0 {
		b.SpinAxis = Vec3{Y: 1}
	}
	return b
}
