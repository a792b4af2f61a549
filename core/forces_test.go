package core

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/orbit-simulator/model"
)

const (
	earthMass   = 5.972e24
	earthRadius = 6.371e6
)

func earth() Body {
	return Body{Name: "Earth", Role: model.RolePrimary, Mass: earthMass, Radius: earthRadius}
}

func satellite(pos, vel Vec3) Body {
	return Body{
		Name:     "Satellite",
		Role:     model.RoleSecondary,
		Mass:     1000,
		Position: pos,
		Velocity: vel,
		Flags:    model.AllForces(),
		Drag: model.DragParams{
			Coefficient:     2.2,
			Area:            10,
			SeaLevelDensity: 1.225,
			ScaleHeight:     8500,
		},
	}
}

func TestGravityPointsTowardsPrimary(t *testing.T) {
	sat := satellite(Vec3{X: 6.871e6}, Vec3{})
	f, err := Gravity(GravitationalConstant, earth(), sat)
	if err != nil {
		t.Fatalf("Gravity: %v", err)
	}
	want := GravitationalConstant * earthMass * 1000 / (6.871e6 * 6.871e6)
	if math.Abs(f.X+want)/want > 1e-12 || f.Y != 0 || f.Z != 0 {
		t.Fatalf("Gravity = %+v, want (%v, 0, 0)", f, -want)
	}
}

func TestGravityInverseSquare(t *testing.T) {
	p := earth()
	dir := Vec3{X: 1, Y: 2, Z: -3}.Unit()
	for _, d := range []float64{7e6, 1.2e7, 4.2e7} {
		near, err := Gravity(GravitationalConstant, p, satellite(dir.Scale(d), Vec3{}))
		if err != nil {
			t.Fatalf("Gravity(d=%v): %v", d, err)
		}
		far, err := Gravity(GravitationalConstant, p, satellite(dir.Scale(2*d), Vec3{}))
		if err != nil {
			t.Fatalf("Gravity(d=%v): %v", 2*d, err)
		}
		if ratio := near.Norm() / far.Norm(); math.Abs(ratio-4) > 1e-9 {
			t.Fatalf("|F(d)|/|F(2d)| = %v at d=%v, want 4", ratio, d)
		}
	}
}

func TestGravityCoincidentBodies(t *testing.T) {
	p := earth()
	p.Position = Vec3{X: 5, Y: 5, Z: 5}
	_, err := Gravity(GravitationalConstant, p, satellite(Vec3{X: 5, Y: 5, Z: 5}, Vec3{}))
	if !errors.Is(err, ErrCoincidentBodies) {
		t.Fatalf("err = %v, want ErrCoincidentBodies", err)
	}
}

func TestDragZeroBelowSurfaceOrAtRest(t *testing.T) {
	params := []model.DragParams{
		{Coefficient: 2.2, Area: 10, SeaLevelDensity: 1.225, ScaleHeight: 8500},
		{Coefficient: 0.1, Area: 0.01, SeaLevelDensity: 100, ScaleHeight: 1},
		{Coefficient: 50, Area: 1e4, SeaLevelDensity: 1e-9, ScaleHeight: 1e7},
	}
	for _, p := range params {
		below := satellite(Vec3{X: earthRadius - 1}, Vec3{Y: 7000})
		below.Drag = p
		if got := Drag(below, earthRadius); got != (Vec3{}) {
			t.Fatalf("Drag below surface = %+v with %+v, want zero", got, p)
		}

		atRest := satellite(Vec3{X: earthRadius + 1e5}, Vec3{})
		atRest.Drag = p
		if got := Drag(atRest, earthRadius); got != (Vec3{}) {
			t.Fatalf("Drag at rest = %+v with %+v, want zero", got, p)
		}
	}
}

func TestDragOpposesVelocity(t *testing.T) {
	alt := 500e3
	v := Vec3{Y: 7612.6}
	sat := satellite(Vec3{X: earthRadius + alt}, v)

	f := Drag(sat, earthRadius)
	rho := 1.225 * math.Exp(-alt/8500)
	want := 0.5 * rho * v.NormSq() * 2.2 * 10

	if f.X != 0 || f.Z != 0 || f.Y >= 0 {
		t.Fatalf("Drag = %+v, want along -y", f)
	}
	if math.Abs(-f.Y-want)/want > 1e-12 {
		t.Fatalf("|Drag| = %v, want %v", -f.Y, want)
	}
}

func TestDragAtSurface(t *testing.T) {
	sat := satellite(Vec3{Z: earthRadius}, Vec3{X: 10})
	f := Drag(sat, earthRadius)
	want := 0.5 * 1.225 * 100 * 2.2 * 10
	if math.Abs(-f.X-want) > 1e-9 {
		t.Fatalf("Drag at sea level = %+v, want (%v, 0, 0)", f, -want)
	}
}

func TestCircularSpeed(t *testing.T) {
	got := CircularSpeed(GravitationalConstant, earthMass, earthRadius+500e3)
	if math.Abs(got-7616.5) > 1 {
		t.Fatalf("CircularSpeed = %v, want ~7616.5", got)
	}
	if CircularSpeed(GravitationalConstant, earthMass, 0) != 0 {
		t.Fatalf("CircularSpeed at r=0 should be 0")
	}
}
