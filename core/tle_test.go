package core

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/orbit-simulator/model"
)

// ISS sample TLE.
const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

func TestTemplateFromTLE(t *testing.T) {
	at := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	tpl, err := TemplateFromTLE(TLESource{
		Name:  "ISS",
		Line1: issLine1,
		Line2: issLine2,
		Mass:  420000,
		Flags: model.ForceFlags{ForcesEnabled: true, GravityEnabled: true},
	}, at)
	if err != nil {
		t.Fatalf("TemplateFromTLE: %v", err)
	}
	if tpl.Role != model.RoleSecondary || tpl.Name != "ISS" || tpl.Mass != 420000 {
		t.Fatalf("template = %#v", tpl)
	}

	alt := VecFromModel(tpl.Position).Norm() - earthRadius
	if alt < 300e3 || alt > 500e3 {
		t.Fatalf("ISS altitude = %.0f m, want 300-500 km", alt)
	}
	speed := VecFromModel(tpl.Velocity).Norm()
	if speed < 7400 || speed > 7800 {
		t.Fatalf("ISS speed = %.1f m/s, want ~7.66 km/s", speed)
	}
}

// We don't assert exact SGP4 values (those belong to go-satellite); we
// check that the Verlet stepper stays close to the SGP4 track over a few
// minutes when seeded from the same state.
func TestTLESeededBodyTracksSGP4(t *testing.T) {
	at := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	src := TLESource{
		Name:  "ISS",
		Line1: issLine1,
		Line2: issLine2,
		Mass:  420000,
		Flags: model.ForceFlags{ForcesEnabled: true, GravityEnabled: true},
	}
	start, err := TemplateFromTLE(src, at)
	if err != nil {
		t.Fatalf("TemplateFromTLE: %v", err)
	}
	later, err := TemplateFromTLE(src, at.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("TemplateFromTLE later: %v", err)
	}

	tpls := testTemplates()
	tpls["ISS"] = start
	s := NewStepper(tpls)
	earthH, _ := s.CreateBody("Earth", model.RolePrimary)
	if err := s.SetInScene(earthH, true); err != nil {
		t.Fatalf("SetInScene Earth: %v", err)
	}
	iss, err := s.CreateBody("ISS", model.RoleSecondary)
	if err != nil {
		t.Fatalf("CreateBody ISS: %v", err)
	}
	if err := s.SetInScene(iss, true); err != nil {
		t.Fatalf("SetInScene ISS: %v", err)
	}

	for i := 0; i < 300; i++ {
		if _, err := s.Step(context.Background(), 1); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	pos, _ := s.Position(iss)
	// Two-body gravity ignores J2 and uses a different Earth model, so
	// allow a few tens of kilometres.
	if miss := pos.DistanceTo(VecFromModel(later.Position)); miss > 50e3 || math.IsNaN(miss) {
		t.Fatalf("stepped ISS is %.0f m from the SGP4 position", miss)
	}
}
