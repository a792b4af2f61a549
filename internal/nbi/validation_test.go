package nbi

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/model"
)

func TestParseCreateBody(t *testing.T) {
	req, err := ParseCreateBody(mustStruct(t, map[string]any{
		"template": " Satellite ",
		"role":     "SECONDARY",
		"name":     "sat-7",
		"primary":  "Earth",
		"position": map[string]any{"x": 7e6, "y": 0, "z": 0},
		"forces":   map[string]any{"enabled": true, "gravity": true},
		"in_scene": true,
	}))
	if err != nil {
		t.Fatalf("ParseCreateBody: %v", err)
	}
	if req.Template != "Satellite" || req.Role != model.RoleSecondary || req.Name != "sat-7" || req.Primary != "Earth" {
		t.Fatalf("request = %+v", req)
	}
	if req.Position == nil || *req.Position != (core.Vec3{X: 7e6}) || req.Velocity != nil {
		t.Fatalf("position/velocity = %v/%v", req.Position, req.Velocity)
	}
	if req.Flags == nil || !req.Flags.ForcesEnabled || !req.Flags.GravityEnabled || req.Flags.DragEnabled {
		t.Fatalf("flags = %+v", req.Flags)
	}
	if !req.PlaceInScene {
		t.Fatal("in_scene not parsed")
	}
}

func TestParseCreateBodyRejects(t *testing.T) {
	cases := map[string]map[string]any{
		"missing template":     {"role": "secondary"},
		"unknown role":         {"template": "Satellite", "role": "moon"},
		"primary with primary": {"template": "Earth", "role": "primary", "primary": "Sun"},
		"position not object":  {"template": "Satellite", "role": "secondary", "position": 3},
		"forces not object":    {"template": "Satellite", "role": "secondary", "forces": true},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCreateBody(mustStruct(t, fields)); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if _, err := ParseCreateBody(nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("nil request err = %v", err)
	}
}

func TestParseInScene(t *testing.T) {
	h, in, err := ParseInScene(mustStruct(t, map[string]any{"handle": 3, "in_scene": false}))
	if err != nil || h != 3 || in {
		t.Fatalf("ParseInScene = %d, %v, %v", h, in, err)
	}
	for _, fields := range []map[string]any{
		{"in_scene": true},
		{"handle": -1, "in_scene": true},
		{"handle": 1.5, "in_scene": true},
		{"handle": "1", "in_scene": true},
		{"handle": 1},
		{"handle": 1, "in_scene": "yes"},
	} {
		if _, _, err := ParseInScene(mustStruct(t, fields)); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("ParseInScene(%v) err = %v, want ErrInvalidRequest", fields, err)
		}
	}
}

func TestParseForceFlagsWithDrag(t *testing.T) {
	req, err := ParseForceFlags(mustStruct(t, map[string]any{
		"handle": 2,
		"forces": map[string]any{"enabled": true, "gravity": true, "drag": true},
		"drag":   map[string]any{"coefficient": 2.2, "area": 4, "sea_level_density": 1.225, "scale_height": 8500},
	}))
	if err != nil {
		t.Fatalf("ParseForceFlags: %v", err)
	}
	want := model.DragParams{Coefficient: 2.2, Area: 4, SeaLevelDensity: 1.225, ScaleHeight: 8500}
	if req.Handle != 2 || !req.Flags.DragEnabled || req.Drag == nil || *req.Drag != want {
		t.Fatalf("request = %+v drag = %+v", req, req.Drag)
	}

	if _, err := ParseForceFlags(&structpb.Struct{Fields: map[string]*structpb.Value{
		"handle": structpb.NewNumberValue(2),
	}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing forces err = %v", err)
	}
}

func TestParseForceFlagsRequiresFullDrag(t *testing.T) {
	full := map[string]any{"coefficient": 2.2, "area": 4, "sea_level_density": 1.225, "scale_height": 8500}
	for _, key := range []string{"coefficient", "area", "sea_level_density", "scale_height"} {
		drag := map[string]any{}
		for k, v := range full {
			if k != key {
				drag[k] = v
			}
		}
		_, err := ParseForceFlags(mustStruct(t, map[string]any{
			"handle": 2,
			"forces": map[string]any{"enabled": true, "gravity": true, "drag": true},
			"drag":   drag,
		}))
		if !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("drag without %s err = %v, want ErrInvalidRequest", key, err)
		}
	}
}
