package nbi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/model"
)

func vecMap(v model.Vec) map[string]any {
	return map[string]any{"x": v.X, "y": v.Y, "z": v.Z}
}

// bodyMap is the wire form of a body shared by gRPC responses and the
// websocket stream.
func bodyMap(b core.BodySnapshot) map[string]any {
	m := map[string]any{
		"handle":   float64(b.Handle),
		"name":     b.Name,
		"role":     b.Role.String(),
		"asset":    b.Asset,
		"scale":    vecMap(b.Scale),
		"position": vecMap(b.Position),
		"velocity": vecMap(b.Velocity),
		"orientation": map[string]any{
			"w": b.Orientation.Real,
			"x": b.Orientation.Imag,
			"y": b.Orientation.Jmag,
			"z": b.Orientation.Kmag,
		},
		"in_scene": b.InScene,
	}
	if b.Role == model.RoleSecondary {
		m["primary"] = float64(b.Primary)
	}
	if b.Failure != "" {
		m["failure"] = b.Failure
	}
	return m
}

// BodyToStruct encodes a body snapshot.
func BodyToStruct(b core.BodySnapshot) (*structpb.Struct, error) {
	return structpb.NewStruct(bodyMap(b))
}

// BodiesToList encodes snapshots in order.
func BodiesToList(bodies []core.BodySnapshot) (*structpb.ListValue, error) {
	items := make([]any, 0, len(bodies))
	for _, b := range bodies {
		items = append(items, bodyMap(b))
	}
	return structpb.NewList(items)
}

// ReportToStruct encodes a step report with the simulation time reached.
func ReportToStruct(r *core.StepReport, simTime time.Time) (*structpb.Struct, error) {
	failures := make([]any, 0, len(r.Failures))
	for _, f := range r.Failures {
		failures = append(failures, map[string]any{
			"handle": float64(f.Handle),
			"name":   f.Name,
			"error":  f.Err.Error(),
		})
	}
	return structpb.NewStruct(map[string]any{
		"tick":        float64(r.Tick),
		"dt":          r.DT,
		"primaries":   r.Primaries,
		"secondaries": r.Secondaries,
		"failures":    failures,
		"sim_time":    simTime.UTC().Format(time.RFC3339Nano),
	})
}
