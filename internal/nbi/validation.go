package nbi

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/model"
)

// CreateBodyRequest is the decoded form of a CreateBody Struct.
type CreateBodyRequest struct {
	Template     string
	Role         model.Role
	Name         string
	Primary      string
	Position     *core.Vec3
	Velocity     *core.Vec3
	Flags        *model.ForceFlags
	PlaceInScene bool
}

// ForceFlagsRequest is the decoded form of a SetForceFlags Struct.
type ForceFlagsRequest struct {
	Handle core.BodyHandle
	Flags  model.ForceFlags
	Drag   *model.DragParams
}

// ParseCreateBody validates a CreateBody request. Recognised fields:
// template, role, name, primary (body name), position, velocity, forces,
// in_scene.
func ParseCreateBody(in *structpb.Struct) (CreateBodyRequest, error) {
	var req CreateBodyRequest
	if in == nil {
		return req, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	f := in.GetFields()

	req.Template = strings.TrimSpace(f["template"].GetStringValue())
	if req.Template == "" {
		return req, fmt.Errorf("%w: template is required", ErrInvalidRequest)
	}
	role, err := model.ParseRole(strings.ToLower(f["role"].GetStringValue()))
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Role = role
	req.Name = f["name"].GetStringValue()
	req.Primary = f["primary"].GetStringValue()
	if req.Primary != "" && role == model.RolePrimary {
		return req, fmt.Errorf("%w: primary bodies cannot name a primary", ErrInvalidRequest)
	}

	if v, ok := f["position"]; ok {
		p, err := vecField("position", v)
		if err != nil {
			return req, err
		}
		req.Position = &p
	}
	if v, ok := f["velocity"]; ok {
		vel, err := vecField("velocity", v)
		if err != nil {
			return req, err
		}
		req.Velocity = &vel
	}
	if v, ok := f["forces"]; ok {
		flags, err := flagsField(v)
		if err != nil {
			return req, err
		}
		req.Flags = &flags
	}
	req.PlaceInScene = f["in_scene"].GetBoolValue()
	return req, nil
}

// ParseInScene validates a SetInScene request: {handle, in_scene}.
func ParseInScene(in *structpb.Struct) (core.BodyHandle, bool, error) {
	if in == nil {
		return 0, false, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	f := in.GetFields()
	h, err := handleField(f)
	if err != nil {
		return 0, false, err
	}
	v, ok := f["in_scene"]
	if !ok {
		return 0, false, fmt.Errorf("%w: in_scene is required", ErrInvalidRequest)
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return 0, false, fmt.Errorf("%w: in_scene must be a bool", ErrInvalidRequest)
	}
	return h, v.GetBoolValue(), nil
}

// ParseForceFlags validates a SetForceFlags request:
// {handle, forces: {enabled, gravity, drag}, drag?: {coefficient, area,
// sea_level_density, scale_height}}.
func ParseForceFlags(in *structpb.Struct) (ForceFlagsRequest, error) {
	var req ForceFlagsRequest
	if in == nil {
		return req, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	f := in.GetFields()
	h, err := handleField(f)
	if err != nil {
		return req, err
	}
	req.Handle = h

	forces, ok := f["forces"]
	if !ok {
		return req, fmt.Errorf("%w: forces is required", ErrInvalidRequest)
	}
	if req.Flags, err = flagsField(forces); err != nil {
		return req, err
	}

	if v, ok := f["drag"]; ok {
		s := v.GetStructValue()
		if s == nil {
			return req, fmt.Errorf("%w: drag must be an object", ErrInvalidRequest)
		}
		d := s.GetFields()
		for _, key := range dragKeys {
			if _, isNum := d[key].GetKind().(*structpb.Value_NumberValue); !isNum {
				return req, fmt.Errorf("%w: drag.%s must be a number", ErrInvalidRequest, key)
			}
		}
		req.Drag = &model.DragParams{
			Coefficient:     d["coefficient"].GetNumberValue(),
			Area:            d["area"].GetNumberValue(),
			SeaLevelDensity: d["sea_level_density"].GetNumberValue(),
			ScaleHeight:     d["scale_height"].GetNumberValue(),
		}
	}
	return req, nil
}

// dragKeys must all be present in a drag object.
var dragKeys = []string{"coefficient", "area", "sea_level_density", "scale_height"}

func handleField(f map[string]*structpb.Value) (core.BodyHandle, error) {
	v, ok := f["handle"]
	if !ok {
		return 0, fmt.Errorf("%w: handle is required", ErrInvalidRequest)
	}
	n := v.GetNumberValue()
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum || n < 0 || n != math.Trunc(n) || n > 1<<53 {
		return 0, fmt.Errorf("%w: handle must be a non-negative integer", ErrInvalidRequest)
	}
	return core.BodyHandle(n), nil
}

func vecField(name string, v *structpb.Value) (core.Vec3, error) {
	s := v.GetStructValue()
	if s == nil {
		return core.Vec3{}, fmt.Errorf("%w: %s must be an object with x, y, z", ErrInvalidRequest, name)
	}
	f := s.GetFields()
	out := core.Vec3{
		X: f["x"].GetNumberValue(),
		Y: f["y"].GetNumberValue(),
		Z: f["z"].GetNumberValue(),
	}
	if !out.IsFinite() {
		return core.Vec3{}, fmt.Errorf("%w: %s must be finite", ErrInvalidRequest, name)
	}
	return out, nil
}

func flagsField(v *structpb.Value) (model.ForceFlags, error) {
	s := v.GetStructValue()
	if s == nil {
		return model.ForceFlags{}, fmt.Errorf("%w: forces must be an object", ErrInvalidRequest)
	}
	f := s.GetFields()
	return model.ForceFlags{
		ForcesEnabled:  f["enabled"].GetBoolValue(),
		GravityEnabled: f["gravity"].GetBoolValue(),
		DragEnabled:    f["drag"].GetBoolValue(),
	}, nil
}
