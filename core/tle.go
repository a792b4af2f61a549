package core

import (
	"fmt"
	"time"

	gosat "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/orbit-simulator/model"
)

// TLESource describes a secondary seeded from a two-line element set.
type TLESource struct {
	Name  string
	Line1 string
	Line2 string
	Mass  float64
	Asset string
	Flags model.ForceFlags
	Drag  model.DragParams
}

// TemplateFromTLE propagates the element set with SGP4 to at and returns
// a secondary template whose state is the resulting ECI position and
// velocity. go-satellite works in kilometres; templates hold metres.
func TemplateFromTLE(src TLESource, at time.Time) (model.BodyTemplate, error) {
	sat := gosat.TLEToSat(src.Line1, src.Line2, gosat.GravityWGS72)

	at = at.UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()
	posECI, velECI := gosat.Propagate(sat, year, int(month), day, hour, min, sec)

	const kmToM = 1000.0
	pos := Vec3{X: posECI.X * kmToM, Y: posECI.Y * kmToM, Z: posECI.Z * kmToM}
	vel := Vec3{X: velECI.X * kmToM, Y: velECI.Y * kmToM, Z: velECI.Z * kmToM}
	if !pos.IsFinite() || !vel.IsFinite() || pos.NormSq() == 0 {
		return model.BodyTemplate{}, fmt.Errorf("%w: TLE %q did not propagate to %s", ErrInvalidBody, src.Name, at.Format(time.RFC3339))
	}

	return model.BodyTemplate{
		Name:     src.Name,
		Role:     model.RoleSecondary,
		Asset:    src.Asset,
		Mass:     src.Mass,
		Position: pos.Model(),
		Velocity: vel.Model(),
		Flags:    src.Flags,
		Drag:     src.Drag,
	}, nil
}
