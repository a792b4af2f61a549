package model

import "fmt"

// Role indicates which update routine applies to a body.
type Role int

const (
	RoleUnknown   Role = iota
	RolePrimary        // dominant body, fixed-rate spin only
	RoleSecondary      // orbits a primary under gravity and drag
)

// String returns the lowercase role name used in config and on the wire.
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// ParseRole converts a config/wire role name into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "primary", "PRIMARY":
		return RolePrimary, nil
	case "secondary", "SECONDARY":
		return RoleSecondary, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown body role %q", s)
	}
}

// Vec is a plain 3-D vector used in templates and snapshots.
type Vec struct {
	X float64
	Y float64
	Z float64
}

// ForceFlags are the per-body force switches. GravityEnabled and
// DragEnabled only matter for secondaries.
type ForceFlags struct {
	ForcesEnabled  bool
	GravityEnabled bool
	DragEnabled    bool
}

// AllForces enables every force contribution.
func AllForces() ForceFlags {
	return ForceFlags{ForcesEnabled: true, GravityEnabled: true, DragEnabled: true}
}

// DragParams tune the exponential-atmosphere drag model.
type DragParams struct {
	Coefficient     float64
	Area            float64 // m²
	SeaLevelDensity float64 // kg/m³
	ScaleHeight     float64 // m
}

// BodyTemplate is the named, cloneable physical description a body is
// created from. Asset is a key into the shared asset registry; cloning a
// template never duplicates the asset itself.
type BodyTemplate struct {
	Name   string
	Role   Role
	Asset  string
	Mass   float64
	Radius float64 // primaries only, metres
	Scale  Vec     // presentation hint, carried through untouched

	Position Vec // metres, relative to the primary's centre
	Velocity Vec // metres/second, relative to the primary

	// CircularVelocity replaces Velocity with the circular-orbit speed
	// about the paired primary, perpendicular to Position.
	CircularVelocity bool

	SpinRate float64 // rad/s, primaries only
	SpinAxis Vec

	Flags ForceFlags
	Drag  DragParams
}
