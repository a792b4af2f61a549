// Package config loads simulator configuration from files and ORBITSIM_*
// environment variables with viper and turns it into body templates and
// an initial scenario.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/model"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

// EnvPrefix is prepended to every environment override, e.g.
// ORBITSIM_CLOCK_TIME_SCALE.
const EnvPrefix = "ORBITSIM"

// Defaults for an Earth-like primary and a small satellite.
const (
	DefaultPrimaryMass         = 5.972e24
	DefaultPrimaryRadius       = 6.371e6
	DefaultPrimaryRotationRate = 7.292115e-5
	DefaultDragCoefficient     = 2.2
	DefaultCrossSectionArea    = 10.0
	DefaultSeaLevelAirDensity  = 1.225
	DefaultScaleHeight         = 8500.0
	DefaultInitialAltitude     = 500e3
	DefaultSecondaryMass       = 1000.0
)

// ErrInvalidConfig is returned when the loaded configuration cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full simulator configuration.
type Config struct {
	Physics   Physics    `mapstructure:"physics"`
	Clock     Clock      `mapstructure:"clock"`
	Templates []Template `mapstructure:"templates"`
	Scenario  Scenario   `mapstructure:"scenario"`
	Logging   Logging    `mapstructure:"logging"`
	Tracing   Tracing    `mapstructure:"tracing"`
	Server    Server     `mapstructure:"server"`
}

// Physics holds the constants used by the default templates and the
// stepper.
type Physics struct {
	GravitationalConstant float64 `mapstructure:"gravitational_constant"`
	PrimaryMass           float64 `mapstructure:"primary_mass"`
	PrimaryRadius         float64 `mapstructure:"primary_radius"`
	PrimaryRotationRate   float64 `mapstructure:"primary_rotation_rate"`
	DragCoefficient       float64 `mapstructure:"drag_coefficient"`
	CrossSectionArea      float64 `mapstructure:"cross_section_area"`
	SeaLevelAirDensity    float64 `mapstructure:"sea_level_air_density"`
	ScaleHeight           float64 `mapstructure:"scale_height"`
	InitialAltitude       float64 `mapstructure:"initial_altitude"`
}

// Drag returns the drag parameters derived from the physics section.
func (p Physics) Drag() model.DragParams {
	return model.DragParams{
		Coefficient:     p.DragCoefficient,
		Area:            p.CrossSectionArea,
		SeaLevelDensity: p.SeaLevelAirDensity,
		ScaleHeight:     p.ScaleHeight,
	}
}

// Clock configures the time controller.
type Clock struct {
	Mode      string        `mapstructure:"mode"` // realtime or accelerated
	Start     string        `mapstructure:"start"`
	Tick      time.Duration `mapstructure:"tick"`
	MaxDelta  time.Duration `mapstructure:"max_delta"`
	TimeScale float64       `mapstructure:"time_scale"`
	Duration  time.Duration `mapstructure:"duration"`
}

// StartTime parses Start as RFC 3339. An empty value means now.
func (c Clock) StartTime() (time.Time, error) {
	if c.Start == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: clock.start: %v", ErrInvalidConfig, err)
	}
	return t.UTC(), nil
}

// NewController builds a time controller starting at start.
func (c Clock) NewController(start time.Time) *timectrl.TimeController {
	mode := timectrl.RealTime
	if strings.EqualFold(c.Mode, "accelerated") {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(start, c.Tick, mode)
	if c.MaxDelta > 0 {
		tc.MaxDelta = c.MaxDelta
	}
	tc.TimeScale = c.TimeScale
	return tc
}

// Forces mirrors model.ForceFlags.
type Forces struct {
	Enabled bool `mapstructure:"enabled"`
	Gravity bool `mapstructure:"gravity"`
	Drag    bool `mapstructure:"drag"`
}

func (f *Forces) flags() model.ForceFlags {
	if f == nil {
		return model.AllForces()
	}
	return model.ForceFlags{ForcesEnabled: f.Enabled, GravityEnabled: f.Gravity, DragEnabled: f.Drag}
}

// Drag overrides the physics drag parameters for one template.
type Drag struct {
	Coefficient     float64 `mapstructure:"coefficient"`
	Area            float64 `mapstructure:"area"`
	SeaLevelDensity float64 `mapstructure:"sea_level_density"`
	ScaleHeight     float64 `mapstructure:"scale_height"`
}

func (d Drag) params() model.DragParams {
	return model.DragParams{
		Coefficient:     d.Coefficient,
		Area:            d.Area,
		SeaLevelDensity: d.SeaLevelDensity,
		ScaleHeight:     d.ScaleHeight,
	}
}

// TLE seeds a template from a two-line element set propagated to the
// clock start.
type TLE struct {
	Line1 string `mapstructure:"line1"`
	Line2 string `mapstructure:"line2"`
}

// Template is the configuration form of model.BodyTemplate. Zero values
// fall back to the physics section.
type Template struct {
	Name     string    `mapstructure:"name"`
	Role     string    `mapstructure:"role"`
	Asset    string    `mapstructure:"asset"`
	Mass     float64   `mapstructure:"mass"`
	Radius   float64   `mapstructure:"radius"`
	Scale    model.Vec `mapstructure:"scale"`
	Position model.Vec `mapstructure:"position"`
	Velocity model.Vec `mapstructure:"velocity"`
	Altitude float64   `mapstructure:"altitude"`
	Circular bool      `mapstructure:"circular"`
	SpinRate *float64  `mapstructure:"spin_rate"`
	SpinAxis model.Vec `mapstructure:"spin_axis"`
	Forces   *Forces   `mapstructure:"forces"`
	Drag     *Drag     `mapstructure:"drag"`
	TLE      *TLE      `mapstructure:"tle"`
}

// Scenario lists the bodies created at startup.
type Scenario struct {
	Bodies []ScenarioBody `mapstructure:"bodies"`
}

// ScenarioBody instantiates a template. Primary names another scenario
// body; it is required for secondaries when more than one primary exists.
type ScenarioBody struct {
	Name     string  `mapstructure:"name"`
	Template string  `mapstructure:"template"`
	Role     string  `mapstructure:"role"`
	Primary  string  `mapstructure:"primary"`
	InScene  *bool   `mapstructure:"in_scene"`
	Forces   *Forces `mapstructure:"forces"`
}

// Placed reports whether the body enters the scene at startup.
func (b ScenarioBody) Placed() bool { return b.InScene == nil || *b.InScene }

// Logging configures internal/logging.
type Logging struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	Exporter string `mapstructure:"exporter"` // none, stdout or otlp
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// Server configures the northbound listeners.
type Server struct {
	GRPCAddr       string        `mapstructure:"grpc_addr"`
	HTTPAddr       string        `mapstructure:"http_addr"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
	StreamBurst    int           `mapstructure:"stream_burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("physics.gravitational_constant", core.GravitationalConstant)
	v.SetDefault("physics.primary_mass", DefaultPrimaryMass)
	v.SetDefault("physics.primary_radius", DefaultPrimaryRadius)
	v.SetDefault("physics.primary_rotation_rate", DefaultPrimaryRotationRate)
	v.SetDefault("physics.drag_coefficient", DefaultDragCoefficient)
	v.SetDefault("physics.cross_section_area", DefaultCrossSectionArea)
	v.SetDefault("physics.sea_level_air_density", DefaultSeaLevelAirDensity)
	v.SetDefault("physics.scale_height", DefaultScaleHeight)
	v.SetDefault("physics.initial_altitude", DefaultInitialAltitude)

	v.SetDefault("clock.mode", "realtime")
	v.SetDefault("clock.tick", "16ms")
	v.SetDefault("clock.max_delta", "100ms")
	v.SetDefault("clock.time_scale", 1.0)
	v.SetDefault("clock.duration", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.stream_interval", "100ms")
	v.SetDefault("server.stream_burst", 1)
}

// Load reads path (YAML, TOML or JSON by extension; empty for defaults
// only), applies ORBITSIM_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Templates) == 0 {
		cfg.Templates = DefaultTemplates()
	}
	if len(cfg.Scenario.Bodies) == 0 {
		cfg.Scenario.Bodies = DefaultScenario()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultTemplates returns an Earth-like primary and a satellite placed at
// the initial altitude with circular velocity.
func DefaultTemplates() []Template {
	return []Template{
		{Name: "Earth", Role: model.RolePrimary.String(), Asset: "earth.glb", Scale: model.Vec{X: 1, Y: 1, Z: 1}},
		{Name: "Satellite", Role: model.RoleSecondary.String(), Asset: "satellite.glb", Scale: model.Vec{X: 1, Y: 1, Z: 1}, Circular: true},
	}
}

// DefaultScenario places one Earth and one Satellite.
func DefaultScenario() []ScenarioBody {
	return []ScenarioBody{
		{Name: "Earth", Template: "Earth", Role: model.RolePrimary.String()},
		{Name: "Satellite", Template: "Satellite", Role: model.RoleSecondary.String(), Primary: "Earth"},
	}
}

// Validate checks cross references and physical constants.
func (c *Config) Validate() error {
	if !(c.Physics.GravitationalConstant > 0) {
		return fmt.Errorf("%w: physics.gravitational_constant must be positive", ErrInvalidConfig)
	}
	if !(c.Clock.TimeScale > 0) {
		return fmt.Errorf("%w: clock.time_scale must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Clock.Mode) {
	case "realtime", "accelerated":
	default:
		return fmt.Errorf("%w: clock.mode %q", ErrInvalidConfig, c.Clock.Mode)
	}
	if c.Clock.Tick <= 0 {
		return fmt.Errorf("%w: clock.tick must be positive", ErrInvalidConfig)
	}

	templates := make(map[string]model.Role, len(c.Templates))
	for _, t := range c.Templates {
		if t.Name == "" {
			return fmt.Errorf("%w: template without a name", ErrInvalidConfig)
		}
		role, err := model.ParseRole(t.Role)
		if err != nil {
			return fmt.Errorf("%w: template %q: %v", ErrInvalidConfig, t.Name, err)
		}
		if _, dup := templates[t.Name]; dup {
			return fmt.Errorf("%w: duplicate template %q", ErrInvalidConfig, t.Name)
		}
		if t.TLE != nil && role != model.RoleSecondary {
			return fmt.Errorf("%w: template %q: TLE seeding is only valid for secondaries", ErrInvalidConfig, t.Name)
		}
		templates[t.Name] = role
	}

	bodies := make(map[string]model.Role, len(c.Scenario.Bodies))
	primaries := 0
	for i, b := range c.Scenario.Bodies {
		role, ok := templates[b.Template]
		if !ok {
			return fmt.Errorf("%w: scenario body %d: unknown template %q", ErrInvalidConfig, i, b.Template)
		}
		if b.Role != "" {
			r, err := model.ParseRole(b.Role)
			if err != nil || r != role {
				return fmt.Errorf("%w: scenario body %d: role %q does not match template %q", ErrInvalidConfig, i, b.Role, b.Template)
			}
		}
		name := b.DisplayName()
		if _, dup := bodies[name]; dup {
			return fmt.Errorf("%w: duplicate scenario body %q", ErrInvalidConfig, name)
		}
		bodies[name] = role
		if role == model.RolePrimary {
			primaries++
		}
	}
	for _, b := range c.Scenario.Bodies {
		if b.Primary == "" {
			if templates[b.Template] == model.RoleSecondary && primaries > 1 {
				return fmt.Errorf("%w: scenario body %q must name its primary", ErrInvalidConfig, b.DisplayName())
			}
			continue
		}
		if bodies[b.Primary] != model.RolePrimary {
			return fmt.Errorf("%w: scenario body %q: %q is not a primary", ErrInvalidConfig, b.DisplayName(), b.Primary)
		}
	}
	return nil
}

// DisplayName is the body's name, defaulting to its template.
func (b ScenarioBody) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Template
}

// BodyTemplates resolves the configured templates. TLE templates are
// propagated to at; circular templates without an explicit position are
// placed on +X at the primary radius plus altitude. Circular velocity
// itself is computed by the stepper against the actual primary.
func (c *Config) BodyTemplates(at time.Time) ([]model.BodyTemplate, error) {
	p := c.Physics
	out := make([]model.BodyTemplate, 0, len(c.Templates))
	for _, t := range c.Templates {
		role, err := model.ParseRole(t.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: template %q: %v", ErrInvalidConfig, t.Name, err)
		}

		drag := p.Drag()
		if t.Drag != nil {
			drag = t.Drag.params()
		}
		scale := t.Scale
		if scale == (model.Vec{}) {
			scale = model.Vec{X: 1, Y: 1, Z: 1}
		}

		if t.TLE != nil {
			mass := t.Mass
			if mass == 0 {
				mass = DefaultSecondaryMass
			}
			bt, err := core.TemplateFromTLE(core.TLESource{
				Name:  t.Name,
				Line1: t.TLE.Line1,
				Line2: t.TLE.Line2,
				Mass:  mass,
				Asset: t.Asset,
				Flags: t.Forces.flags(),
				Drag:  drag,
			}, at)
			if err != nil {
				return nil, fmt.Errorf("template %q: %w", t.Name, err)
			}
			bt.Scale = scale
			out = append(out, bt)
			continue
		}

		bt := model.BodyTemplate{
			Name:             t.Name,
			Role:             role,
			Asset:            t.Asset,
			Mass:             t.Mass,
			Radius:           t.Radius,
			Scale:            scale,
			Position:         t.Position,
			Velocity:         t.Velocity,
			CircularVelocity: t.Circular,
			SpinAxis:         t.SpinAxis,
			Flags:            t.Forces.flags(),
			Drag:             drag,
		}
		switch role {
		case model.RolePrimary:
			if bt.Mass == 0 {
				bt.Mass = p.PrimaryMass
			}
			if bt.Radius == 0 {
				bt.Radius = p.PrimaryRadius
			}
			bt.SpinRate = p.PrimaryRotationRate
			if t.SpinRate != nil {
				bt.SpinRate = *t.SpinRate
			}
		case model.RoleSecondary:
			if bt.Mass == 0 {
				bt.Mass = DefaultSecondaryMass
			}
			if bt.Position == (model.Vec{}) {
				alt := t.Altitude
				if alt == 0 {
					alt = p.InitialAltitude
				}
				bt.Position = model.Vec{X: p.PrimaryRadius + alt}
			}
		}
		out = append(out, bt)
	}
	return out, nil
}
