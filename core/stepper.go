package core

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/model"
)

const tracerName = "github.com/signalsfoundry/orbit-simulator/core"

// TemplateSource resolves named body templates.
type TemplateSource interface {
	Template(name string) (model.BodyTemplate, error)
}

// AssetResolver reports whether a presentation asset has fully loaded.
// A nil error means the body referencing it may enter the scene.
type AssetResolver interface {
	AssetReady(ref string) error
}

// StepHook observes a secondary right after it has been advanced. Hooks
// may add or remove bodies; such changes take effect after the tick.
type StepHook func(h BodyHandle, b Body)

// StepperState classifies a stepper at a tick boundary.
type StepperState int

const (
	// Idle means no primary is in the scene.
	Idle StepperState = iota
	// Stepping means at least one primary is in the scene.
	Stepping
)

func (s StepperState) String() string {
	if s == Stepping {
		return "stepping"
	}
	return "idle"
}

// BodyFailure records a body evicted from stepping during a tick.
type BodyFailure struct {
	Handle BodyHandle
	Name   string
	Err    error
}

// StepReport summarises one call to Step.
type StepReport struct {
	Tick        uint64
	DT          float64
	Primaries   int
	Secondaries int
	Failures    []BodyFailure
}

// BodySnapshot is a read-only copy of a body's presentation-facing state.
// Units are SI; any display scaling is the caller's responsibility.
type BodySnapshot struct {
	Handle      BodyHandle
	Name        string
	Role        model.Role
	Primary     BodyHandle
	Asset       string
	Scale       model.Vec
	Position    model.Vec
	Velocity    model.Vec
	Orientation Orientation
	InScene     bool
	Failure     string
}

// BodyOption customises CreateBody.
type BodyOption func(*bodyConfig)

type bodyConfig struct {
	primary     BodyHandle
	hasPrimary  bool
	position    *Vec3
	velocity    *Vec3
	name        string
	flags       *model.ForceFlags
	circularVel *bool
}

// WithPrimary pairs a secondary with the given primary. Without it a
// secondary pairs with the first primary created.
func WithPrimary(h BodyHandle) BodyOption {
	return func(c *bodyConfig) {
		c.primary = h
		c.hasPrimary = true
	}
}

// WithPosition places the body at an absolute inertial position instead
// of the template position, which is taken relative to the primary.
func WithPosition(p Vec3) BodyOption {
	return func(c *bodyConfig) { c.position = &p }
}

// WithVelocity sets an absolute inertial velocity, replacing both the
// template velocity and the template's circular-velocity seeding.
func WithVelocity(v Vec3) BodyOption {
	return func(c *bodyConfig) {
		c.velocity = &v
		off := false
		c.circularVel = &off
	}
}

// WithName overrides the template name for this instance.
func WithName(name string) BodyOption {
	return func(c *bodyConfig) { c.name = name }
}

// WithForceFlags overrides the template force switches.
func WithForceFlags(f model.ForceFlags) BodyOption {
	return func(c *bodyConfig) { c.flags = &f }
}

// StepperOption customises Stepper construction.
type StepperOption func(*Stepper)

// WithGravitationalConstant overrides G.
func WithGravitationalConstant(g float64) StepperOption {
	return func(s *Stepper) { s.g = g }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) StepperOption {
	return func(s *Stepper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTracer overrides the tracer used for per-tick spans.
func WithTracer(t trace.Tracer) StepperOption {
	return func(s *Stepper) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAssetResolver gates scene admission on asset readiness.
func WithAssetResolver(r AssetResolver) StepperOption {
	return func(s *Stepper) { s.assets = r }
}

// WithStepHook registers a hook called after each secondary update.
func WithStepHook(h StepHook) StepperOption {
	return func(s *Stepper) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

type entry struct {
	body    Body
	primary BodyHandle // secondaries only
	failure error
}

type system struct {
	primary     BodyHandle
	secondaries []BodyHandle
}

// Stepper owns the authoritative set of bodies and advances them one
// tick at a time. It is not safe for concurrent use; callers that share
// it across goroutines must serialise access.
type Stepper struct {
	g         float64
	templates TemplateSource
	assets    AssetResolver
	log       logging.Logger
	tracer    trace.Tracer
	hooks     []StepHook

	nextHandle BodyHandle
	bodies     map[BodyHandle]*entry
	systems    []*system

	stepping bool
	pending  []func()
	ticks    uint64
}

// NewStepper constructs an empty stepper resolving templates from src.
func NewStepper(src TemplateSource, opts ...StepperOption) *Stepper {
	s := &Stepper{
		g:          GravitationalConstant,
		templates:  src,
		log:        logging.Noop(),
		tracer:     otel.Tracer(tracerName),
		nextHandle: 1,
		bodies:     make(map[BodyHandle]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GravitationalConstant returns the G used by this stepper.
func (s *Stepper) GravitationalConstant() float64 { return s.g }

// Ticks returns the number of non-empty ticks taken so far.
func (s *Stepper) Ticks() uint64 { return s.ticks }

// CreateBody clones the physical state of the named template into a new
// body. The body starts outside the scene.
func (s *Stepper) CreateBody(template string, role model.Role, opts ...BodyOption) (BodyHandle, error) {
	if s.templates == nil {
		return 0, fmt.Errorf("%w: %q (no template source)", ErrTemplateNotFound, template)
	}
	tpl, err := s.templates.Template(template)
	if err != nil {
		return 0, err
	}
	if tpl.Role != model.RoleUnknown && tpl.Role != role {
		return 0, fmt.Errorf("%w: template %q is a %s, requested %s", ErrInvalidBody, template, tpl.Role, role)
	}

	var cfg bodyConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	b := bodyFromTemplate(tpl, role)
	if cfg.name != "" {
		b.Name = cfg.name
	}
	if cfg.position != nil {
		b.Position = *cfg.position
	}
	if cfg.velocity != nil {
		b.Velocity = *cfg.velocity
	}
	if cfg.flags != nil {
		b.Flags = *cfg.flags
	}

	e := &entry{body: b}
	if role == model.RoleSecondary {
		primary, err := s.resolvePrimary(cfg)
		if err != nil {
			return 0, err
		}
		e.primary = primary
		p := s.bodies[primary].body
		// Template state is relative to the primary; explicit options
		// are already inertial.
		if cfg.position == nil {
			e.body.Position = e.body.Position.Add(p.Position)
		}
		circular := tpl.CircularVelocity
		if cfg.circularVel != nil {
			circular = *cfg.circularVel
		}
		if circular {
			e.body.Velocity = circularVelocity(s.g, p, e.body.Position).Add(p.Velocity)
		} else if cfg.velocity == nil {
			e.body.Velocity = e.body.Velocity.Add(p.Velocity)
		}
	}
	if err := e.body.Validate(); err != nil {
		return 0, err
	}

	h := s.nextHandle
	s.nextHandle++
	s.bodies[h] = e

	s.mutate(func() {
		if _, ok := s.bodies[h]; !ok {
			return
		}
		if role == model.RolePrimary {
			s.systems = append(s.systems, &system{primary: h})
			return
		}
		if sys := s.systemOf(e.primary); sys != nil {
			sys.secondaries = append(sys.secondaries, h)
		}
	})

	s.log.Debug(context.Background(), "body created",
		logging.String("name", e.body.Name),
		logging.String("role", role.String()),
		logging.Uint64("handle", uint64(h)),
	)
	return h, nil
}

func (s *Stepper) resolvePrimary(cfg bodyConfig) (BodyHandle, error) {
	if cfg.hasPrimary {
		e, ok := s.bodies[cfg.primary]
		if !ok || e.body.Role != model.RolePrimary {
			return 0, fmt.Errorf("%w: handle %d is not a primary", ErrNoPrimary, cfg.primary)
		}
		return cfg.primary, nil
	}
	for _, h := range s.sortedHandles() {
		if s.bodies[h].body.Role == model.RolePrimary {
			return h, nil
		}
	}
	return 0, ErrNoPrimary
}

// SetInScene enables or disables a body's participation in stepping.
// Entering the scene requires a resolved asset and, for secondaries, a
// primary already in the scene. The change applies at the next tick
// boundary when requested during a step.
func (s *Stepper) SetInScene(h BodyHandle, in bool) error {
	e, ok := s.bodies[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBodyNotFound, h)
	}
	if in {
		if err := e.body.Validate(); err != nil {
			return err
		}
		if e.body.Asset != "" && s.assets != nil {
			if err := s.assets.AssetReady(e.body.Asset); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrAssetNotReady, e.body.Asset, err)
			}
		}
		if e.body.Role == model.RoleSecondary {
			p, ok := s.bodies[e.primary]
			if !ok || !p.body.InScene {
				return fmt.Errorf("%w: primary %d of %q is not in the scene", ErrNoPrimary, e.primary, e.body.Name)
			}
		}
	}
	s.mutate(func() {
		e, ok := s.bodies[h]
		if !ok {
			return
		}
		if in && !e.body.InScene {
			e.body.primed = false
			e.failure = nil
		}
		e.body.InScene = in
	})
	return nil
}

// SetForceFlags updates a body's force switches and, when drag is non-nil,
// its drag parameters. The previous-acceleration cache is refreshed on the
// next tick so the new force model takes effect cleanly.
func (s *Stepper) SetForceFlags(h BodyHandle, flags model.ForceFlags, drag *model.DragParams) error {
	if _, ok := s.bodies[h]; !ok {
		return fmt.Errorf("%w: %d", ErrBodyNotFound, h)
	}
	if drag != nil {
		if err := validateDrag(*drag); err != nil {
			return err
		}
	}
	s.mutate(func() {
		e, ok := s.bodies[h]
		if !ok {
			return
		}
		e.body.Flags = flags
		if drag != nil {
			e.body.Drag = *drag
		}
		e.body.primed = false
	})
	return nil
}

func validateDrag(p model.DragParams) error {
	for name, v := range map[string]float64{
		"drag_coefficient":      p.Coefficient,
		"cross_section_area":    p.Area,
		"sea_level_air_density": p.SeaLevelDensity,
		"scale_height":          p.ScaleHeight,
	} {
		if v < 0 || !isFinite(v) {
			return fmt.Errorf("%w: %s = %v", ErrInvalidBody, name, v)
		}
	}
	// The density model divides altitude by the scale height.
	if p.ScaleHeight == 0 {
		return fmt.Errorf("%w: scale_height must be positive", ErrInvalidBody)
	}
	return nil
}

// RemoveBody deletes a body. Removing a primary also removes its
// secondaries. During a step the removal is deferred to the end of the
// tick so iteration over the remaining bodies is unaffected.
func (s *Stepper) RemoveBody(h BodyHandle) error {
	if _, ok := s.bodies[h]; !ok {
		return fmt.Errorf("%w: %d", ErrBodyNotFound, h)
	}
	s.mutate(func() { s.remove(h) })
	return nil
}

func (s *Stepper) remove(h BodyHandle) {
	e, ok := s.bodies[h]
	if !ok {
		return
	}
	delete(s.bodies, h)

	if e.body.Role == model.RolePrimary {
		for i, sys := range s.systems {
			if sys.primary != h {
				continue
			}
			for _, sh := range sys.secondaries {
				delete(s.bodies, sh)
			}
			s.systems = append(s.systems[:i], s.systems[i+1:]...)
			break
		}
		return
	}

	sys := s.systemOf(e.primary)
	if sys == nil {
		return
	}
	for i, sh := range sys.secondaries {
		if sh == h {
			sys.secondaries = append(sys.secondaries[:i], sys.secondaries[i+1:]...)
			return
		}
	}
}

// Step advances every in-scene body by dt seconds. dt must be finite and
// non-negative; dt == 0 is a no-op. Failures local to one body evict that
// body and are listed in the report without stopping the tick.
//
// Each secondary moves by velocity Verlet: the new acceleration is taken
// at the predicted position x + v·dt + ½a·dt², not at the position the
// body held before the step, and the velocity update averages it with the
// previous acceleration.
func (s *Stepper) Step(ctx context.Context, dt float64) (*StepReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if dt < 0 || !isFinite(dt) {
		return nil, fmt.Errorf("%w: dt = %v", ErrInvalidTimestep, dt)
	}
	if s.stepping {
		return nil, fmt.Errorf("step already in progress")
	}

	s.applyPending()
	report := &StepReport{Tick: s.ticks, DT: dt}
	if dt == 0 {
		return report, nil
	}

	ctx, span := s.tracer.Start(ctx, "stepper.Step",
		trace.WithAttributes(attribute.Float64("sim.dt", dt)))
	defer span.End()

	s.stepping = true
	for _, sys := range s.systems {
		pe := s.bodies[sys.primary]
		if pe == nil || !pe.body.InScene {
			continue
		}
		spin(&pe.body, dt)
		report.Primaries++

		primary := pe.body
		for _, h := range sys.secondaries {
			e := s.bodies[h]
			if e == nil || !e.body.InScene {
				continue
			}
			if err := s.advance(primary, &e.body, dt); err != nil {
				e.body.InScene = false
				e.failure = err
				report.Failures = append(report.Failures, BodyFailure{Handle: h, Name: e.body.Name, Err: err})
				s.log.Warn(ctx, "body evicted from stepping",
					logging.String("name", e.body.Name),
					logging.Uint64("handle", uint64(h)),
					logging.String("error", err.Error()),
				)
				continue
			}
			report.Secondaries++
			for _, hook := range s.hooks {
				hook(h, e.body)
			}
		}
	}
	s.stepping = false
	s.applyPending()

	if report.Primaries > 0 {
		s.ticks++
	}
	report.Tick = s.ticks

	span.SetAttributes(
		attribute.Int("sim.primaries", report.Primaries),
		attribute.Int("sim.secondaries", report.Secondaries),
		attribute.Int("sim.failures", len(report.Failures)),
	)
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, "bodies evicted")
	}
	return report, nil
}

// advance moves one secondary through force accumulation, integration
// and orientation. The acceleration fed to Integrate is evaluated at the
// position Integrate will move the body to, which keeps the scheme a true
// velocity Verlet step.
func (s *Stepper) advance(primary Body, b *Body, dt float64) error {
	if !b.Flags.ForcesEnabled {
		return nil
	}
	if !b.primed {
		a, err := s.acceleration(primary, *b)
		if err != nil {
			return err
		}
		b.Prime(a)
	}

	next := *b
	next.Position = b.PredictPosition(dt)
	a, err := s.acceleration(primary, next)
	if err != nil {
		return err
	}
	b.Integrate(dt, a)
	if !b.finite() {
		return fmt.Errorf("%w: %q", ErrNonFiniteState, b.Name)
	}

	rel := *b
	rel.Position = b.Position.Sub(primary.Position)
	b.Orientation = OrientAlongVelocity(rel, b.Orientation)
	return nil
}

func (s *Stepper) acceleration(primary, b Body) (Vec3, error) {
	var force Vec3
	if b.Flags.GravityEnabled {
		g, err := Gravity(s.g, primary, b)
		if err != nil {
			return Vec3{}, err
		}
		force = force.Add(g)
	}
	if b.Flags.DragEnabled {
		rel := b
		rel.Position = b.Position.Sub(primary.Position)
		force = force.Add(Drag(rel, primary.Radius))
	}
	return force.Scale(1 / b.Mass), nil
}

func spin(p *Body, dt float64) {
	if p.SpinRate == 0 {
		return
	}
	p.SpinAngle = math.Mod(p.SpinAngle+p.SpinRate*dt, 2*math.Pi)
	p.Orientation = AxisAngle(p.SpinAxis, p.SpinAngle)
}

func circularVelocity(g float64, primary Body, pos Vec3) Vec3 {
	r := pos.Sub(primary.Position)
	speed := CircularSpeed(g, primary.Mass, r.Norm())
	normal := Vec3{Z: 1}
	dir := normal.Cross(r)
	if dir.NormSq() == 0 {
		dir = referenceAxis(r).Cross(r)
	}
	return dir.Unit().Scale(speed)
}

func (s *Stepper) mutate(fn func()) {
	if s.stepping {
		s.pending = append(s.pending, fn)
		return
	}
	fn()
}

func (s *Stepper) applyPending() {
	pending := s.pending
	s.pending = nil
	for _, fn := range pending {
		fn()
	}
}

func (s *Stepper) systemOf(primary BodyHandle) *system {
	for _, sys := range s.systems {
		if sys.primary == primary {
			return sys
		}
	}
	return nil
}

func (s *Stepper) sortedHandles() []BodyHandle {
	hs := make([]BodyHandle, 0, len(s.bodies))
	for h := range s.bodies {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// State classifies the stepper as Idle or Stepping.
func (s *Stepper) State() StepperState {
	for _, sys := range s.systems {
		if e := s.bodies[sys.primary]; e != nil && e.body.InScene {
			return Stepping
		}
	}
	return Idle
}

// Counts returns the number of primaries and secondaries in the scene.
func (s *Stepper) Counts() (primaries, secondaries int) {
	for _, e := range s.bodies {
		if !e.body.InScene {
			continue
		}
		if e.body.Role == model.RolePrimary {
			primaries++
		} else {
			secondaries++
		}
	}
	return primaries, secondaries
}

// Body returns a copy of the body's physical state.
func (s *Stepper) Body(h BodyHandle) (Body, error) {
	e, ok := s.bodies[h]
	if !ok {
		return Body{}, fmt.Errorf("%w: %d", ErrBodyNotFound, h)
	}
	return e.body, nil
}

// Position returns the body's position in metres.
func (s *Stepper) Position(h BodyHandle) (Vec3, error) {
	b, err := s.Body(h)
	return b.Position, err
}

// Velocity returns the body's velocity in metres/second.
func (s *Stepper) Velocity(h BodyHandle) (Vec3, error) {
	b, err := s.Body(h)
	return b.Velocity, err
}

// Orientation returns the body's current orientation.
func (s *Stepper) Orientation(h BodyHandle) (Orientation, error) {
	b, err := s.Body(h)
	if err != nil {
		return IdentityOrientation(), err
	}
	return b.Orientation, nil
}

// Snapshot returns every body ordered by handle.
func (s *Stepper) Snapshot() []BodySnapshot {
	out := make([]BodySnapshot, 0, len(s.bodies))
	for _, h := range s.sortedHandles() {
		out = append(out, snapshotOf(h, s.bodies[h]))
	}
	return out
}

// BodySnapshot returns the snapshot of a single body.
func (s *Stepper) BodySnapshot(h BodyHandle) (BodySnapshot, error) {
	e, ok := s.bodies[h]
	if !ok {
		return BodySnapshot{}, fmt.Errorf("%w: %d", ErrBodyNotFound, h)
	}
	return snapshotOf(h, e), nil
}

func snapshotOf(h BodyHandle, e *entry) BodySnapshot {
	snap := BodySnapshot{
		Handle:      h,
		Name:        e.body.Name,
		Role:        e.body.Role,
		Primary:     e.primary,
		Asset:       e.body.Asset,
		Scale:       e.body.Scale,
		Position:    e.body.Position.Model(),
		Velocity:    e.body.Velocity.Model(),
		Orientation: e.body.Orientation,
		InScene:     e.body.InScene,
	}
	if e.failure != nil {
		snap.Failure = e.failure.Error()
	}
	return snap
}
