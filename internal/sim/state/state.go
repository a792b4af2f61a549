// Package state owns the running simulation: the template catalogue, the
// stepper and the scene bookkeeping shared by the time controller, the
// gRPC service and the state stream.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/model"
)

// Re-export core sentinel errors so callers can depend on state.* instead
// of core.* directly if they want to.
var (
	ErrInvalidBody      = core.ErrInvalidBody
	ErrBodyNotFound     = core.ErrBodyNotFound
	ErrTemplateNotFound = core.ErrTemplateNotFound
	ErrNoPrimary        = core.ErrNoPrimary
	ErrAssetNotReady    = core.ErrAssetNotReady
	ErrInvalidTimestep  = core.ErrInvalidTimestep
	// ErrNameInUse indicates another body already has the requested name.
	ErrNameInUse = errors.New("body name already in use")
)

// SceneMetricsRecorder receives the in-scene population after every
// mutation and tick.
type SceneMetricsRecorder interface {
	SetBodyCounts(primaries, secondaries int)
}

// StepMetricsRecorder receives per-tick timings and evictions.
type StepMetricsRecorder interface {
	ObserveStep(d time.Duration, dt float64, stepped bool)
	IncEvictions(reason string)
}

// AssetLoader loads the presentation asset behind ref. The simulation
// state marks the asset resolved or failed in the catalogue with the
// result.
type AssetLoader func(ctx context.Context, ref string) error

// Frame is the state published to subscribers after each tick.
type Frame struct {
	Tick    uint64
	SimTime time.Time
	DT      float64
	Bodies  []core.BodySnapshot
}

// SimulationState coordinates the template catalogue and the stepper.
type SimulationState struct {
	// mu is the coarse simulation lock. The stepper itself is not safe for
	// concurrent use; every call into it happens under mu.
	mu sync.RWMutex

	catalog *kb.KnowledgeBase
	stepper *core.Stepper

	// names maps body names to handles for name-based lookups.
	names map[string]core.BodyHandle

	simTime  time.Time
	lastTick uint64

	log         logging.Logger
	metrics     SceneMetricsRecorder
	stepMetrics StepMetricsRecorder
	loader      AssetLoader
	stepperOpts []core.StepperOption

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(Frame)
}

// Option customises SimulationState construction.
type Option func(*SimulationState)

// WithMetricsRecorder attaches an optional recorder for scene gauges.
func WithMetricsRecorder(m SceneMetricsRecorder) Option {
	return func(s *SimulationState) {
		s.metrics = m
	}
}

// WithStepRecorder attaches an optional recorder for tick metrics.
func WithStepRecorder(m StepMetricsRecorder) Option {
	return func(s *SimulationState) {
		s.stepMetrics = m
	}
}

// WithAssetLoader sets the loader used by LoadScenario. Without one every
// asset resolves immediately.
func WithAssetLoader(l AssetLoader) Option {
	return func(s *SimulationState) {
		s.loader = l
	}
}

// WithStepperOptions passes options through to core.NewStepper.
func WithStepperOptions(opts ...core.StepperOption) Option {
	return func(s *SimulationState) {
		s.stepperOpts = append(s.stepperOpts, opts...)
	}
}

// WithStartTime sets the initial simulation time.
func WithStartTime(t time.Time) Option {
	return func(s *SimulationState) {
		s.simTime = t
	}
}

// NewSimulationState builds a stepper over catalog, which serves both as
// template source and asset resolver.
func NewSimulationState(catalog *kb.KnowledgeBase, log logging.Logger, opts ...Option) *SimulationState {
	if log == nil {
		log = logging.Noop()
	}
	if catalog == nil {
		catalog = kb.NewKnowledgeBase()
	}
	s := &SimulationState{
		catalog: catalog,
		names:   make(map[string]core.BodyHandle),
		log:     log,
		subs:    make(map[int]func(Frame)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	stepperOpts := append([]core.StepperOption{
		core.WithLogger(log),
		core.WithAssetResolver(catalog),
	}, s.stepperOpts...)
	s.stepper = core.NewStepper(catalog, stepperOpts...)
	s.updateMetricsLocked()
	return s
}

// Catalog exposes the template catalogue and asset registry.
func (s *SimulationState) Catalog() *kb.KnowledgeBase {
	return s.catalog
}

// WithReadLock executes fn while holding the read lock. Callers must not
// invoke other SimulationState methods from inside fn.
func (s *SimulationState) WithReadLock(fn func(st *core.Stepper) error) error {
	if fn == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.stepper)
}

// CreateBody instantiates template as role. The body starts outside the
// scene.
func (s *SimulationState) CreateBody(template string, role model.Role, opts ...core.BodyOption) (core.BodyHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.stepper.CreateBody(template, role, opts...)
	if err != nil {
		return 0, err
	}
	b, _ := s.stepper.Body(h)
	if _, taken := s.names[b.Name]; taken {
		_ = s.stepper.RemoveBody(h)
		return 0, fmt.Errorf("%w: %q", ErrNameInUse, b.Name)
	}
	s.names[b.Name] = h
	return h, nil
}

// RemoveBody deletes a body. Removing a primary removes its secondaries.
func (s *SimulationState) RemoveBody(h core.BodyHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stepper.RemoveBody(h); err != nil {
		return err
	}
	for name, nh := range s.names {
		if _, err := s.stepper.Body(nh); err != nil {
			delete(s.names, name)
		}
	}
	s.updateMetricsLocked()
	return nil
}

// SetInScene places a body in or removes it from the scene.
func (s *SimulationState) SetInScene(h core.BodyHandle, in bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stepper.SetInScene(h, in); err != nil {
		return err
	}
	s.updateMetricsLocked()
	return nil
}

// SetForceFlags updates a body's force flags and, when drag is non-nil,
// its drag parameters.
func (s *SimulationState) SetForceFlags(h core.BodyHandle, flags model.ForceFlags, drag *model.DragParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepper.SetForceFlags(h, flags, drag)
}

// Step advances the simulation by dt seconds of simulated time under the
// write lock, records metrics and publishes a Frame to subscribers after
// the lock is released. The simulation time reached is derived from the
// previous one inside the lock, so concurrent callers (the time controller
// and gRPC clients) each advance it exactly once.
func (s *SimulationState) Step(ctx context.Context, dt float64) (*core.StepReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	start := time.Now()
	report, err := s.stepper.Step(ctx, dt)
	elapsed := time.Since(start)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.simTime = s.simTime.Add(time.Duration(dt * float64(time.Second)))
	simTime := s.simTime
	stepped := report.Tick != s.lastTick
	s.lastTick = report.Tick
	if s.stepMetrics != nil {
		s.stepMetrics.ObserveStep(elapsed, dt, stepped)
		for _, f := range report.Failures {
			s.stepMetrics.IncEvictions(EvictionReason(f.Err))
		}
	}
	if len(report.Failures) > 0 {
		s.updateMetricsLocked()
	}
	frame := Frame{Tick: report.Tick, SimTime: simTime, DT: dt}
	subs := s.subscribers()
	if len(subs) > 0 {
		frame.Bodies = s.stepper.Snapshot()
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(frame)
	}
	return report, nil
}

// EvictionReason returns a metrics label for a per-body step failure.
func EvictionReason(err error) string {
	switch {
	case errors.Is(err, core.ErrCoincidentBodies):
		return "coincident_bodies"
	case errors.Is(err, core.ErrNonFiniteState):
		return "non_finite_state"
	default:
		return "other"
	}
}

// SimTime returns the simulation time reached by the last tick.
func (s *SimulationState) SimTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.simTime
}

// Ticks returns the number of ticks that advanced at least one primary.
func (s *SimulationState) Ticks() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepper.Ticks()
}

// State classifies the simulation as Idle or Stepping.
func (s *SimulationState) State() core.StepperState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepper.State()
}

// Body returns the snapshot of one body.
func (s *SimulationState) Body(h core.BodyHandle) (core.BodySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepper.BodySnapshot(h)
}

// Lookup resolves a body name to its handle.
func (s *SimulationState) Lookup(name string) (core.BodyHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.names[name]
	return h, ok
}

// Snapshot returns every body ordered by handle.
func (s *SimulationState) Snapshot() []core.BodySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepper.Snapshot()
}

// Subscribe registers fn to receive a Frame after every tick. fn runs on
// the ticking goroutine and must not block.
func (s *SimulationState) Subscribe(fn func(Frame)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *SimulationState) subscribers() []func(Frame) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Frame), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

func (s *SimulationState) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetBodyCounts(s.stepper.Counts())
}

// LoadScenario registers cfg's templates in the catalogue, loads their
// assets, creates the scenario bodies and places them in the scene. TLE
// templates are propagated to the current simulation time.
func (s *SimulationState) LoadScenario(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	templates, err := cfg.BodyTemplates(s.SimTime())
	if err != nil {
		return err
	}
	for _, t := range templates {
		if err := s.catalog.AddTemplate(t); err != nil {
			return fmt.Errorf("register template %q: %w", t.Name, err)
		}
		if t.Asset != "" {
			s.catalog.RegisterAsset(t.Asset)
		}
	}
	for _, ref := range s.catalog.PendingAssets() {
		var loadErr error
		if s.loader != nil {
			loadErr = s.loader(ctx, ref)
		}
		s.catalog.ResolveAsset(ref, loadErr)
		if loadErr != nil {
			s.log.Warn(ctx, "asset failed to load",
				logging.String("asset", ref),
				logging.Err(loadErr),
			)
		}
	}

	for _, b := range cfg.Scenario.Bodies {
		tpl, err := s.catalog.Template(b.Template)
		if err != nil {
			return err
		}
		opts := []core.BodyOption{core.WithName(b.DisplayName())}
		if b.Primary != "" {
			ph, ok := s.Lookup(b.Primary)
			if !ok {
				return fmt.Errorf("%w: primary %q for %q", ErrBodyNotFound, b.Primary, b.DisplayName())
			}
			opts = append(opts, core.WithPrimary(ph))
		}
		if b.Forces != nil {
			opts = append(opts, core.WithForceFlags(model.ForceFlags{
				ForcesEnabled:  b.Forces.Enabled,
				GravityEnabled: b.Forces.Gravity,
				DragEnabled:    b.Forces.Drag,
			}))
		}
		h, err := s.CreateBody(b.Template, tpl.Role, opts...)
		if err != nil {
			return fmt.Errorf("create %q: %w", b.DisplayName(), err)
		}
		if !b.Placed() {
			continue
		}
		if err := s.SetInScene(h, true); err != nil {
			// A body whose asset failed, or whose primary was left out for
			// that reason, stays out of the scene; other systems still load.
			if errors.Is(err, ErrAssetNotReady) || errors.Is(err, ErrNoPrimary) {
				s.log.Warn(ctx, "body left out of scene",
					logging.String("name", b.DisplayName()),
					logging.Err(err),
				)
				continue
			}
			return fmt.Errorf("place %q: %w", b.DisplayName(), err)
		}
	}

	p, sec := s.counts()
	s.log.Info(ctx, "scenario loaded",
		logging.Int("templates", len(templates)),
		logging.Int("primaries", p),
		logging.Int("secondaries", sec),
	)
	return nil
}

func (s *SimulationState) counts() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepper.Counts()
}
