package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	sim "github.com/signalsfoundry/orbit-simulator/internal/sim/state"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "", "path to a simulator config file")
	duration := flag.Duration("duration", 90*time.Minute, "total simulated duration")
	tick := flag.Duration("tick", time.Second, "tick interval")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	printEvery := flag.Int("print-every", 60, "print body positions every N ticks")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Clock.Tick = *tick
	cfg.Clock.Duration = *duration
	cfg.Clock.Mode = timectrl.RealTime.String()
	if *accelerated {
		cfg.Clock.Mode = timectrl.Accelerated.String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err := simulate(ctx, cfg, log, os.Stdout, *printEvery); err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
}

// simulate loads the configured scenario and steps it for cfg.Clock.Duration,
// writing a position line per in-scene body every printEvery ticks.
func simulate(ctx context.Context, cfg *config.Config, log logging.Logger, out io.Writer, printEvery int) error {
	start, err := cfg.Clock.StartTime()
	if err != nil {
		return err
	}
	state := sim.NewSimulationState(kb.NewKnowledgeBase(), log,
		sim.WithStartTime(start),
		sim.WithStepperOptions(core.WithGravitationalConstant(cfg.Physics.GravitationalConstant)),
	)
	if err := state.LoadScenario(ctx, cfg); err != nil {
		return err
	}

	tc := cfg.Clock.NewController(start)
	ticks := 0
	tc.AddListener(func(_ time.Time, dt float64) {
		report, err := state.Step(ctx, dt)
		if err != nil {
			fmt.Fprintf(out, "tick error: %v\n", err)
			return
		}
		simTime := state.SimTime()
		for _, f := range report.Failures {
			fmt.Fprintf(out, "[%s] evicted %s: %v\n", simTime.Format(time.RFC3339), f.Name, f.Err)
		}
		ticks++
		if printEvery > 0 && ticks%printEvery == 0 {
			printBodies(out, simTime, state.Snapshot())
		}
	})

	fmt.Fprintf(out, "Starting simulation: duration=%s, tick=%s, mode=%v, bodies=%d\n",
		cfg.Clock.Duration, cfg.Clock.Tick, tc.Mode, len(state.Snapshot()))
	<-tc.StartContext(ctx, cfg.Clock.Duration)
	fmt.Fprintf(out, "Simulation complete: %d ticks, sim time %s\n", state.Ticks(), state.SimTime().Format(time.RFC3339))
	return nil
}

func printBodies(out io.Writer, simTime time.Time, bodies []core.BodySnapshot) {
	for _, b := range bodies {
		if !b.InScene {
			continue
		}
		pos := core.VecFromModel(b.Position)
		vel := core.VecFromModel(b.Velocity)
		fmt.Fprintf(out, "[%s] %-12s %-9s r=%10.1f km |v|=%8.1f m/s @ (%.0f, %.0f, %.0f)\n",
			simTime.Format(time.RFC3339),
			b.Name, b.Role,
			pos.Norm()/1000, vel.Norm(),
			pos.X, pos.Y, pos.Z,
		)
	}
}
