package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
)

// TestSimulateDefaultScenario runs a short accelerated orbit of the default
// Earth + Satellite scenario.
func TestSimulateDefaultScenario(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Clock.Mode = "accelerated"
	cfg.Clock.Start = "2026-01-01T00:00:00Z"
	cfg.Clock.Tick = time.Second
	cfg.Clock.Duration = 10 * time.Second

	var out bytes.Buffer
	if err := simulate(context.Background(), cfg, logging.Noop(), &out, 5); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	got := out.String()
	if n := strings.Count(got, "Satellite"); n != 2 {
		t.Fatalf("expected 2 Satellite position lines, got %d:\n%s", n, got)
	}
	if !strings.Contains(got, "Simulation complete: 10 ticks, sim time 2026-01-01T00:00:10Z") {
		t.Fatalf("unexpected summary:\n%s", got)
	}
	if strings.Contains(got, "evicted") {
		t.Fatalf("unexpected eviction:\n%s", got)
	}
}

func TestSimulateRejectsBadStart(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Clock.Start = "yesterday"
	if err := simulate(context.Background(), cfg, logging.Noop(), &bytes.Buffer{}, 1); err == nil {
		t.Fatal("expected an error for an unparsable start time")
	}
}
