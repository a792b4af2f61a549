package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/internal/nbi"
	"github.com/signalsfoundry/orbit-simulator/internal/observability"
	sim "github.com/signalsfoundry/orbit-simulator/internal/sim/state"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Clock.Tick = 5 * time.Millisecond
	cfg.Clock.TimeScale = 10
	cfg.Logging.Level = "warn"
	cfg.Tracing.Exporter = "none"
	cfg.Server.StreamInterval = 10 * time.Millisecond
	return cfg
}

func TestServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen grpc: %v", err)
	}
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen http: %v", err)
	}

	cfg := testConfig(t)
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, grpcLis, httpLis)
	}()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	client := nbi.NewSimulationClient(conn)
	bodies, err := client.ListBodies(ctx, &emptypb.Empty{}, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("ListBodies: %v", err)
	}
	if got := len(bodies.GetValues()); got != 2 {
		t.Fatalf("ListBodies returned %d bodies, want 2", got)
	}

	wsURL := "ws://" + httpLis.Addr().String() + nbi.StreamPath
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame nbi.StreamFrame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read stream frame: %v", err)
	}
	if len(frame.Bodies) != 2 {
		t.Fatalf("stream frame has %d bodies, want 2", len(frame.Bodies))
	}

	// Wait until the loop has stepped at least once so the tick counter is
	// exported.
	deadline := time.Now().Add(5 * time.Second)
	var body string
	for time.Now().Before(deadline) {
		body = scrapeMetrics(t, "http://"+httpLis.Addr().String()+"/metrics")
		if strings.Contains(body, "orbitsim_ticks_total") && strings.Contains(body, "orbitsim_rpc_requests_total") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, "orbitsim_ticks_total") {
		t.Fatalf("metrics output missing orbitsim_ticks_total:\n%s", body)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func scrapeMetrics(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read /metrics: %v", err)
	}
	return string(b)
}

func TestRunSimLoopAdvancesState(t *testing.T) {
	cfg := testConfig(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	collector, err := observability.NewStepperCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewStepperCollector: %v", err)
	}
	state := sim.NewSimulationState(kb.NewKnowledgeBase(), logging.Noop(),
		sim.WithStartTime(start),
		sim.WithStepRecorder(collector),
	)
	if err := state.LoadScenario(context.Background(), cfg); err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	sat, ok := state.Lookup("Satellite")
	if !ok {
		t.Fatalf("Satellite not loaded")
	}
	before, err := state.Body(sat)
	if err != nil {
		t.Fatalf("Body: %v", err)
	}

	tc := timectrl.NewTimeController(start, time.Second, timectrl.Accelerated)
	runSimLoop(context.Background(), tc, state, 10*time.Second, logging.Noop())

	if got := state.Ticks(); got != 10 {
		t.Fatalf("Ticks = %d, want 10", got)
	}
	if got, want := state.SimTime(), start.Add(10*time.Second); !got.Equal(want) {
		t.Fatalf("SimTime = %v, want %v", got, want)
	}
	after, err := state.Body(sat)
	if err != nil {
		t.Fatalf("Body after loop: %v", err)
	}
	if after.Position == before.Position {
		t.Fatalf("satellite did not move: %+v", after.Position)
	}
	if got := testutil.ToFloat64(collector.TicksTotal); got != 10 {
		t.Fatalf("orbitsim_ticks_total = %v, want 10", got)
	}
}

func TestRunSimLoopStopsOnCancel(t *testing.T) {
	state := sim.NewSimulationState(kb.NewKnowledgeBase(), logging.Noop())
	ctx, cancel := context.WithCancel(context.Background())
	tc := timectrl.NewTimeController(time.Now(), time.Millisecond, timectrl.RealTime)

	done := make(chan struct{})
	go func() {
		runSimLoop(ctx, tc, state, 0, logging.Noop())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runSimLoop did not stop after cancel")
	}
}
