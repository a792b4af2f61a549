package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/internal/nbi"
	"github.com/signalsfoundry/orbit-simulator/internal/observability"
	sim "github.com/signalsfoundry/orbit-simulator/internal/sim/state"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML/TOML/JSON simulator config (defaults apply when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "failed to load config", logging.Err(err))
		os.Exit(1)
	}
	log, runID := logging.NewRunLogger(logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	var httpLis net.Listener
	if cfg.Server.HTTPAddr != "" {
		if httpLis, err = net.Listen("tcp", cfg.Server.HTTPAddr); err != nil {
			log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Server.HTTPAddr), logging.Err(err))
			os.Exit(1)
		}
	}

	log.Info(ctx, "starting orbit simulator server", logging.String("run_id", runID))
	if err := run(ctx, cfg, log, grpcLis, httpLis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves gRPC on grpcLis and, when httpLis is non-nil, /metrics and the
// state stream over HTTP, while the time controller drives the simulation.
// It returns after ctx is cancelled and everything has shut down.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, grpcLis, httpLis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx,
		observability.TracingConfigFor(cfg.Tracing.Exporter, cfg.Tracing.Endpoint, cfg.Tracing.Insecure), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	nbiMetrics, err := observability.NewNBICollector(reg)
	if err != nil {
		return err
	}
	stepMetrics, err := observability.NewStepperCollector(reg)
	if err != nil {
		return err
	}

	start, err := cfg.Clock.StartTime()
	if err != nil {
		return err
	}
	state := sim.NewSimulationState(kb.NewKnowledgeBase(), log,
		sim.WithMetricsRecorder(nbiMetrics),
		sim.WithStepRecorder(stepMetrics),
		sim.WithStartTime(start),
		sim.WithStepperOptions(core.WithGravitationalConstant(cfg.Physics.GravitationalConstant)),
	)
	if err := state.LoadScenario(ctx, cfg); err != nil {
		return err
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			nbiMetrics.UnaryServerInterceptor(),
		),
	)
	nbi.RegisterSimulationServiceServer(server, nbi.NewSimulationService(state, log))

	var httpSrv *http.Server
	if httpLis != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", nbiMetrics.Handler())
		mux.Handle(nbi.StreamPath, nbi.NewStreamHandler(state, log,
			nbi.WithStreamRate(cfg.Server.StreamInterval, cfg.Server.StreamBurst),
			nbi.WithStreamMetrics(nbiMetrics),
		))
		httpSrv = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info(ctx, "serving gRPC", logging.String("addr", grpcLis.Addr().String()))
		if err := server.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	if httpSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info(ctx, "serving metrics and state stream", logging.String("addr", httpLis.Addr().String()))
			if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	tc := cfg.Clock.NewController(start)
	loopDone := make(chan struct{})
	go func() {
		runSimLoop(ctx, tc, state, cfg.Clock.Duration, log)
		close(loopDone)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	cancel()
	log.Info(context.Background(), "shutting down orbit simulator server")
	server.GracefulStop()
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		// Websocket handlers return once the base context is cancelled.
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}
	wg.Wait()
	<-loopDone
	return serveErr
}

// runSimLoop steps the simulation on every time-controller tick until ctx
// is cancelled or duration (when positive) of simulated time has passed.
func runSimLoop(ctx context.Context, tc *timectrl.TimeController, state *sim.SimulationState, duration time.Duration, log logging.Logger) {
	tc.AddListener(func(_ time.Time, dt float64) {
		if _, err := state.Step(ctx, dt); err != nil {
			log.Warn(ctx, "simulation tick failed", logging.Err(err))
		}
	})
	<-tc.StartContext(ctx, duration)
}
