package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/orbit-simulator/internal/logging"
)

func TestTracingConfigFor(t *testing.T) {
	t.Setenv("ORBITSIM_TRACING_SAMPLE_RATIO", "0.25")

	cases := []struct {
		exporter string
		enabled  bool
	}{
		{"", false},
		{"none", false},
		{"NONE", false},
		{"stdout", true},
		{"otlp", true},
	}
	for _, tc := range cases {
		cfg := TracingConfigFor(tc.exporter, "collector:4317", true)
		if cfg.Enabled != tc.enabled {
			t.Fatalf("exporter %q: Enabled = %v, want %v", tc.exporter, cfg.Enabled, tc.enabled)
		}
		if cfg.ServiceName != "orbit-simulator" || cfg.SampleRatio != 0.25 || !cfg.Insecure {
			t.Fatalf("exporter %q: cfg = %+v", tc.exporter, cfg)
		}
	}
}

func TestInitTracingDisabledUsesNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfigFor("none", "", false), logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer ShutdownWithTimeout(context.Background(), shutdown, logging.Noop())

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Fatal("expected an invalid span context from the noop provider")
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, logging.Noop()); err == nil {
		t.Fatal("expected an error for an unsupported exporter")
	}
}
