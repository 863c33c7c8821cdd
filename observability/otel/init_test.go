package otel

import (
	"context"
	"reflect"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,=skip,broken, tenant=peer ")
	want := map[string]string{"api-key": "abc", "tenant": "peer"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseHeaders = %v, want %v", got, want)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := Tracer("test").Start(context.Background(), "noop")
	span.End()
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-tenant=peer")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("PEERLEND_TRACE_SAMPLE_RATIO", "0.25")

	cfg := ConfigFromEnv("lendingd", "prod")
	if !cfg.Traces || !cfg.Metrics {
		t.Fatalf("exporters should be enabled when an endpoint is set: %+v", cfg)
	}
	if cfg.Insecure {
		t.Fatalf("insecure override ignored")
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("sample ratio = %v", cfg.SampleRatio)
	}
	if cfg.Headers["x-tenant"] != "peer" {
		t.Fatalf("headers = %v", cfg.Headers)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
	cfg = ConfigFromEnv("lendingd", "")
	if cfg.Traces || cfg.Metrics || !cfg.Insecure {
		t.Fatalf("unexpected defaults without endpoint: %+v", cfg)
	}
}

func TestSamplerBounds(t *testing.T) {
	for _, ratio := range []float64{0, 1, 2} {
		if got := sampler(ratio).Description(); got != sampler(0).Description() {
			t.Fatalf("ratio %v sampler = %s", ratio, got)
		}
	}
	if sampler(0.5).Description() == sampler(0).Description() {
		t.Fatalf("ratio sampler should differ from always-on")
	}
}
