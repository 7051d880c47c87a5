package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func TestStartSpan(t *testing.T) {
	tests := []struct {
		name     string
		spanName string
		data     map[string]any
	}{
		{
			name:     "span with nil data",
			spanName: "reply.generate",
			data:     nil,
		},
		{
			name:     "span with mixed data types",
			spanName: "reply.task",
			data: map[string]any{
				"agent":   "rahul",
				"retries": 2,
				"energy":  71.5,
				"partner": true,
				"delay":   3 * time.Second,
				"slice":   []string{"a", "b"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, span := StartSpan(context.Background(), tt.spanName, tt.data)
			if span == nil {
				t.Fatal("StartSpan returned nil")
			}
			if ctx == nil {
				t.Fatal("StartSpan returned nil context")
			}
			if span.Name() != tt.spanName {
				t.Errorf("Name() = %q, want %q", span.Name(), tt.spanName)
			}
			span.SetAttribute("extra", "value")
			span.SetError(errors.New("boom"))
			span.SetError(nil)
			span.End()
			if !span.IsEnded() {
				t.Error("span should be ended")
			}
		})
	}
}

func TestSpan_EndIdempotent(t *testing.T) {
	_, span := StartSpan(context.Background(), "twice", nil)
	span.End()
	span.End()
	if !span.IsEnded() {
		t.Error("span should be ended")
	}
}

func TestStartSpan_ChildOfContext(t *testing.T) {
	if err := Init(Config{ExporterType: "stdout"}, nil); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = Shutdown(context.Background()) }()

	ctx, parent := StartSpan(context.Background(), "parent", nil)
	childCtx, child := StartSpan(ctx, "child", nil)
	defer parent.End()
	defer child.End()

	p := trace.SpanContextFromContext(ctx)
	c := trace.SpanContextFromContext(childCtx)
	if !p.IsValid() || !c.IsValid() {
		t.Fatal("expected valid span contexts")
	}
	if p.TraceID() != c.TraceID() {
		t.Error("child should share the parent's trace id")
	}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{ExporterType: "none"}},
		{name: "empty exporter", cfg: Config{}},
		{name: "unknown exporter", cfg: Config{ExporterType: "carrier-pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer x, X-Team = chat ,broken")

	cfg := ConfigFromEnv()
	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.ExporterType != "none" {
		t.Errorf("ExporterType = %q", cfg.ExporterType)
	}
	if len(cfg.OTLPHeaders) != 2 || cfg.OTLPHeaders["Authorization"] != "Bearer x" || cfg.OTLPHeaders["X-Team"] != "chat" {
		t.Errorf("OTLPHeaders = %v", cfg.OTLPHeaders)
	}
}
