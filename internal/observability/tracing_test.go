package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/core"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/kb"
	"github.com/signalsfoundry/geoexchange/model"
)

func TestSamplerFollowsRatio(t *testing.T) {
	cases := map[float64]string{
		1:    "AlwaysOnSampler",
		3:    "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		-1:   "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for ratio, want := range cases {
		if got := Sampler(ratio).Description(); !strings.Contains(got, want) {
			t.Fatalf("Sampler(%v) = %q, want it to contain %q", ratio, got, want)
		}
	}
}

func TestFlushSpansCarryExchangeResource(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(ctx, TracingConfig{
		ServiceName: "plant-editor",
		SampleRatio: 1,
		Attributes:  map[string]string{"geoexchange.pixel_to_meter": "0.01"},
	}, exp)
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	store := kb.NewStore()
	g := geometry.NewModel("plan")
	if err := store.LoadGeometry(g); err != nil {
		t.Fatalf("LoadGeometry: %v", err)
	}
	ex, err := core.NewExchange(store, component.NewTree("root"), core.WithTracer(tp.Tracer("test")))
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}
	defer ex.Close()

	if _, err := g.AddPolygonFace(geometry.Rectangle(model.Vec3{}, 2, 3)); err != nil {
		t.Fatalf("AddPolygonFace: %v", err)
	}
	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	var flush *tracetest.SpanStub
	spans := exp.GetSpans()
	for i := range spans {
		if spans[i].Name == "geoexchange.flush" {
			flush = &spans[i]
			break
		}
	}
	if flush == nil {
		t.Fatalf("no geoexchange.flush span among %d spans", len(spans))
	}
	set := flush.Resource.Set()
	if v, ok := set.Value("service.name"); !ok || v.AsString() != "plant-editor" {
		t.Fatalf("service.name = %v, want plant-editor", v)
	}
	if v, ok := set.Value("geoexchange.pixel_to_meter"); !ok || v.AsString() != "0.01" {
		t.Fatalf("geoexchange.pixel_to_meter = %v, want 0.01", v)
	}
	if !hasAttribute(flush.Attributes, "geoexchange.invalidated") {
		t.Fatalf("flush span attributes %v lack geoexchange.invalidated", flush.Attributes)
	}
}

func hasAttribute(attrs []attribute.KeyValue, key attribute.Key) bool {
	for _, kv := range attrs {
		if kv.Key == key {
			return true
		}
	}
	return false
}

func TestInitTracingStdoutWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		SampleRatio: 1,
		Output:      &buf,
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "geoexchange.flush")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "geoexchange.flush") {
		t.Fatalf("stdout exporter output missing span:\n%s", buf.String())
	}
	if _, err := InitTracing(context.Background(), TracingConfig{}, nil); err != nil {
		t.Fatalf("reset tracing: %v", err)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if otel.GetTracerProvider() == nil {
		t.Fatalf("no tracer provider installed")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
