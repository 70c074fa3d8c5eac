package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/core"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/kb"
	"github.com/signalsfoundry/geoexchange/model"
)

var _ core.MetricsRecorder = (*ExchangeCollector)(nil)

func TestExchangeCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewExchangeCollector(reg)
	if err != nil {
		t.Fatalf("NewExchangeCollector: %v", err)
	}

	collector.ObserveRecompute(3*time.Millisecond, 7)
	collector.ObserveRecompute(time.Millisecond, 1)
	collector.IncInvalidations()
	collector.SetPlacementCounts(5, 2)

	if got := testutil.ToFloat64(collector.RecomputePasses); got != 2 {
		t.Fatalf("geoexchange_recompute_passes_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Invalidations); got != 1 {
		t.Fatalf("geoexchange_invalidations_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Placements); got != 5 {
		t.Fatalf("geoexchange_placements = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.PlacementsMissing); got != 2 {
		t.Fatalf("geoexchange_placements_missing = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "geoexchange_recompute_instances"); count != 2 {
		t.Fatalf("geoexchange_recompute_instances sample_count = %d, want 2", count)
	}
}

func TestExchangeCollectorReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewExchangeCollector(reg)
	if err != nil {
		t.Fatalf("first NewExchangeCollector: %v", err)
	}
	second, err := NewExchangeCollector(reg)
	if err != nil {
		t.Fatalf("second NewExchangeCollector: %v", err)
	}
	first.IncInvalidations()
	second.IncInvalidations()
	if got := testutil.ToFloat64(first.Invalidations); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestExchangeCollectorRejectsIncompatibleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geoexchange_recompute_passes_total",
		Help: "Total number of recompute flushes run by the exchange.",
	}, []string{"model"}))
	if _, err := NewExchangeCollector(reg); err == nil {
		t.Fatalf("expected error for a conflicting collector")
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ExchangeCollector
	c.ObserveRecompute(time.Second, 1)
	c.IncInvalidations()
	c.SetPlacementCounts(1, 1)
}

func TestExchangeDrivesCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewExchangeCollector(reg)
	if err != nil {
		t.Fatalf("NewExchangeCollector: %v", err)
	}

	store := kb.NewStore()
	g := geometry.NewModel("plan")
	if err := store.LoadGeometry(g); err != nil {
		t.Fatalf("LoadGeometry: %v", err)
	}
	tree := component.NewTree("root")
	ex, err := core.NewExchange(store, tree, core.WithMetrics(collector))
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}
	defer ex.Close()

	face, err := g.AddPolygonFace(geometry.Rectangle(model.Vec3{}, 2, 3))
	if err != nil {
		t.Fatalf("AddPolygonFace: %v", err)
	}
	slab := component.NewComponent("slab")
	if err := tree.Root().AddSubComponent(slab); err != nil {
		t.Fatalf("AddSubComponent: %v", err)
	}
	before := testutil.ToFloat64(collector.RecomputePasses)
	if _, err := ex.Associate(slab, g.Ref(face)); err != nil {
		t.Fatalf("Associate: %v", err)
	}

	if got := testutil.ToFloat64(collector.RecomputePasses); got != before+1 {
		t.Fatalf("recompute passes = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(collector.Placements); got != 1 {
		t.Fatalf("placements gauge = %v, want 1", got)
	}

	if err := store.Unload("plan"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if got := testutil.ToFloat64(collector.PlacementsMissing); got != 1 {
		t.Fatalf("missing placements gauge = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesExchangeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewExchangeCollector(reg)
	if err != nil {
		t.Fatalf("NewExchangeCollector: %v", err)
	}
	collector.ObserveRecompute(time.Millisecond, 4)
	collector.SetPlacementCounts(9, 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"geoexchange_recompute_passes_total",
		"geoexchange_recompute_duration_seconds",
		"geoexchange_recompute_instances",
		"geoexchange_invalidations_total",
		"geoexchange_placements 9",
		"geoexchange_placements_missing 0",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string) uint64 {
	t.Helper()

	families, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := familyByName(families, name)
	if mf == nil {
		return 0
	}
	for _, m := range mf.Metric {
		if h := m.GetHistogram(); h != nil {
			return h.GetSampleCount()
		}
	}
	return 0
}

func familyByName(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
