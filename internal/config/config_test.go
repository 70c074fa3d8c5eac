package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/core"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/kb"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, core.DefaultPixelToMeter, cfg.Exchange.PixelToMeter)
	assert.Equal(t, "#a0a0a0ff", cfg.Exchange.Colors.Unassigned)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
logging:
  level: debug
  format: json
metrics:
  addr: "localhost:9464"
exchange:
  pixel_to_meter: 0.02
  proxy_size: [1, 2, 3]
  colors:
    assigned: "#00ff00"
  aggregates:
    min_missing: nan
  max_flush_iterations: 8
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Settings().Format)
	assert.Equal(t, "localhost:9464", cfg.Metrics.Addr)
	assert.Equal(t, [3]float64{1, 2, 3}, cfg.Exchange.ProxySize)
	assert.Equal(t, "nan", cfg.Exchange.Aggregates.MinMissing)
	assert.Equal(t, "exclude", cfg.Exchange.Aggregates.MaxMissing, "unset keys keep their default")
	assert.Equal(t, "stdout", cfg.Tracing.Settings().Exporter)
	tc := cfg.TracingSettings()
	assert.Equal(t, cfg.Tracing.ServiceName, tc.ServiceName)
	assert.Equal(t, "8", tc.Attributes["geoexchange.max_flush_iterations"])
	assert.Contains(t, tc.Attributes, "geoexchange.pixel_to_meter")
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "exchange:\n  pixels: 3\n",
		"zero scale":      "exchange:\n  pixel_to_meter: 0\n",
		"negative size":   "exchange:\n  proxy_size: [1, -1, 1]\n",
		"bad color":       "exchange:\n  colors:\n    parent: orange\n",
		"bad policy":      "exchange:\n  aggregates:\n    sum_missing: skip\n",
		"bad level":       "logging:\n  level: loud\n",
		"bad ratio":       "tracing:\n  sample_ratio: 2\n",
		"bad metrics":     "metrics:\n  addr: nine\n",
		"zero iterations": "exchange:\n  max_flush_iterations: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
		})
	}

	_, err := Parse(strings.NewReader("exchange:\n  pixel_to_meter: -1\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadAppliesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geoexchange.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644))

	t.Setenv("GEOEXCHANGE_LOG_LEVEL", "ERROR")
	t.Setenv("GEOEXCHANGE_PIXEL_TO_METER", "0.5")
	t.Setenv("GEOEXCHANGE_METRICS_ADDR", ":9100")
	t.Setenv("GEOEXCHANGE_TRACING_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 0.5, cfg.Exchange.PixelToMeter)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.True(t, cfg.Tracing.Enabled)

	t.Setenv("GEOEXCHANGE_MAX_FLUSH_ITERATIONS", "many")
	_, err = Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestColorRoundTrip(t *testing.T) {
	c, err := ParseColor("#2878dc")
	require.NoError(t, err)
	assert.Equal(t, model.Color{R: 0x28, G: 0x78, B: 0xdc, A: 0xff}, c)
	assert.Equal(t, "#2878dcff", FormatColor(c))

	for _, bad := range []string{"2878dc", "#28", "#gg78dcff", ""} {
		_, err := ParseColor(bad)
		assert.Error(t, err, bad)
	}
}

func TestOptionsConfigureExchange(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
exchange:
  pixel_to_meter: 0.1
  proxy_size: [2, 2, 2]
  colors:
    unassigned: "#000000"
`))
	require.NoError(t, err)

	store := kb.NewStore()
	n := network.NewModel("supply")
	a, err := n.AddNode(0, "a", model.Vec2{X: 10})
	require.NoError(t, err)
	require.NoError(t, store.LoadNetwork(n))
	ex, err := core.NewExchange(store, component.NewTree("root"), cfg.Exchange.Options()...)
	require.NoError(t, err)
	defer ex.Close()

	g, err := ex.ConvertNetwork("supply", "supply-geometry")
	require.NoError(t, err)
	rep, ok := n.Representation(a)
	require.True(t, ok)
	v, ok := g.Vertex(rep.Element)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v.Position.X, 1e-12)

	px, ok := g.ProxyForVertex(v.ID)
	require.True(t, ok)
	p, ok := g.Proxy(px)
	require.True(t, ok)
	assert.Equal(t, model.Vec3{X: 2, Y: 2, Z: 2}, p.Size)
	assert.Equal(t, model.Color{A: 255}, p.Color.Color)
	assert.Equal(t, 1, g.Count(geometry.KindProxy))
}
