// Package config loads geoexchange settings from a YAML file with
// GEOEXCHANGE_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/geoexchange/core"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/internal/observability"
	"github.com/signalsfoundry/geoexchange/model"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete geoexchange configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Exchange ExchangeConfig `yaml:"exchange"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level     string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"oneof=text json"`
	AddSource bool   `yaml:"add_source"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name" validate:"required"`
	Exporter    string  `yaml:"exporter" validate:"oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `yaml:"endpoint" validate:"omitempty,hostname_port"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// MetricsConfig controls the /metrics listener. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// ExchangeConfig holds the engine tunables.
type ExchangeConfig struct {
	PixelToMeter       float64          `yaml:"pixel_to_meter" validate:"gt=0"`
	ProxySize          [3]float64       `yaml:"proxy_size" validate:"dive,gt=0"`
	Colors             ColorsConfig     `yaml:"colors"`
	Aggregates         AggregatesConfig `yaml:"aggregates"`
	MaxFlushIterations int              `yaml:"max_flush_iterations" validate:"gte=1,lte=1024"`
}

// ColorsConfig holds proxy colors as #RRGGBB or #RRGGBBAA.
type ColorsConfig struct {
	Unassigned string `yaml:"unassigned" validate:"rgbhex"`
	Assigned   string `yaml:"assigned" validate:"rgbhex"`
	Parent     string `yaml:"parent" validate:"rgbhex"`
}

// AggregatesConfig selects how instances with missing targets count
// towards each aggregate: zero, exclude or nan.
type AggregatesConfig struct {
	SumMissing   string `yaml:"sum_missing" validate:"oneof=zero exclude nan"`
	CountMissing string `yaml:"count_missing" validate:"oneof=zero exclude nan"`
	MinMissing   string `yaml:"min_missing" validate:"oneof=zero exclude nan"`
	MaxMissing   string `yaml:"max_missing" validate:"oneof=zero exclude nan"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("rgbhex", func(fl validator.FieldLevel) bool {
		_, err := ParseColor(fl.Field().String())
		return err == nil
	})
}

// Default returns the configuration used when no file is given.
func Default() Config {
	colors := core.DefaultColors()
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			ServiceName: observability.DefaultServiceName,
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Exchange: ExchangeConfig{
			PixelToMeter: core.DefaultPixelToMeter,
			ProxySize:    [3]float64{0.3, 0.3, 0.3},
			Colors: ColorsConfig{
				Unassigned: FormatColor(colors.Unassigned),
				Assigned:   FormatColor(colors.Assigned),
				Parent:     FormatColor(colors.Parent),
			},
			Aggregates: AggregatesConfig{
				SumMissing:   "zero",
				CountMissing: "zero",
				MinMissing:   "exclude",
				MaxMissing:   "exclude",
			},
			MaxFlushIterations: core.DefaultMaxFlushIterations,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates it. Environment
// overrides are not applied.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from GEOEXCHANGE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.ToLower(v)
		}
	}
	str("GEOEXCHANGE_LOG_LEVEL", &c.Logging.Level)
	str("GEOEXCHANGE_LOG_FORMAT", &c.Logging.Format)
	str("GEOEXCHANGE_TRACING_EXPORTER", &c.Tracing.Exporter)
	if v, ok := lookup("GEOEXCHANGE_TRACING_SERVICE_NAME"); ok && v != "" {
		c.Tracing.ServiceName = v
	}
	if v, ok := lookup("GEOEXCHANGE_OTLP_ENDPOINT"); ok && v != "" {
		c.Tracing.Endpoint = v
	}
	if v, ok := lookup("GEOEXCHANGE_METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	if v, ok := lookup("GEOEXCHANGE_TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: GEOEXCHANGE_TRACING_ENABLED: %v", ErrInvalidConfig, err)
		}
		c.Tracing.Enabled = b
	}
	if v, ok := lookup("GEOEXCHANGE_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: GEOEXCHANGE_TRACING_SAMPLE_RATIO: %v", ErrInvalidConfig, err)
		}
		c.Tracing.SampleRatio = f
	}
	if v, ok := lookup("GEOEXCHANGE_PIXEL_TO_METER"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: GEOEXCHANGE_PIXEL_TO_METER: %v", ErrInvalidConfig, err)
		}
		c.Exchange.PixelToMeter = f
	}
	if v, ok := lookup("GEOEXCHANGE_MAX_FLUSH_ITERATIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: GEOEXCHANGE_MAX_FLUSH_ITERATIONS: %v", ErrInvalidConfig, err)
		}
		c.Exchange.MaxFlushIterations = n
	}
	return nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Settings converts the logging section.
func (l LoggingConfig) Settings() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format, AddSource: l.AddSource}
}

// Settings converts the tracing section.
func (t TracingConfig) Settings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     t.Enabled,
		ServiceName: t.ServiceName,
		Exporter:    t.Exporter,
		Endpoint:    t.Endpoint,
		SampleRatio: t.SampleRatio,
	}
}

// TracingSettings converts the tracing section and tags the trace resource
// with the exchange settings flush spans are recorded under.
func (c Config) TracingSettings() observability.TracingConfig {
	tc := c.Tracing.Settings()
	tc.Attributes = map[string]string{
		"geoexchange.pixel_to_meter":       strconv.FormatFloat(c.Exchange.PixelToMeter, 'g', -1, 64),
		"geoexchange.max_flush_iterations": strconv.Itoa(c.Exchange.MaxFlushIterations),
	}
	return tc
}

// Options turns the exchange section into engine options. The section must
// have passed Validate.
func (x ExchangeConfig) Options() []core.ExchangeOption {
	opts := []core.ExchangeOption{
		core.WithPixelToMeter(x.PixelToMeter),
		core.WithProxySize(model.Vec3{X: x.ProxySize[0], Y: x.ProxySize[1], Z: x.ProxySize[2]}),
		core.WithMaxFlushIterations(x.MaxFlushIterations),
	}
	unassigned, err1 := ParseColor(x.Colors.Unassigned)
	assigned, err2 := ParseColor(x.Colors.Assigned)
	parent, err3 := ParseColor(x.Colors.Parent)
	if err1 == nil && err2 == nil && err3 == nil {
		opts = append(opts, core.WithColors(core.ProxyColors{Unassigned: unassigned, Assigned: assigned, Parent: parent}))
	}
	for kind, name := range map[core.AggregateKind]string{
		core.AggregateSum:   x.Aggregates.SumMissing,
		core.AggregateCount: x.Aggregates.CountMissing,
		core.AggregateMin:   x.Aggregates.MinMissing,
		core.AggregateMax:   x.Aggregates.MaxMissing,
	} {
		if p, ok := parsePolicy(name); ok {
			opts = append(opts, core.WithAggregatePolicy(kind, p))
		}
	}
	return opts
}

func parsePolicy(s string) (core.MissingPolicy, bool) {
	switch s {
	case "zero":
		return core.MissingZero, true
	case "exclude":
		return core.MissingExclude, true
	case "nan":
		return core.MissingNaN, true
	default:
		return 0, false
	}
}

// ParseColor parses #RRGGBB (opaque) or #RRGGBBAA.
func ParseColor(s string) (model.Color, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == len(s) || (len(hex) != 6 && len(hex) != 8) {
		return model.Color{}, fmt.Errorf("color %q: want #RRGGBB or #RRGGBBAA", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return model.Color{}, fmt.Errorf("color %q: %w", s, err)
	}
	return model.Color{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// FormatColor renders a color as #RRGGBBAA.
func FormatColor(c model.Color) string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}
