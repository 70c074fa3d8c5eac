package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/core"
	"github.com/signalsfoundry/geoexchange/internal/config"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/internal/observability"
	"github.com/signalsfoundry/geoexchange/kb"
)

// app is the state shared by the subcommands of one invocation.
type app struct {
	out io.Writer

	configPath  string
	metricsAddr string
	hold        bool

	cfg       config.Config
	log       logging.Logger
	collector *observability.ExchangeCollector
	metrics   *http.Server
	shutdown  func(context.Context) error
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "geoexchange",
		Short: "Associate components with geometry and network elements",
		Long: `geoexchange keeps a component tree in sync with geometry, network and site
models: placements, derived quantities, generated sub-components and proxy geometry.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML configuration file")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (overrides the config file)")
	root.PersistentFlags().BoolVar(&a.hold, "hold", false, "keep serving /metrics after the command until interrupted")

	root.AddCommand(newDemoCmd(a), newConvertCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = a.metricsAddr
	}
	a.cfg = cfg
	lc := cfg.Logging.Settings()
	lc.Output = os.Stderr
	a.log = logging.New(lc)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := observability.InitTracing(ctx, cfg.TracingSettings(), a.log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.shutdown = shutdown

	collector, err := observability.NewExchangeCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.collector = collector
	if cfg.Metrics.Addr != "" {
		a.metrics = serveMetrics(cfg.Metrics.Addr, collector, a.log)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.metrics != nil {
		if a.hold {
			stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
			a.log.Info(ctx, "holding metrics endpoint until interrupted")
			<-stopCtx.Done()
			stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metrics.Shutdown(shutdownCtx)
	}
	observability.ShutdownWithTimeout(ctx, a.shutdown, a.log)
	return nil
}

// newExchange builds an empty store and tree wired to an exchange
// configured from the loaded settings.
func (a *app) newExchange() (*kb.Store, *component.Tree, *core.Exchange, error) {
	store := kb.NewStore()
	tree := component.NewTree("Project")
	opts := append(a.cfg.Exchange.Options(),
		core.WithLogger(a.log),
		core.WithMetrics(a.collector),
	)
	ex, err := core.NewExchange(store, tree, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, tree, ex, nil
}

func serveMetrics(addr string, collector *observability.ExchangeCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
