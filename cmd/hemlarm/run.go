package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/timzifer/hemlarm/config"
	"github.com/timzifer/hemlarm/internal/logging"
	"github.com/timzifer/hemlarm/internal/reload"
	"github.com/timzifer/hemlarm/internal/tui"
	"github.com/timzifer/hemlarm/remote"
	"github.com/timzifer/hemlarm/service"
	"github.com/timzifer/hemlarm/telemetry"
)

const reloadCheckInterval = time.Second

type runOptions struct {
	liveView       bool
	liveViewListen string
	tui            bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the alarm API and serve the dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			opts.apply(cmd, cfg)
			if err := service.Validate(cfg); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			collector, err := newTelemetryCollector(cfg.Telemetry)
			if err != nil {
				log.Warn().Err(err).Msg("telemetry disabled")
				collector = telemetry.Noop()
			}
			err = runDashboard(cmd.Context(), root.configPath, cfg, opts, collector, remote.NewHTTPClientFactory())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.liveView, "live-view", false, "Enable live view web interface")
	cmd.Flags().StringVar(&opts.liveViewListen, "live-view-listen", "", "Live view listen address")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Show the terminal dashboard")
	return cmd
}

// apply lets explicit flags override the configuration file.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("live-view") {
		cfg.LiveView.Enabled = o.liveView
	}
	if strings.TrimSpace(o.liveViewListen) != "" {
		cfg.LiveView.Listen = o.liveViewListen
	}
}

// runDashboard runs one session per configuration generation. With hot
// reload enabled, a change to any configuration source restarts the session
// with the new configuration.
func runDashboard(ctx context.Context, cfgPath string, initialCfg *config.Config, opts *runOptions, collector telemetry.Collector, factory remote.ClientFactory) error {
	if collector == nil {
		collector = telemetry.Noop()
	}
	var watcher *reload.Watcher
	if initialCfg.HotReload {
		w, err := reload.NewWatcher(cfgPath, initialCfg)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		watcher = w
	}
	ticker := time.NewTicker(reloadCheckInterval)
	defer ticker.Stop()

	cfg := initialCfg
	for {
		logger, cleanup, err := setupLogger(cfg, opts.tui)
		if err != nil {
			return err
		}
		log.Logger = logger

		session, err := newSession(cfg, logger, collector, factory)
		if err != nil {
			cleanup()
			return err
		}
		if err := session.Start(); err != nil {
			_ = session.Close()
			cleanup()
			return err
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		tuiDone := make(chan error, 1)
		if opts.tui {
			go func() {
				tuiDone <- tui.Run(runCtx, session, 0)
			}()
		}

		var (
			changed []string
			newCfg  *config.Config
		)
	loop:
		for {
			select {
			case <-ctx.Done():
				cancelRun()
				_ = session.Close()
				cleanup()
				return ctx.Err()
			case err := <-tuiDone:
				cancelRun()
				_ = session.Close()
				cleanup()
				return err
			case <-ticker.C:
				if watcher == nil {
					continue
				}
				changes, err := watcher.Check()
				if err != nil {
					logger.Error().Err(err).Msg("failed to check configuration changes")
					continue
				}
				if len(changes) == 0 {
					continue
				}
				reloaded, err := config.Load(cfgPath)
				if err != nil {
					logger.Error().Err(err).Msg("failed to reload configuration")
					continue
				}
				opts.applyReloaded(cfg, reloaded)
				if err := service.Validate(reloaded); err != nil {
					logger.Error().Err(err).Msg("reloaded configuration invalid")
					continue
				}
				if err := watcher.Update(cfgPath, reloaded); err != nil {
					logger.Error().Err(err).Msg("failed to update watcher state")
				}
				changed = changes
				newCfg = reloaded
				break loop
			}
		}

		logger.Info().Strs("files", changed).Msg("configuration changed, restarting session")
		cancelRun()
		if opts.tui {
			<-tuiDone
		}
		_ = session.Close()
		cleanup()
		for _, file := range changed {
			collector.IncHotReload(file)
		}
		cfg = newCfg
	}
}

// applyReloaded carries command line overrides over to a reloaded configuration.
func (o *runOptions) applyReloaded(previous, reloaded *config.Config) {
	reloaded.LiveView.Enabled = previous.LiveView.Enabled
	if strings.TrimSpace(o.liveViewListen) != "" {
		reloaded.LiveView.Listen = o.liveViewListen
	}
}

func setupLogger(cfg *config.Config, quiet bool) (zerolog.Logger, func(), error) {
	if quiet {
		return logging.SetupTo(cfg.Logging, io.Discard)
	}
	return logging.Setup(cfg.Logging)
}

func newSession(cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector, factory remote.ClientFactory) (*service.Session, error) {
	client, err := factory(cfg.API)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	return service.New(cfg, client, logger,
		service.WithTelemetry(collector),
		service.WithMetricsGatherer(prometheus.DefaultGatherer),
	)
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}
