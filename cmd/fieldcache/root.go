package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/internal/field"
	"github.com/fieldcache/fieldcache/internal/metrics"
	"github.com/fieldcache/fieldcache/pkg/health"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app holds what every command needs once the configuration is loaded.
type app struct {
	configFile string
	cacheDir   string
	logLevel   string
	metrics    bool

	cfg       *config.Configuration
	log       *logrus.Logger
	logCloser io.Closer
	collector *metrics.Collector
	health    *health.Tracker
	mgr       *field.Manager
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "fieldcache",
		Short: "Inspect gridded data and images through a disk-spilling field cache",
		Long: `fieldcache loads netCDF variables and raster images as cached fields. Fields larger
than the configured threshold are spilled to the cache directory and reloaded on demand.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.start(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.stop()
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.cacheDir, "cache-dir", "", "spill directory (overrides the configuration)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	root.PersistentFlags().BoolVar(&a.metrics, "metrics", false, "serve Prometheus metrics while running")

	root.AddCommand(newVersionCmd(), newGridCmd(a), newImageCmd(a))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fieldcache %s\n", version)
		},
	}
}

// start loads the configuration (defaults, then file, then environment, then flags) and builds
// the logger, metrics collector and field manager.
func (a *app) start(ctx context.Context) error {
	cfg := config.NewDefault()
	if a.configFile != "" {
		if err := cfg.LoadFromFile(a.configFile); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if a.cacheDir != "" {
		cfg.Cache.Directory = a.cacheDir
	}
	if a.logLevel != "" {
		cfg.Global.LogLevel = strings.ToUpper(a.logLevel)
	}
	if a.metrics {
		cfg.Monitoring.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger, closer, err := utils.NewLogger(utils.LogConfig{
		Level:      cfg.Global.LogLevel,
		Format:     cfg.Global.LogFormat,
		File:       cfg.Global.LogFile,
		MaxSize:    cfg.Global.LogMaxSize,
		MaxBackups: cfg.Global.LogMaxBackups,
		Compress:   cfg.Global.LogCompress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.log, a.logCloser = logger, closer

	m := cfg.Monitoring.Metrics
	a.collector, err = metrics.NewCollector(&metrics.Config{
		Enabled:   m.Enabled,
		Port:      m.Port,
		Path:      m.Path,
		Namespace: m.Namespace,
		Labels:    m.CustomLabels,
	}, utils.Component(logger, "metrics"))
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	if err := a.collector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	a.health = health.NewTracker(health.TrackerConfig{
		ErrorThreshold:       cfg.Monitoring.Health.ErrorThreshold,
		UnavailableThreshold: cfg.Monitoring.Health.UnavailableThreshold,
	})
	healthLog := utils.Component(logger, "health")
	a.health.AddStateChangeCallback(func(component string, oldState, newState health.HealthState, err error) {
		entry := healthLog.WithFields(logrus.Fields{"health_component": component, "from": oldState, "to": newState})
		if newState == health.StateHealthy {
			entry.Info("component recovered")
			return
		}
		entry.WithError(err).Warn("component health changed")
	})
	a.collector.SetHealthTracker(a.health)

	a.mgr, err = field.NewManagerFromConfig(cfg.Cache, utils.Component(logger, "field"),
		field.Recorders(a.collector, a.health))
	if err != nil {
		return err
	}
	return nil
}

func (a *app) stop() error {
	var firstErr error
	if a.mgr != nil {
		if stats, ok := a.mgr.SpillStats(); ok {
			a.collector.UpdateSpillStats(stats)
		}
		if err := a.mgr.Close(); err != nil {
			firstErr = err
		}
	}
	if a.collector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.collector.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	return firstErr
}

func (a *app) logger(component string) *logrus.Entry {
	return utils.Component(a.log, component)
}
