package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/toolns/internal/tracing"
	"github.com/harun/toolns/pkg/registry"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Config configures a Service.
type Config struct {
	ToolsDir string
	Registry *registry.Registry
	// Watch rescans when tool files change.
	Watch    bool
	Debounce time.Duration
	// Schedule is an optional cron expression ("*/5 * * * *", "@every 10m")
	// for periodic rescans.
	Schedule string
	Logger   zerolog.Logger
}

// Service runs the scanner at startup, on file changes and on a schedule.
type Service struct {
	scanner  *Scanner
	watcher  *Watcher
	cron     *cron.Cron
	schedule string
	logger   zerolog.Logger
}

// New validates cfg and creates a service. Nothing runs until Start.
func New(cfg Config) (*Service, error) {
	scanner, err := NewScanner(ScannerConfig{
		ToolsDir: cfg.ToolsDir,
		Registry: cfg.Registry,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		scanner:  scanner,
		schedule: cfg.Schedule,
		logger:   cfg.Logger.With().Str("component", "discovery").Logger(),
	}

	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("invalid rescan schedule %q: %w", cfg.Schedule, err)
		}
		s.cron = cron.New()
	}

	if cfg.Watch {
		w, err := NewWatcher(WatcherConfig{
			Dir:      scanner.UsersDir(),
			Debounce: cfg.Debounce,
			OnChange: func() { s.background(TriggerWatch) },
			Logger:   cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		s.watcher = w
	}

	return s, nil
}

// Start performs the initial scan and starts the watcher and schedule.
func (s *Service) Start(ctx context.Context) (Report, error) {
	report, err := s.scanner.rescan(ctx, TriggerStartup)
	if err != nil {
		return Report{}, err
	}

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			return report, err
		}
	}

	if s.cron != nil {
		if _, err := s.cron.AddFunc(s.schedule, func() { s.background(TriggerSchedule) }); err != nil {
			return report, fmt.Errorf("schedule rescan: %w", err)
		}
		s.cron.Start()
		s.logger.Info().Str("schedule", s.schedule).Msg("Scheduled tool rescans")
	}

	return report, nil
}

// Rescan implements the on-demand rescan used by /bin/discover_tools.
func (s *Service) Rescan(ctx context.Context) (Report, error) {
	return s.scanner.Rescan(ctx)
}

// Stop halts the watcher and the schedule, waiting for a running scheduled
// rescan to finish.
func (s *Service) Stop() error {
	var errs []error
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return errors.Join(errs...)
}

func (s *Service) background(trigger string) {
	ctx := tracing.EnsureTraceID(context.Background())
	if _, err := s.scanner.rescan(ctx, trigger); err != nil {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Error().
			Err(err).
			Str("trigger", trigger).
			Msg("Background rescan failed")
	}
}
