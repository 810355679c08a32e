// Package daemon assembles the tool server from its configuration: the
// registry seeded with the built-ins, the tool store, the Lua evaluator
// behind the execution engine, filesystem discovery, the dispatcher and
// the JSON-RPC gateway.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/toolns/internal/config"
	"github.com/harun/toolns/internal/logger"
	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/internal/tracing"
	"github.com/harun/toolns/pkg/discovery"
	"github.com/harun/toolns/pkg/dispatcher"
	"github.com/harun/toolns/pkg/engine"
	"github.com/harun/toolns/pkg/evaluator/lua"
	"github.com/harun/toolns/pkg/gateway"
	"github.com/harun/toolns/pkg/registry"
	"github.com/harun/toolns/pkg/toolstore"
)

// shutdownTimeout bounds the gateway drain on Stop.
const shutdownTimeout = 10 * time.Second

// Daemon is the assembled tool server.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	version string

	registry      *registry.Registry
	store         toolstore.Store
	autoSave      *toolstore.AutoSave
	evaluator     *lua.Evaluator
	engine        *engine.Engine
	discovery     *discovery.Service
	dispatcher    *dispatcher.Dispatcher
	gatewayServer *gateway.Server
	lifecycle     *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	serving   bool
	closed    bool
	mu        sync.RWMutex
}

// Status describes a running daemon.
type Status struct {
	Running   bool
	Serving   bool
	Addr      string
	Tools     int
	Uptime    time.Duration
	StartTime time.Time
}

// New builds every component. Nothing listens and no goroutine runs until
// Start or StartLocal.
func New(cfg *config.Config, log *logger.Logger, version string) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config:  cfg,
		logger:  log,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		d.release()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(cfg.DataDir, log.GetZerolog())

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	zl := d.logger.GetZerolog()

	if path := d.config.Logging.AuditFile; path != "" {
		if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if err := observability.InitAuditLogger(path); err != nil {
			logger := d.logger.Component("daemon")
			logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default logger")
		}
	}

	reg, err := registry.New(registry.Config{
		System: dispatcher.SystemTools(),
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}
	d.registry = reg

	store, err := toolstore.Open(d.config.Store.Driver, d.config.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open tool store: %w", err)
	}
	if store != nil {
		d.store = store
		n, err := toolstore.Restore(d.ctx, store, reg)
		if err != nil {
			return fmt.Errorf("failed to restore tools: %w", err)
		}
		d.autoSave = toolstore.NewAutoSave(toolstore.AutoSaveConfig{
			Store:    store,
			Registry: reg,
			Logger:   zl,
		})
		logger := d.logger.Component("daemon")
		logger.Info().
			Str("driver", d.config.Store.Driver).
			Str("path", d.config.Store.Path).
			Int("tools", n).
			Msg("Tool store restored")
	}

	d.evaluator = lua.New(lua.Options{
		Privileged: d.config.Engine.PrivilegedRuntime,
		Timeout:    d.config.Engine.EvalTimeout(),
	})
	d.engine = engine.New(d.evaluator, engine.Options{
		QueueSize: d.config.Engine.QueueSize,
		Logger:    zl,
	})

	if d.config.Discovery.Enabled {
		svc, err := discovery.New(discovery.Config{
			ToolsDir: d.config.Discovery.ToolsDir,
			Registry: reg,
			Watch:    d.config.Discovery.Watch,
			Debounce: d.config.Discovery.Debounce(),
			Schedule: d.config.Discovery.RescanSchedule,
			Logger:   zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create discovery service: %w", err)
		}
		d.discovery = svc
	}

	dcfg := dispatcher.Config{
		Registry: reg,
		Engine:   d.engine,
		Logger:   zl,
	}
	if d.discovery != nil {
		dcfg.Discovery = d.discovery
	}
	disp, err := dispatcher.New(dcfg)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	d.dispatcher = disp

	return nil
}

func (d *Daemon) initializeServices() error {
	srv, err := gateway.NewServer(gateway.Config{
		Host:              d.config.Server.Host,
		Port:              d.config.Server.Port,
		APIKey:            d.config.Server.APIKey,
		Privileged:        d.config.Server.Privileged,
		Dispatcher:        d.dispatcher,
		Name:              "toolns",
		Version:           d.version,
		RequestsPerMinute: d.config.Server.RequestsPerMinute,
		MaxConcurrent:     d.config.Server.MaxConcurrent,
		Logger:            d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = srv

	d.registry.OnChange(func(registry.Change) {
		srv.NotifyToolsChanged()
	})
	return nil
}

// Start runs the full server: PID file, engine, discovery with its watcher
// and schedule, and the gateway listener.
func (d *Daemon) Start() error {
	if err := d.begin(); err != nil {
		return err
	}

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting toolns server")

	if err := d.lifecycle.Start(); err != nil {
		d.abort()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.engine.Start()

	if d.discovery != nil {
		report, err := d.discovery.Start(tracing.EnsureTraceID(d.ctx))
		if err != nil {
			d.abort()
			return fmt.Errorf("failed to start discovery: %w", err)
		}
		logger.Info().Int("added", len(report.Added)).Int("skipped", len(report.Skipped)).Msg("Discovery started")
	}

	if err := d.gatewayServer.Start(); err != nil {
		d.abort()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	d.mu.Lock()
	d.serving = true
	d.mu.Unlock()

	logger.Info().
		Str("addr", d.gatewayServer.Addr()).
		Bool("privileged", d.config.Server.Privileged).
		Int("tools", d.registry.Len()).
		Msg("Server started")

	return nil
}

// StartLocal starts only what in-process commands need: the engine and a
// single discovery scan. No listener, watcher or PID file.
func (d *Daemon) StartLocal(ctx context.Context) error {
	if err := d.begin(); err != nil {
		return err
	}

	d.engine.Start()

	if d.discovery != nil {
		if _, err := d.discovery.Rescan(tracing.EnsureTraceID(ctx)); err != nil {
			d.abort()
			return fmt.Errorf("failed to scan tools: %w", err)
		}
	}
	return nil
}

func (d *Daemon) begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("daemon is closed")
	}
	if d.running {
		return errors.New("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	return nil
}

// abort undoes a partial start.
func (d *Daemon) abort() {
	if err := d.Stop(); err != nil {
		logger := d.logger.Component("daemon")
		logger.Error().Err(err).Msg("Failed to clean up after start failure")
	}
}

// Stop shuts every component down in reverse dependency order. It is safe
// to call on a daemon that was never started.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	serving := d.serving
	d.running = false
	d.serving = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping toolns server")

	var errs []error

	if serving {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.gatewayServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
			errs = append(errs, err)
		}
		cancel()
	}

	d.cancel()
	if err := d.release(); err != nil {
		errs = append(errs, err)
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
		errs = append(errs, err)
	}

	logger.Info().Msg("Server stopped")
	return errors.Join(errs...)
}

// release closes the components built by New.
func (d *Daemon) release() error {
	logger := d.logger.Component("daemon")
	var errs []error

	if d.discovery != nil {
		if err := d.discovery.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop discovery")
			errs = append(errs, err)
		}
	}

	if d.engine != nil {
		if err := d.engine.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close engine")
			errs = append(errs, err)
		}
	}
	if d.evaluator != nil {
		d.evaluator.Close()
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close tool store")
			errs = append(errs, err)
		}
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Status returns the daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Serving: d.serving,
		Tools:   d.registry.Len(),
	}
	if d.serving {
		status.Addr = d.gatewayServer.Addr()
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Wait blocks until SIGINT, SIGTERM or ctx is done, then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger := d.logger.Component("daemon")
		logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
	}

	return d.Stop()
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetRegistry returns the tool registry
func (d *Daemon) GetRegistry() *registry.Registry {
	return d.registry
}

// GetDispatcher returns the dispatcher
func (d *Daemon) GetDispatcher() *dispatcher.Dispatcher {
	return d.dispatcher
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}
