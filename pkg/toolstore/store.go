package toolstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/pkg/registry"
	"github.com/rs/zerolog"
)

var (
	ErrChecksumMismatch = errors.New("script checksum mismatch")
	ErrDuplicateRecord  = errors.New("duplicate tool record")
)

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

// Store persists user tool definitions.
type Store interface {
	// Load returns every stored definition with Source set to store.
	Load(ctx context.Context) ([]registry.Definition, error)
	// Save replaces the stored set with defs.
	Save(ctx context.Context, defs []registry.Definition) error
	Close() error
}

// Open creates the store for driver. DriverNone returns a nil Store.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverFile, "":
		return NewFileStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	case DriverNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

// Restore loads the store into reg.
func Restore(ctx context.Context, s Store, reg *registry.Registry) (int, error) {
	defs, err := s.Load(ctx)
	if err != nil {
		observability.RecordStoreError("load")
		return 0, err
	}
	if err := reg.Load(defs); err != nil {
		observability.RecordStoreError("load")
		return 0, fmt.Errorf("restore tools: %w", err)
	}
	return len(defs), nil
}

// Persisted lists the sources written back to the store. Discovered tools
// are re-read from disk instead.
var Persisted = []registry.Source{registry.SourceAPI, registry.SourceStore}

// AutoSave writes the persisted tool set to s after every registry change
// that touches it.
type AutoSave struct {
	store    Store
	registry *registry.Registry
	logger   zerolog.Logger
	timeout  time.Duration

	mu sync.Mutex
}

// AutoSaveConfig configures AutoSave.
type AutoSaveConfig struct {
	Store    Store
	Registry *registry.Registry
	Logger   zerolog.Logger
	// Timeout bounds a single save. Defaults to 10s.
	Timeout time.Duration
}

// NewAutoSave registers the save hook on cfg.Registry.
func NewAutoSave(cfg AutoSaveConfig) *AutoSave {
	observability.EnsureRegistered()

	a := &AutoSave{
		store:    cfg.Store,
		registry: cfg.Registry,
		logger:   cfg.Logger.With().Str("component", "toolstore").Logger(),
		timeout:  cfg.Timeout,
	}
	if a.timeout <= 0 {
		a.timeout = 10 * time.Second
	}

	cfg.Registry.OnChange(a.onChange)
	return a
}

func (a *AutoSave) onChange(c registry.Change) {
	persisted := false
	for _, src := range Persisted {
		if c.Source == src {
			persisted = true
		}
	}
	if !persisted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.Save(ctx); err != nil {
		a.logger.Error().Err(err).Str("tool", c.Address.String()).Msg("Failed to save tools")
	}
}

// Save writes the current persisted tool set.
func (a *AutoSave) Save(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	defs := a.registry.Definitions(Persisted...)
	err := a.store.Save(ctx, defs)
	observability.RecordStoreSave(time.Since(start), err)
	if err != nil {
		return err
	}

	a.logger.Debug().Int("count", len(defs)).Msg("Tools saved")
	return nil
}
