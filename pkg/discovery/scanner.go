package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/internal/tracing"
	"github.com/harun/toolns/pkg/address"
	"github.com/harun/toolns/pkg/registry"
	"github.com/harun/toolns/pkg/toolerr"
	"github.com/rs/zerolog"
)

// DefaultVersion is assigned to tool files without an @version header.
const DefaultVersion = "1.0"

// FileExt is the extension of tool files.
const FileExt = ".lua"

// Scan triggers, used as metric labels.
const (
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
	TriggerWatch    = "watch"
	TriggerSchedule = "schedule"
)

// Report summarizes one rescan.
type Report struct {
	Scanned int      `json:"scanned"`
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
	Skipped []string `json:"skipped"`
}

// Discovered is a tool definition read from a file.
type Discovered struct {
	Definition registry.Definition
	Path       string
}

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	// ToolsDir holds users/<user>/<package>/<name>.lua.
	ToolsDir string
	Registry *registry.Registry
	Logger   zerolog.Logger
}

// Scanner keeps the registry in sync with the tools directory. Tools it
// registered are tracked by checksum so edits are picked up and deleted
// files are unregistered.
type Scanner struct {
	dir      string
	registry *registry.Registry
	logger   zerolog.Logger

	mu    sync.Mutex
	known map[address.Address]string
}

// NewScanner creates a scanner over cfg.ToolsDir.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	if cfg.ToolsDir == "" {
		return nil, errors.New("discovery requires a tools directory")
	}
	if cfg.Registry == nil {
		return nil, errors.New("discovery requires a registry")
	}
	observability.EnsureRegistered()

	return &Scanner{
		dir:      cfg.ToolsDir,
		registry: cfg.Registry,
		logger:   cfg.Logger.With().Str("component", "discovery").Logger(),
		known:    make(map[address.Address]string),
	}, nil
}

// UsersDir returns the directory that is scanned.
func (s *Scanner) UsersDir() string {
	return filepath.Join(s.dir, "users")
}

// Rescan re-reads the tools directory and applies the difference to the
// registry.
func (s *Scanner) Rescan(ctx context.Context) (Report, error) {
	return s.rescan(ctx, TriggerManual)
}

func (s *Scanner) rescan(ctx context.Context, trigger string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	observability.RecordDiscoveryScan(trigger)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	found, skipped, err := Scan(s.dir)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Scanned: len(found) + len(skipped),
		Added:   []string{},
		Updated: []string{},
		Removed: []string{},
		Skipped: skipped,
	}

	seen := make(map[address.Address]bool, len(found))
	for _, d := range found {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		addr := d.Definition.Address
		seen[addr] = true
		sum := d.Definition.Checksum()

		prev, tracked := s.known[addr]
		if tracked {
			def, err := s.registry.Resolve(addr)
			switch {
			case err != nil || def.Source != registry.SourceDiscovery:
				// Removed or taken over through the API since the last scan.
				delete(s.known, addr)
				tracked = false
			case prev == sum:
				continue
			}
		}
		if tracked {
			if _, err := s.registry.Remove(addr, true); err != nil && !errors.Is(err, toolerr.ErrNotFound) {
				logger.Warn().Err(err).Str("tool", addr.String()).Msg("Failed to replace discovered tool")
				report.Skipped = append(report.Skipped, fmt.Sprintf("%s: %v", d.Path, err))
				continue
			}
			delete(s.known, addr)
		}

		if err := s.registry.Add(d.Definition, true); err != nil {
			logger.Warn().Err(err).Str("file", d.Path).Msg("Skipping discovered tool")
			report.Skipped = append(report.Skipped, fmt.Sprintf("%s: %v", d.Path, err))
			continue
		}
		s.known[addr] = sum

		if tracked {
			report.Updated = append(report.Updated, addr.String())
		} else {
			report.Added = append(report.Added, addr.String())
		}
	}

	for addr := range s.known {
		if seen[addr] {
			continue
		}
		delete(s.known, addr)

		def, err := s.registry.Resolve(addr)
		if err != nil || def.Source != registry.SourceDiscovery {
			continue
		}
		if _, err := s.registry.Remove(addr, true); err != nil {
			logger.Warn().Err(err).Str("tool", addr.String()).Msg("Failed to remove vanished tool")
			continue
		}
		report.Removed = append(report.Removed, addr.String())
	}
	sort.Strings(report.Removed)

	logger.Info().
		Str("trigger", trigger).
		Int("scanned", report.Scanned).
		Int("added", len(report.Added)).
		Int("updated", len(report.Updated)).
		Int("removed", len(report.Removed)).
		Int("skipped", len(report.Skipped)).
		Msg("Tools directory scanned")

	return report, nil
}

// Scan reads every tool file under dir/users. Files that cannot be turned
// into a definition are returned as "path: reason" entries in skipped. A
// missing users directory is not an error.
func Scan(dir string) (found []Discovered, skipped []string, err error) {
	root := filepath.Join(dir, "users")

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if isHidden(d.Name()) && p != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(p) != FileExt {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			skipped = append(skipped, fmt.Sprintf("%s: expected users/<user>/<package>/<name>%s", p, FileExt))
			return nil
		}

		def, err := readTool(p, parts[0], parts[1], strings.TrimSuffix(parts[2], FileExt))
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", p, err))
			return nil
		}
		found = append(found, Discovered{Definition: def, Path: p})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", root, err)
	}

	return found, skipped, nil
}

func readTool(path, user, pkg, name string) (registry.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return registry.Definition{}, err
	}
	src := string(data)

	h, err := ParseHeader(src)
	if err != nil {
		return registry.Definition{}, err
	}

	version := h.Version
	if version == "" {
		version = DefaultVersion
	}
	description := h.Description
	if description == "" {
		description = "Tool from " + path
	}

	addr := address.User(user, pkg, name, address.Exact(version))
	if err := addr.Validate(); err != nil {
		return registry.Definition{}, err
	}

	return registry.Definition{
		Address:     addr,
		Description: description,
		Script:      src,
		Parameters:  h.Parameters,
		Source:      registry.SourceDiscovery,
	}, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
