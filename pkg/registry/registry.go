package registry

import (
	"fmt"
	"iter"
	"path"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/pkg/address"
	"github.com/harun/toolns/pkg/toolerr"
	"github.com/rs/zerolog"
)

// ChangeKind describes a registry mutation.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeLoaded  ChangeKind = "loaded"
)

// Change is delivered to OnChange hooks after a mutation commits.
type Change struct {
	Kind    ChangeKind
	Address address.Address
	Source  Source
}

// Summary is the listing view of a definition.
type Summary struct {
	FlatIdentifier string
	Address        address.Address
	Description    string
	Protected      bool
	Version        string
}

// Filter narrows List results. Namespace is "bin", "sbin", "docs" or a user
// name; Pattern is a glob over the tool name. Empty fields match everything.
type Filter struct {
	Namespace string
	Pattern   string
}

// ValidatePattern reports whether p is a usable List pattern.
func ValidatePattern(p string) error {
	if p == "" {
		return nil
	}
	if _, err := path.Match(p, ""); err != nil {
		return toolerr.Wrap(toolerr.KindInvalidArguments, err, "invalid filter pattern %q", p)
	}
	return nil
}

type familyKey struct {
	user, pkg, name string
}

func keyOf(a address.Address) familyKey {
	return familyKey{user: a.User, pkg: a.Package, name: a.Name}
}

// Config holds the dependencies of a Registry.
type Config struct {
	// System lists the built-in tools. They are seeded once and never change.
	System []Definition
	Logger zerolog.Logger
	// Now overrides the clock used for CreatedAt; defaults to time.Now.
	Now func() time.Time
}

// Registry stores tool definitions and enforces the mutation rules.
//
// Every mutating call takes the caller's privilege tier explicitly; the
// registry itself holds no session state. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	system   map[address.Address]Definition
	families map[familyKey][]Definition // ascending by version

	hooksMu sync.RWMutex
	hooks   []func(Change)

	logger zerolog.Logger
	now    func() time.Time
}

// New creates a registry seeded with the given system tools.
func New(cfg Config) (*Registry, error) {
	observability.EnsureRegistered()

	r := &Registry{
		system:   make(map[address.Address]Definition, len(cfg.System)),
		families: make(map[familyKey][]Definition),
		logger:   cfg.Logger.With().Str("component", "registry").Logger(),
		now:      cfg.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}

	for _, def := range cfg.System {
		if !def.Address.IsSystem() {
			return nil, fmt.Errorf("built-in %s is not in a system namespace", def.Address)
		}
		if err := def.Address.Validate(); err != nil {
			return nil, fmt.Errorf("built-in %s: %w", def.Address, err)
		}
		if _, exists := r.system[def.Address]; exists {
			return nil, fmt.Errorf("built-in %s registered twice", def.Address)
		}
		def = def.clone()
		def.Protected = true
		def.Source = SourceBuiltin
		r.system[def.Address] = def
	}

	return r, nil
}

// OnChange registers a hook invoked after every committed Add or Remove.
// Hooks run outside the registry lock, in registration order.
func (r *Registry) OnChange(fn func(Change)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Registry) notify(c Change) {
	observability.RecordRegistryChange(string(c.Kind), string(c.Source))
	observability.SetRegistryTools(r.Len())

	r.hooksMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(c)
	}
}

// Add registers a user tool.
func (r *Registry) Add(def Definition, privileged bool) error {
	addr := def.Address

	if addr.IsSystem() {
		r.mu.RLock()
		_, exists := r.system[addr.WithVersion(address.Latest())]
		r.mu.RUnlock()
		if exists {
			return protectedError(addr, privileged)
		}
		return toolerr.New(toolerr.KindPermissionDenied,
			"cannot add tools to the system namespace /%s", addr.Namespace)
	}

	if !privileged {
		return toolerr.New(toolerr.KindPermissionDenied, "adding tools requires privilege")
	}

	def = def.clone()
	if err := validateUserDefinition(&def); err != nil {
		return toolerr.Wrap(toolerr.KindInvalidArguments, err, "invalid tool definition")
	}
	def.Protected = false
	if def.Source == "" {
		def.Source = SourceAPI
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = r.now()
	}

	r.mu.Lock()
	if err := r.insertLocked(def); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str("tool", def.Address.String()).
		Str("source", string(def.Source)).
		Msg("Tool added")

	r.notify(Change{Kind: ChangeAdded, Address: def.Address, Source: def.Source})
	return nil
}

func (r *Registry) insertLocked(def Definition) error {
	key := keyOf(def.Address)
	family := r.families[key]
	version := def.Version()

	idx := sort.Search(len(family), func(i int) bool {
		return address.CompareVersions(family[i].Version(), version) >= 0
	})
	if idx < len(family) && address.SameVersion(family[idx].Version(), version) {
		return toolerr.New(toolerr.KindVersionConflict,
			"tool %s already has version %s", def.Address.WithVersion(address.Latest()), family[idx].Version())
	}

	r.families[key] = slices.Insert(family, idx, def)
	return nil
}

// Remove deletes a user tool version. Latest removes the highest version.
// It returns the removed definition.
func (r *Registry) Remove(addr address.Address, privileged bool) (Definition, error) {
	if addr.IsSystem() {
		return Definition{}, protectedError(addr, privileged)
	}
	if !privileged {
		return Definition{}, toolerr.New(toolerr.KindPermissionDenied, "removing tools requires privilege")
	}
	if err := addr.Validate(); err != nil {
		return Definition{}, err
	}

	r.mu.Lock()
	key := keyOf(addr)
	family := r.families[key]
	idx := findVersion(family, addr.Version)
	if idx < 0 {
		r.mu.Unlock()
		return Definition{}, notFound(addr)
	}

	removed := family[idx]
	family = slices.Delete(family, idx, idx+1)
	if len(family) == 0 {
		delete(r.families, key)
	} else {
		r.families[key] = family
	}
	r.mu.Unlock()

	r.logger.Debug().Str("tool", removed.Address.String()).Msg("Tool removed")

	r.notify(Change{Kind: ChangeRemoved, Address: removed.Address, Source: removed.Source})
	return removed, nil
}

// Resolve returns the definition addr refers to. Latest resolves to the
// highest stored version.
func (r *Registry) Resolve(addr address.Address) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if addr.IsSystem() {
		def, ok := r.system[addr]
		if !ok {
			return Definition{}, notFound(addr)
		}
		return def.clone(), nil
	}

	family := r.families[keyOf(addr)]
	idx := findVersion(family, addr.Version)
	if idx < 0 {
		return Definition{}, notFound(addr)
	}
	return family[idx].clone(), nil
}

// List returns a lazy sequence of summaries matching filter. Each
// iteration observes a consistent snapshot taken when it starts.
func (r *Registry) List(filter Filter) iter.Seq[Summary] {
	return func(yield func(Summary) bool) {
		for _, s := range r.snapshot(filter) {
			if !yield(s) {
				return
			}
		}
	}
}

func (r *Registry) snapshot(filter Filter) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Summary

	for _, def := range r.system {
		if filter.matches(def.Address) {
			out = append(out, summarize(def))
		}
	}
	for _, family := range r.families {
		for _, def := range family {
			if filter.matches(def.Address) {
				out = append(out, summarize(def))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lessAddress(out[i].Address, out[j].Address)
	})
	return out
}

// Definitions returns every user definition, optionally restricted to the
// given sources, ordered by address.
func (r *Registry) Definitions(sources ...Source) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []Definition
	for _, family := range r.families {
		for _, def := range family {
			if len(sources) > 0 && !slices.Contains(sources, def.Source) {
				continue
			}
			defs = append(defs, def.clone())
		}
	}
	sort.SliceStable(defs, func(i, j int) bool {
		return lessAddress(defs[i].Address, defs[j].Address)
	})
	return defs
}

// Load bulk-inserts persisted user definitions. Either every definition is
// inserted or none is. Load does not fire change hooks.
func (r *Registry) Load(defs []Definition) error {
	prepared := make([]Definition, 0, len(defs))
	for _, def := range defs {
		if def.Address.IsSystem() {
			return toolerr.New(toolerr.KindInvalidArguments,
				"stored tool %s is in a system namespace", def.Address)
		}
		def = def.clone()
		if err := validateUserDefinition(&def); err != nil {
			return toolerr.Wrap(toolerr.KindInvalidArguments, err, "invalid stored tool")
		}
		def.Protected = false
		if def.Source == "" {
			def.Source = SourceStore
		}
		if def.CreatedAt.IsZero() {
			def.CreatedAt = r.now()
		}
		prepared = append(prepared, def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[familyKey][]Definition, len(r.families))
	for k, family := range r.families {
		staged[k] = slices.Clone(family)
	}
	current := r.families
	r.families = staged
	for _, def := range prepared {
		if err := r.insertLocked(def); err != nil {
			r.families = current
			return err
		}
	}

	observability.RecordRegistryChange(string(ChangeLoaded), string(SourceStore))
	r.logger.Debug().Int("count", len(prepared)).Msg("Tools loaded")
	return nil
}

// Len returns the number of registered tools, built-ins included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.system)
	for _, family := range r.families {
		n += len(family)
	}
	return n
}

func (f Filter) matches(a address.Address) bool {
	if f.Namespace != "" {
		if a.IsSystem() {
			if string(a.Namespace) != f.Namespace {
				return false
			}
		} else if a.User != f.Namespace {
			return false
		}
	}
	if f.Pattern != "" {
		ok, err := path.Match(f.Pattern, a.Name)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func findVersion(family []Definition, v address.VersionSpec) int {
	if len(family) == 0 {
		return -1
	}
	if v.IsLatest() {
		return len(family) - 1
	}
	for i, def := range family {
		if address.SameVersion(def.Version(), v.Value()) {
			return i
		}
	}
	return -1
}

func summarize(def Definition) Summary {
	return Summary{
		FlatIdentifier: address.Encode(def.Address),
		Address:        def.Address,
		Description:    def.Description,
		Protected:      def.Protected,
		Version:        def.Version(),
	}
}

var namespaceOrder = map[address.Namespace]int{
	address.NamespaceBin:  0,
	address.NamespaceSbin: 1,
	address.NamespaceDocs: 2,
	address.NamespaceUser: 3,
}

func lessAddress(a, b address.Address) bool {
	if a.Namespace != b.Namespace {
		return namespaceOrder[a.Namespace] < namespaceOrder[b.Namespace]
	}
	if a.User != b.User {
		return a.User < b.User
	}
	if a.Package != b.Package {
		return a.Package < b.Package
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return address.CompareVersions(a.Version.Value(), b.Version.Value()) < 0
}

func protectedError(addr address.Address, privileged bool) error {
	err := toolerr.New(toolerr.KindProtectedTool, "tool %s is protected and cannot be modified", addr)
	if !privileged {
		err.Also = []toolerr.Kind{toolerr.KindPermissionDenied}
	}
	return err
}

func notFound(addr address.Address) error {
	return toolerr.New(toolerr.KindNotFound, "tool %s not found", addr)
}
