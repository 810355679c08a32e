package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/internal/tracing"
	"github.com/harun/toolns/pkg/address"
	"github.com/harun/toolns/pkg/discovery"
	"github.com/harun/toolns/pkg/engine"
	"github.com/harun/toolns/pkg/registry"
	"github.com/harun/toolns/pkg/toolerr"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Executor is the part of the execution engine the dispatcher uses.
type Executor interface {
	Submit(ctx context.Context, req engine.Request) (engine.Result, error)
	Reset(ctx context.Context) error
	Info() engine.Info
	Stats() engine.Stats
}

// Rescanner re-reads the tools directory on demand.
type Rescanner interface {
	Rescan(ctx context.Context) (discovery.Report, error)
}

// Config holds the dependencies of a Dispatcher.
type Config struct {
	Registry *registry.Registry
	Engine   Executor
	// Discovery is optional; without it discover_tools reports that
	// discovery is disabled.
	Discovery Rescanner
	Logger    zerolog.Logger
}

// Result is the outcome of a dispatched call.
type Result struct {
	// Text is the tool's result.
	Text string
	// Output is anything the script printed.
	Output string
}

// ToolInfo describes a callable tool for protocol listings.
type ToolInfo struct {
	FlatIdentifier string                 `json:"name"`
	Address        string                 `json:"path"`
	Description    string                 `json:"description"`
	Protected      bool                   `json:"protected"`
	InputSchema    map[string]interface{} `json:"inputSchema"`
}

// Dispatcher routes flat identifiers to built-ins or user tools.
type Dispatcher struct {
	registry  *registry.Registry
	engine    Executor
	discovery Rescanner
	builtins  map[address.Address]*builtin
	logger    zerolog.Logger
}

// New creates a dispatcher. The registry must have been seeded with
// SystemTools.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("dispatcher requires a registry")
	}
	if cfg.Engine == nil {
		return nil, errors.New("dispatcher requires an execution engine")
	}

	d := &Dispatcher{
		registry:  cfg.Registry,
		engine:    cfg.Engine,
		discovery: cfg.Discovery,
		builtins:  make(map[address.Address]*builtin),
		logger:    cfg.Logger.With().Str("component", "dispatcher").Logger(),
	}

	for _, b := range builtinTable() {
		if err := b.buildSchema(); err != nil {
			return nil, err
		}
		if _, err := cfg.Registry.Resolve(b.addr); err != nil {
			return nil, fmt.Errorf("registry is missing built-in %s: %w", b.addr, err)
		}
		d.builtins[b.addr] = b
	}

	return d, nil
}

// Dispatch decodes identifier and runs the tool it names with args.
// privileged is the caller's tier; it gates /sbin tools and registry
// mutations.
func (d *Dispatcher) Dispatch(ctx context.Context, identifier string, args map[string]interface{}, privileged bool) (Result, error) {
	start := time.Now()
	ctx = tracing.WithTool(tracing.EnsureTraceID(ctx), identifier)
	logger := tracing.LoggerFromContext(ctx, d.logger)

	addr, err := address.Decode(identifier)
	if err != nil {
		observability.RecordDispatch("invalid", string(toolerr.KindOf(err)), time.Since(start))
		logger.Debug().Err(err).Msg("Rejected identifier")
		return Result{}, err
	}

	res, err := d.dispatchAddress(ctx, addr, args, privileged)

	duration := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = string(toolerr.KindOf(err))
	}
	observability.RecordDispatch(string(addr.Namespace), outcome, duration)

	if err != nil {
		logger.Debug().
			Str("path", addr.String()).
			Str("kind", outcome).
			Dur("duration", duration).
			Err(err).
			Msg("Dispatch failed")
	} else {
		logger.Debug().
			Str("path", addr.String()).
			Dur("duration", duration).
			Msg("Dispatch completed")
	}

	return res, err
}

func (d *Dispatcher) dispatchAddress(ctx context.Context, addr address.Address, args map[string]interface{}, privileged bool) (Result, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	if addr.Namespace == address.NamespaceSbin && !privileged {
		if err := d.protectedTarget(addr, args); err != nil {
			return Result{}, err
		}
		return Result{}, toolerr.New(toolerr.KindPermissionDenied,
			"%s requires a privileged caller", addr)
	}

	if addr.IsSystem() {
		b, ok := d.builtins[addr]
		if !ok {
			return Result{}, toolerr.New(toolerr.KindUnknownBuiltin, "unknown system tool %s", addr)
		}
		if err := b.validate(args); err != nil {
			return Result{}, err
		}
		return d.invokeBuiltin(ctx, b, args, privileged)
	}

	return d.invokeUserTool(ctx, addr, args)
}

// protectedTarget returns the registry's error when an unprivileged
// tool_add or tool_remove names a system tool. That error is ProtectedTool
// and also matches PermissionDenied.
func (d *Dispatcher) protectedTarget(addr address.Address, args map[string]interface{}) error {
	switch addr {
	case address.Sbin("tool_remove"):
		target, err := parseToolPath(stringArg(args, "path"))
		if err != nil || !target.IsSystem() {
			return nil
		}
		_, err = d.registry.Remove(target, false)
		return err
	case address.Sbin("tool_add"):
		ns := address.ParseNamespace(stringArg(args, "user"))
		if !ns.IsSystem() {
			return nil
		}
		return d.registry.Add(registry.Definition{
			Address: address.SystemTool(ns, stringArg(args, "name")),
		}, false)
	}
	return nil
}

// invokeUserTool resolves a user tool, checks its required parameters and
// runs its script on the engine.
func (d *Dispatcher) invokeUserTool(ctx context.Context, addr address.Address, args map[string]interface{}) (Result, error) {
	def, err := d.registry.Resolve(addr)
	if err != nil {
		return Result{}, err
	}

	for _, name := range def.RequiredParameters() {
		if v, ok := args[name]; !ok || v == nil {
			return Result{}, toolerr.MissingParameter(name)
		}
	}

	bindings := make(map[string]interface{}, len(def.Parameters)+1)
	for _, p := range def.Parameters {
		// Absent optional parameters are bound to nil so values from an
		// earlier call do not leak in.
		bindings[p.Name] = args[p.Name]
	}
	params := make(map[string]interface{}, len(args))
	for k, v := range args {
		params[k] = v
	}
	bindings[registry.ReservedParameter] = params

	res, err := d.engine.Submit(ctx, engine.Request{
		Script:   def.Script,
		Bindings: bindings,
		Label:    def.Address.String(),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Text: res.Value, Output: res.Output}, nil
}

// validate checks args against the built-in's schema. Missing required
// parameters are reported first, in declaration order.
func (b *builtin) validate(args map[string]interface{}) error {
	for _, p := range b.params {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			return toolerr.MissingParameter(p.Name)
		}
	}

	result, err := b.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return toolerr.Wrap(toolerr.KindInvalidArguments, err, "invalid arguments for %s", b.addr)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return toolerr.New(toolerr.KindInvalidArguments,
			"invalid arguments for %s: %s", b.addr, strings.Join(msgs, "; "))
	}
	return nil
}

// ListTools returns every callable tool with its input schema. /sbin tools
// are listed only for privileged callers.
func (d *Dispatcher) ListTools(privileged bool) []ToolInfo {
	var tools []ToolInfo
	for s := range d.registry.List(registry.Filter{}) {
		if s.Address.Namespace == address.NamespaceSbin && !privileged {
			continue
		}

		info := ToolInfo{
			FlatIdentifier: s.FlatIdentifier,
			Address:        s.Address.String(),
			Description:    s.Description,
			Protected:      s.Protected,
		}

		if b, ok := d.builtins[s.Address]; ok {
			info.InputSchema = b.schemaMap
		} else {
			def, err := d.registry.Resolve(s.Address)
			if err != nil {
				// Removed between listing and resolving.
				continue
			}
			info.InputSchema = parametersSchema(def.Parameters)
		}

		tools = append(tools, info)
	}
	return tools
}

// Builtins returns the flat identifiers of every built-in, sorted.
func (d *Dispatcher) Builtins() []string {
	ids := make([]string, 0, len(d.builtins))
	for addr := range d.builtins {
		ids = append(ids, address.Encode(addr))
	}
	sort.Strings(ids)
	return ids
}
