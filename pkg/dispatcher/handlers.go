package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/pkg/address"
	"github.com/harun/toolns/pkg/engine"
	"github.com/harun/toolns/pkg/registry"
	"github.com/harun/toolns/pkg/toolerr"
)

func (d *Dispatcher) invokeBuiltin(ctx context.Context, b *builtin, args map[string]interface{}, privileged bool) (Result, error) {
	switch b.kind {
	case builtinScriptExecute:
		return d.scriptExecute(ctx, args)
	case builtinToolList:
		return d.toolList(args, privileged)
	case builtinToolAdd:
		return d.toolAdd(ctx, args, privileged)
	case builtinToolRemove:
		return d.toolRemove(ctx, args, privileged)
	case builtinExecTool:
		return d.execTool(ctx, args, privileged)
	case builtinDiscoverTools:
		return d.discoverTools(ctx)
	case builtinRuntimeInfo:
		return d.runtimeInfo()
	case builtinEngineReset:
		return d.engineReset(ctx)
	case builtinRuntimeGuide:
		return runtimeGuide(args)
	}
	return Result{}, toolerr.New(toolerr.KindUnknownBuiltin, "no handler for %s", b.kind)
}

func (d *Dispatcher) scriptExecute(ctx context.Context, args map[string]interface{}) (Result, error) {
	res, err := d.engine.Submit(ctx, engine.Request{
		Script: stringArg(args, "script"),
		Label:  "/bin/script_execute",
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Text: res.Value, Output: res.Output}, nil
}

type listedTool struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Version     string `json:"version,omitempty"`
	Protected   bool   `json:"protected"`
}

func (d *Dispatcher) toolList(args map[string]interface{}, privileged bool) (Result, error) {
	filter := registry.Filter{
		Namespace: stringArg(args, "namespace"),
		Pattern:   stringArg(args, "filter"),
	}
	if err := registry.ValidatePattern(filter.Pattern); err != nil {
		return Result{}, err
	}

	tools := []listedTool{}
	for s := range d.registry.List(filter) {
		if s.Address.Namespace == address.NamespaceSbin && !privileged {
			continue
		}
		tools = append(tools, listedTool{
			Name:        s.FlatIdentifier,
			Path:        s.Address.String(),
			Description: s.Description,
			Version:     s.Version,
			Protected:   s.Protected,
		})
	}

	return jsonResult(tools)
}

func (d *Dispatcher) toolAdd(ctx context.Context, args map[string]interface{}, privileged bool) (Result, error) {
	version := stringArg(args, "version")
	if version == "" {
		version = DefaultToolVersion
	}

	params, err := parameterSpecs(args["parameters"])
	if err != nil {
		return Result{}, err
	}

	def := registry.Definition{
		Address: address.User(
			stringArg(args, "user"),
			stringArg(args, "package"),
			stringArg(args, "name"),
			address.Exact(version),
		),
		Description: stringArg(args, "description"),
		Script:      stringArg(args, "script"),
		Parameters:  params,
		Source:      registry.SourceAPI,
	}

	err = d.registry.Add(def, privileged)
	observability.RecordAdminAudit(ctx, "tool_add", err, map[string]interface{}{
		"tool": def.Address.String(),
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Text: fmt.Sprintf("Tool %s added as %s", def.Address, address.Encode(def.Address))}, nil
}

func (d *Dispatcher) toolRemove(ctx context.Context, args map[string]interface{}, privileged bool) (Result, error) {
	addr, err := parseToolPath(stringArg(args, "path"))
	if err != nil {
		return Result{}, err
	}

	removed, err := d.registry.Remove(addr, privileged)
	observability.RecordAdminAudit(ctx, "tool_remove", err, map[string]interface{}{
		"tool": addr.String(),
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Text: fmt.Sprintf("Tool %s removed", removed.Address)}, nil
}

func (d *Dispatcher) execTool(ctx context.Context, args map[string]interface{}, privileged bool) (Result, error) {
	addr, err := parseToolPath(stringArg(args, "tool_path"))
	if err != nil {
		return Result{}, err
	}

	params, _ := args["params"].(map[string]interface{})
	return d.dispatchAddress(ctx, addr, params, privileged)
}

func (d *Dispatcher) discoverTools(ctx context.Context) (Result, error) {
	if d.discovery == nil {
		return Result{Text: "Tool discovery is not configured"}, nil
	}

	report, err := d.discovery.Rescan(ctx)
	if err != nil {
		return Result{}, err
	}
	return jsonResult(report)
}

type runtimeReport struct {
	engine.Info
	Engine engine.Stats `json:"engine"`
	Tools  int          `json:"tools"`
}

func (d *Dispatcher) runtimeInfo() (Result, error) {
	return jsonResult(runtimeReport{
		Info:   d.engine.Info(),
		Engine: d.engine.Stats(),
		Tools:  d.registry.Len(),
	})
}

func (d *Dispatcher) engineReset(ctx context.Context) (Result, error) {
	err := d.engine.Reset(ctx)
	observability.RecordAdminAudit(ctx, "engine_reset", err, nil)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: "Interpreter state cleared"}, nil
}

// parseToolPath accepts either path form (/alice/utils/reverse:1.0) or a
// flat identifier.
func parseToolPath(s string) (address.Address, error) {
	if strings.HasPrefix(s, "/") {
		return address.ParseAddress(s)
	}
	return address.Decode(s)
}

// parameterSpecs converts the tool_add "parameters" argument. The schema
// has already checked its shape.
func parameterSpecs(raw interface{}) ([]registry.ParameterSpec, error) {
	if raw == nil {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindInvalidArguments, err, "invalid parameters")
	}
	var specs []registry.ParameterSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, toolerr.Wrap(toolerr.KindInvalidArguments, err, "invalid parameters")
	}
	return specs, nil
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func jsonResult(v interface{}) (Result, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode result: %w", err)
	}
	return Result{Text: string(data)}, nil
}
