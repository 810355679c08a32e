package dispatcher

import (
	"fmt"

	"github.com/harun/toolns/pkg/address"
	"github.com/harun/toolns/pkg/registry"
	"github.com/xeipuuv/gojsonschema"
)

// builtinKind tags each system tool with the handler that implements it.
type builtinKind int

const (
	builtinScriptExecute builtinKind = iota
	builtinToolList
	builtinToolAdd
	builtinToolRemove
	builtinExecTool
	builtinDiscoverTools
	builtinRuntimeInfo
	builtinEngineReset
	builtinRuntimeGuide
)

func (k builtinKind) String() string {
	switch k {
	case builtinScriptExecute:
		return "script_execute"
	case builtinToolList:
		return "tool_list"
	case builtinToolAdd:
		return "tool_add"
	case builtinToolRemove:
		return "tool_remove"
	case builtinExecTool:
		return "exec_tool"
	case builtinDiscoverTools:
		return "discover_tools"
	case builtinRuntimeInfo:
		return "runtime_info"
	case builtinEngineReset:
		return "engine_reset"
	case builtinRuntimeGuide:
		return "runtime_guide"
	}
	return fmt.Sprintf("builtin(%d)", int(k))
}

// builtin is one system tool: its address, parameters and argument schema.
type builtin struct {
	kind        builtinKind
	addr        address.Address
	description string
	params      []registry.ParameterSpec
	// extra holds schema keywords per property beyond "type".
	extra map[string]map[string]interface{}

	schemaMap map[string]interface{}
	schema    *gojsonschema.Schema
}

// DefaultToolVersion is used by tool_add when no version is given.
const DefaultToolVersion = "1.0"

var parameterItemSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"name":        map[string]interface{}{"type": "string"},
		"description": map[string]interface{}{"type": "string"},
		"required":    map[string]interface{}{"type": "boolean"},
		"type":        map[string]interface{}{"type": "string"},
	},
	"required": []string{"name"},
}

func builtinTable() []*builtin {
	return []*builtin{
		{
			kind:        builtinScriptExecute,
			addr:        address.Bin("script_execute"),
			description: "Execute a Lua script in the shared interpreter and return its result",
			params: []registry.ParameterSpec{
				{Name: "script", Type: registry.TypeString, Required: true, Description: "Lua source to evaluate"},
			},
		},
		{
			kind:        builtinToolList,
			addr:        address.Bin("tool_list"),
			description: "List registered tools, optionally filtered by namespace and name pattern",
			params: []registry.ParameterSpec{
				{Name: "namespace", Type: registry.TypeString, Description: "bin, sbin, docs or a user name"},
				{Name: "filter", Type: registry.TypeString, Description: "Glob pattern over tool names, e.g. rev*"},
			},
		},
		{
			kind:        builtinToolAdd,
			addr:        address.Sbin("tool_add"),
			description: "Register a new user tool version (privileged)",
			params: []registry.ParameterSpec{
				{Name: "user", Type: registry.TypeString, Required: true, Description: "Owning user"},
				{Name: "package", Type: registry.TypeString, Required: true, Description: "Package name"},
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Tool name"},
				{Name: "version", Type: registry.TypeString, Description: "Version, default " + DefaultToolVersion},
				{Name: "description", Type: registry.TypeString, Required: true, Description: "What the tool does"},
				{Name: "script", Type: registry.TypeString, Required: true, Description: "Lua body of the tool"},
				{Name: "parameters", Type: registry.TypeArray, Description: "Parameter specs: name, description, required, type"},
			},
			extra: map[string]map[string]interface{}{
				"parameters": {"items": parameterItemSchema},
			},
		},
		{
			kind:        builtinToolRemove,
			addr:        address.Sbin("tool_remove"),
			description: "Remove a user tool version; without a version the latest is removed (privileged)",
			params: []registry.ParameterSpec{
				{Name: "path", Type: registry.TypeString, Required: true, Description: "Tool path such as /alice/utils/reverse:1.0"},
			},
		},
		{
			kind:        builtinExecTool,
			addr:        address.Bin("exec_tool"),
			description: "Invoke any tool by path with a parameter object",
			params: []registry.ParameterSpec{
				{Name: "tool_path", Type: registry.TypeString, Required: true, Description: "Tool path or flat identifier"},
				{Name: "params", Type: registry.TypeObject, Description: "Arguments passed to the tool"},
			},
		},
		{
			kind:        builtinDiscoverTools,
			addr:        address.Bin("discover_tools"),
			description: "Rescan the tools directory and register discovered tools",
		},
		{
			kind:        builtinRuntimeInfo,
			addr:        address.Bin("runtime_info"),
			description: "Report the interpreter runtime, its capabilities and engine statistics",
		},
		{
			kind:        builtinEngineReset,
			addr:        address.Sbin("engine_reset"),
			description: "Clear all interpreter procedures and globals (privileged)",
		},
		{
			kind:        builtinRuntimeGuide,
			addr:        address.Docs("runtime_guide"),
			description: "Documentation for the tool runtime",
			params: []registry.ParameterSpec{
				{Name: "topic", Type: registry.TypeString, Description: "Guide topic, default overview"},
			},
		},
	}
}

// buildSchema compiles the argument schema of a built-in.
func (b *builtin) buildSchema() error {
	b.schemaMap = parametersSchema(b.params)
	props := b.schemaMap["properties"].(map[string]interface{})
	for name, kw := range b.extra {
		prop, ok := props[name].(map[string]interface{})
		if !ok {
			return fmt.Errorf("built-in %s: schema extra for unknown parameter %q", b.addr, name)
		}
		for k, v := range kw {
			prop[k] = v
		}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(b.schemaMap))
	if err != nil {
		return fmt.Errorf("built-in %s: %w", b.addr, err)
	}
	b.schema = schema
	return nil
}

func (b *builtin) definition() registry.Definition {
	return registry.Definition{
		Address:     b.addr,
		Description: b.description,
		Parameters:  b.params,
		Protected:   true,
		Source:      registry.SourceBuiltin,
	}
}

// SystemTools returns the definitions of every built-in, for seeding a
// registry.
func SystemTools() []registry.Definition {
	table := builtinTable()
	defs := make([]registry.Definition, 0, len(table))
	for _, b := range table {
		defs = append(defs, b.definition())
	}
	return defs
}

// parametersSchema builds a JSON schema object for a parameter list.
// Arguments not named in the list are accepted and ignored.
func parametersSchema(params []registry.ParameterSpec) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = registry.TypeString
		}
		prop := map[string]interface{}{"type": typ}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
