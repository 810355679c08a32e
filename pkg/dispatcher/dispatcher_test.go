package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/harun/toolns/pkg/discovery"
	"github.com/harun/toolns/pkg/engine"
	"github.com/harun/toolns/pkg/evaluator/lua"
	"github.com/harun/toolns/pkg/registry"
	"github.com/harun/toolns/pkg/toolerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRescanner struct {
	mock.Mock
}

func (m *mockRescanner) Rescan(ctx context.Context) (discovery.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(discovery.Report), args.Error(1)
}

func newTestDispatcher(t *testing.T, rescanner Rescanner) (*Dispatcher, *registry.Registry) {
	t.Helper()

	reg, err := registry.New(registry.Config{System: SystemTools()})
	require.NoError(t, err)

	eval := lua.New(lua.Options{})
	eng := engine.New(eval, engine.Options{QueueSize: 16})
	eng.Start()
	t.Cleanup(func() {
		eng.Close()
		eval.Close()
	})

	cfg := Config{Registry: reg, Engine: eng}
	if rescanner != nil {
		cfg.Discovery = rescanner
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d, reg
}

func addReverse(t *testing.T, d *Dispatcher, version, script string) {
	t.Helper()
	_, err := d.Dispatch(context.Background(), "sbin___tool_add", map[string]interface{}{
		"user":        "alice",
		"package":     "utils",
		"name":        "reverse",
		"version":     version,
		"description": "Reverse a string",
		"script":      script,
		"parameters": []interface{}{
			map[string]interface{}{"name": "text", "type": "string", "required": true},
		},
	}, true)
	require.NoError(t, err)
}

func TestNew_RequiresSeededRegistry(t *testing.T) {
	reg, err := registry.New(registry.Config{})
	require.NoError(t, err)

	eng := engine.New(lua.New(lua.Options{}), engine.Options{})
	_, err = New(Config{Registry: reg, Engine: eng})
	assert.Error(t, err)

	_, err = New(Config{Engine: eng})
	assert.Error(t, err)
}

func TestDispatch_ReverseScenario(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	addReverse(t, d, "1.0", "return string.reverse(text)")

	res, err := d.Dispatch(ctx, "user_alice__utils___reverse__v1_0", map[string]interface{}{"text": "abcd"}, false)
	require.NoError(t, err)
	assert.Equal(t, "dcba", res.Text)

	res, err = d.Dispatch(ctx, "user_alice__utils___reverse", map[string]interface{}{"text": "abcd"}, false)
	require.NoError(t, err)
	assert.Equal(t, "dcba", res.Text)

	_, err = d.Dispatch(ctx, "sbin___tool_remove", map[string]interface{}{"path": "/bin/tcl_execute"}, true)
	assert.True(t, errors.Is(err, toolerr.ErrProtectedTool))
	assert.False(t, errors.Is(err, toolerr.ErrPermissionDenied))

	// Unprivileged callers learn both that the tool is protected and that
	// they lack privilege.
	_, err = d.Dispatch(ctx, "sbin___tool_remove", map[string]interface{}{"path": "/bin/script_execute"}, false)
	assert.True(t, errors.Is(err, toolerr.ErrProtectedTool))
	assert.True(t, errors.Is(err, toolerr.ErrPermissionDenied))

	_, err = d.Dispatch(ctx, "sbin___tool_remove", map[string]interface{}{"path": "sbin___engine_reset"}, false)
	assert.True(t, errors.Is(err, toolerr.ErrProtectedTool))

	_, err = d.Dispatch(ctx, "sbin___tool_add", map[string]interface{}{
		"user": "bin", "package": "utils", "name": "script_execute",
		"description": "x", "script": "return 1",
	}, false)
	assert.True(t, errors.Is(err, toolerr.ErrProtectedTool))
	assert.True(t, errors.Is(err, toolerr.ErrPermissionDenied))

	// A user target still gets the plain privilege error.
	_, err = d.Dispatch(ctx, "sbin___tool_remove", map[string]interface{}{"path": "/alice/utils/reverse:1.0"}, false)
	assert.True(t, errors.Is(err, toolerr.ErrPermissionDenied))
	assert.False(t, errors.Is(err, toolerr.ErrProtectedTool))

	_, err = d.Dispatch(ctx, "sbin___tool_add", map[string]interface{}{
		"user": "alice", "package": "utils", "name": "x",
		"description": "x", "script": "return 1",
	}, false)
	assert.True(t, errors.Is(err, toolerr.ErrPermissionDenied))
}

func TestDispatch_LatestPicksHighestVersion(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	addReverse(t, d, "1.9", "return 'v1.9'")
	addReverse(t, d, "2.0", "return 'v2.0'")
	addReverse(t, d, "1.10", "return 'v1.10'")

	res, err := d.Dispatch(context.Background(), "user_alice__utils___reverse", map[string]interface{}{"text": "x"}, false)
	require.NoError(t, err)
	assert.Equal(t, "v2.0", res.Text)
}

func TestDispatch_Errors(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
		args       map[string]interface{}
		privileged bool
		want       error
	}{
		{"malformed", "nope", nil, false, toolerr.ErrMalformedIdentifier},
		{"unknown namespace", "usr___reverse", nil, false, toolerr.ErrUnknownNamespace},
		{"unknown builtin", "bin___nope", nil, false, toolerr.ErrUnknownBuiltin},
		{"unknown sbin builtin", "sbin___nope", nil, true, toolerr.ErrUnknownBuiltin},
		{"sbin unprivileged", "sbin___engine_reset", nil, false, toolerr.ErrPermissionDenied},
		{"missing script", "bin___script_execute", nil, false, toolerr.ErrMissingParameter},
		{"wrong type", "bin___script_execute", map[string]interface{}{"script": 42}, false, toolerr.ErrInvalidArguments},
		{"bad pattern", "bin___tool_list", map[string]interface{}{"filter": "["}, false, toolerr.ErrInvalidArguments},
		{"unknown user tool", "user_bob__x___y", nil, false, toolerr.ErrNotFound},
		{"script error", "bin___script_execute", map[string]interface{}{"script": "error('boom')"}, false, toolerr.ErrScriptError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(ctx, tt.identifier, tt.args, tt.privileged)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDispatch_BuiltinIgnoresUnknownArguments(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	res, err := d.Dispatch(context.Background(), "bin___script_execute", map[string]interface{}{
		"script": "return 'ok'",
		"bogus":  true,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)

	// Known arguments are still type checked.
	_, err = d.Dispatch(context.Background(), "bin___tool_list", map[string]interface{}{
		"bogus":  1,
		"filter": 7,
	}, false)
	assert.True(t, errors.Is(err, toolerr.ErrInvalidArguments))
}

func TestToolAdd_ReservedParameterName(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	_, err := d.Dispatch(context.Background(), "sbin___tool_add", map[string]interface{}{
		"user": "alice", "package": "utils", "name": "echo",
		"description": "echo", "script": "return params",
		"parameters": []interface{}{
			map[string]interface{}{"name": "params", "required": true},
		},
	}, true)
	assert.True(t, errors.Is(err, toolerr.ErrInvalidArguments))

	_, err = d.Dispatch(context.Background(), "user_alice__utils___echo__v1_0",
		map[string]interface{}{"params": "hello"}, false)
	assert.True(t, errors.Is(err, toolerr.ErrNotFound))
}

func TestDispatch_MissingParameterLeavesStateAlone(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "bin___script_execute", map[string]interface{}{"script": "counter = 1"}, false)
	require.NoError(t, err)

	addReverse(t, d, "1.0", "counter = counter + 1; return string.reverse(text)")

	_, err = d.Dispatch(ctx, "user_alice__utils___reverse", map[string]interface{}{"other": "x"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, toolerr.ErrMissingParameter))

	var terr *toolerr.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "text", terr.Param)

	res, err := d.Dispatch(ctx, "bin___script_execute", map[string]interface{}{"script": "return counter"}, false)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Text)
}

func TestDispatch_ParamsTable(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "sbin___tool_add", map[string]interface{}{
		"user": "alice", "package": "utils", "name": "greet",
		"description": "Greets",
		"script":      "return (greeting or 'hello') .. ' ' .. params.who",
		"parameters": []interface{}{
			map[string]interface{}{"name": "greeting"},
		},
	}, true)
	require.NoError(t, err)

	res, err := d.Dispatch(ctx, "user_alice__utils___greet__v1_0", map[string]interface{}{"greeting": "hi", "who": "bob"}, false)
	require.NoError(t, err)
	assert.Equal(t, "hi bob", res.Text)

	// Optional parameters from an earlier call do not leak into the next.
	res, err = d.Dispatch(ctx, "user_alice__utils___greet__v1_0", map[string]interface{}{"who": "eve"}, false)
	require.NoError(t, err)
	assert.Equal(t, "hello eve", res.Text)
}

func TestDispatch_PrintOutput(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	res, err := d.Dispatch(context.Background(), "bin___script_execute", map[string]interface{}{
		"script": "print('side'); return 'main'",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "main", res.Text)
	assert.Equal(t, "side\n", res.Output)
}

func TestExecTool(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()
	addReverse(t, d, "1.0", "return string.reverse(text)")

	res, err := d.Dispatch(ctx, "bin___exec_tool", map[string]interface{}{
		"tool_path": "/alice/utils/reverse:1.0",
		"params":    map[string]interface{}{"text": "xy"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "yx", res.Text)

	res, err = d.Dispatch(ctx, "bin___exec_tool", map[string]interface{}{
		"tool_path": "user_alice__utils___reverse",
		"params":    map[string]interface{}{"text": "ab"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "ba", res.Text)

	_, err = d.Dispatch(ctx, "bin___exec_tool", map[string]interface{}{
		"tool_path": "/sbin/engine_reset",
	}, false)
	assert.True(t, errors.Is(err, toolerr.ErrPermissionDenied))

	_, err = d.Dispatch(ctx, "bin___exec_tool", map[string]interface{}{
		"tool_path": "/alice/utils/reverse",
	}, false)
	assert.True(t, errors.Is(err, toolerr.ErrMissingParameter))
}

func TestToolAddAndRemove(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, "sbin___tool_add", map[string]interface{}{
		"user": "alice", "package": "utils", "name": "upper",
		"description": "Upper-case", "script": "return string.upper(text)",
	}, true)
	require.NoError(t, err)
	assert.Contains(t, res.Text, "user_alice__utils___upper__v1_0")

	_, err = d.Dispatch(ctx, "sbin___tool_add", map[string]interface{}{
		"user": "alice", "package": "utils", "name": "upper", "version": "1",
		"description": "Upper-case", "script": "return 1",
	}, true)
	assert.True(t, errors.Is(err, toolerr.ErrVersionConflict))

	_, err = d.Dispatch(ctx, "sbin___tool_add", map[string]interface{}{
		"user": "alice", "package": "utils", "name": "bad",
		"description": "x", "script": "return 1",
		"parameters": []interface{}{map[string]interface{}{"description": "no name"}},
	}, true)
	assert.True(t, errors.Is(err, toolerr.ErrInvalidArguments))

	before := reg.Len()
	_, err = d.Dispatch(ctx, "sbin___tool_remove", map[string]interface{}{"path": "/alice/utils/upper"}, true)
	require.NoError(t, err)
	assert.Equal(t, before-1, reg.Len())

	_, err = d.Dispatch(ctx, "sbin___tool_remove", map[string]interface{}{"path": "/alice/utils/upper"}, true)
	assert.True(t, errors.Is(err, toolerr.ErrNotFound))

	_, err = d.Dispatch(ctx, "sbin___tool_remove", map[string]interface{}{"path": "bin___tool_list"}, true)
	assert.True(t, errors.Is(err, toolerr.ErrProtectedTool))
}

func TestToolList(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()
	addReverse(t, d, "1.0", "return string.reverse(text)")

	decode := func(res Result) []listedTool {
		var tools []listedTool
		require.NoError(t, json.Unmarshal([]byte(res.Text), &tools))
		return tools
	}

	res, err := d.Dispatch(ctx, "bin___tool_list", nil, false)
	require.NoError(t, err)
	for _, tool := range decode(res) {
		assert.NotContains(t, tool.Path, "/sbin/")
	}

	res, err = d.Dispatch(ctx, "bin___tool_list", map[string]interface{}{"namespace": "sbin"}, true)
	require.NoError(t, err)
	assert.Len(t, decode(res), 3)

	res, err = d.Dispatch(ctx, "bin___tool_list", map[string]interface{}{"namespace": "alice", "filter": "rev*"}, false)
	require.NoError(t, err)
	tools := decode(res)
	require.Len(t, tools, 1)
	assert.Equal(t, "/alice/utils/reverse:1.0", tools[0].Path)
	assert.Equal(t, "1.0", tools[0].Version)
	assert.False(t, tools[0].Protected)
}

func TestRuntimeInfo(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	res, err := d.Dispatch(context.Background(), "bin___runtime_info", nil, false)
	require.NoError(t, err)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.Text), &report))
	assert.Equal(t, lua.Name, report["runtime"])
	assert.Contains(t, report["capabilities"], engine.CapSafeSubset)
	assert.Equal(t, float64(len(SystemTools())), report["tools"])
	assert.Contains(t, report, "engine")
}

func TestEngineReset(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "bin___script_execute", map[string]interface{}{"script": "answer = 42"}, false)
	require.NoError(t, err)

	_, err = d.Dispatch(ctx, "sbin___engine_reset", nil, true)
	require.NoError(t, err)

	res, err := d.Dispatch(ctx, "bin___script_execute", map[string]interface{}{"script": "return answer"}, false)
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
}

func TestDiscoverTools(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	res, err := d.Dispatch(context.Background(), "bin___discover_tools", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "Tool discovery is not configured", res.Text)

	scanner := new(mockRescanner)
	scanner.On("Rescan", mock.Anything).
		Return(discovery.Report{Scanned: 1, Added: []string{"/bob/x/y:1.0"}}, nil).Once()
	d, _ = newTestDispatcher(t, scanner)
	res, err = d.Dispatch(context.Background(), "bin___discover_tools", nil, false)
	require.NoError(t, err)
	assert.Contains(t, res.Text, "/bob/x/y:1.0")

	scanner.On("Rescan", mock.Anything).
		Return(discovery.Report{}, errors.New("scan failed")).Once()
	_, err = d.Dispatch(context.Background(), "bin___discover_tools", nil, false)
	assert.Error(t, err)
	scanner.AssertExpectations(t)
}

func TestRuntimeGuide(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, "docs___runtime_guide", nil, false)
	require.NoError(t, err)
	assert.Contains(t, res.Text, "overview")

	res, err = d.Dispatch(ctx, "docs___runtime_guide", map[string]interface{}{"topic": "Versions"}, false)
	require.NoError(t, err)
	assert.Contains(t, res.Text, "2.0 > 1.10 > 1.9")

	for _, topic := range []string{"nope", "../guide/lua", "lua.md"} {
		_, err = d.Dispatch(ctx, "docs___runtime_guide", map[string]interface{}{"topic": topic}, false)
		assert.True(t, errors.Is(err, toolerr.ErrNotFound), topic)
	}

	assert.Equal(t, []string{"identifiers", "lua", "overview", "tools", "versions"}, GuideTopics())
}

func TestListTools(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	addReverse(t, d, "1.0", "return string.reverse(text)")

	byName := func(tools []ToolInfo) map[string]ToolInfo {
		m := make(map[string]ToolInfo, len(tools))
		for _, tool := range tools {
			m[tool.FlatIdentifier] = tool
		}
		return m
	}

	public := byName(d.ListTools(false))
	assert.NotContains(t, public, "sbin___tool_add")
	assert.Contains(t, public, "bin___script_execute")

	reverse, ok := public["user_alice__utils___reverse__v1_0"]
	require.True(t, ok)
	assert.Equal(t, "/alice/utils/reverse:1.0", reverse.Address)
	assert.Equal(t, []string{"text"}, reverse.InputSchema["required"])
	assert.Equal(t, true, reverse.InputSchema["additionalProperties"])

	admin := byName(d.ListTools(true))
	require.Contains(t, admin, "sbin___tool_add")
	assert.True(t, admin["sbin___tool_add"].Protected)
	assert.Equal(t, true, admin["sbin___tool_add"].InputSchema["additionalProperties"])

	assert.Len(t, d.Builtins(), len(SystemTools()))
}
