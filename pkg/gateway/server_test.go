package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/toolns/pkg/dispatcher"
	"github.com/harun/toolns/pkg/engine"
	"github.com/harun/toolns/pkg/evaluator/lua"
	"github.com/harun/toolns/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	http *httptest.Server
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	reg, err := registry.New(registry.Config{System: dispatcher.SystemTools()})
	require.NoError(t, err)

	eval := lua.New(lua.Options{})
	eng := engine.New(eval, engine.Options{})
	eng.Start()

	d, err := dispatcher.New(dispatcher.Config{Registry: reg, Engine: eng})
	require.NoError(t, err)

	cfg.Dispatcher = d
	s, err := NewServer(cfg)
	require.NoError(t, err)

	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		eng.Close()
		eval.Close()
	})
	return &testServer{Server: s, http: hs}
}

type rpcReply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	} `json:"error"`
}

func (ts *testServer) call(t *testing.T, method string, params interface{}, headers ...string) (int, rpcReply) {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.http.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var reply rpcReply
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &reply), string(data))
	}
	return resp.StatusCode, reply
}

func callResult(t *testing.T, reply rpcReply) CallToolResult {
	t.Helper()
	require.Nil(t, reply.Error)
	var res CallToolResult
	require.NoError(t, json.Unmarshal(reply.Result, &res))
	return res
}

func TestServer_Endpoints(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.http.URL + "/rpc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.http.URL+"/rpc", "application/json", strings.NewReader(`{"id":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.http.URL+"/rpc", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestServer_InitializeAndPing(t *testing.T) {
	ts := newTestServer(t, Config{Name: "toolns", Version: "1.2.3"})

	status, reply := ts.call(t, "initialize", map[string]interface{}{})
	assert.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	assert.Equal(t, json.RawMessage("1"), reply.ID)

	var init struct {
		ProtocolVersion string            `json:"protocolVersion"`
		ServerInfo      map[string]string `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &init))
	assert.Equal(t, ProtocolVersion, init.ProtocolVersion)
	assert.Equal(t, "1.2.3", init.ServerInfo["version"])

	_, reply = ts.call(t, "ping", nil)
	assert.Nil(t, reply.Error)

	_, reply = ts.call(t, "nope", nil)
	require.NotNil(t, reply.Error)
	assert.Equal(t, MethodNotFound, reply.Error.Code)
}

func TestServer_ToolsList(t *testing.T) {
	list := func(ts *testServer) []string {
		_, reply := ts.call(t, "tools/list", nil)
		require.Nil(t, reply.Error)
		var res struct {
			Tools []struct {
				Name        string                 `json:"name"`
				InputSchema map[string]interface{} `json:"inputSchema"`
			} `json:"tools"`
		}
		require.NoError(t, json.Unmarshal(reply.Result, &res))
		names := make([]string, 0, len(res.Tools))
		for _, tool := range res.Tools {
			assert.Equal(t, "object", tool.InputSchema["type"])
			names = append(names, tool.Name)
		}
		return names
	}

	public := list(newTestServer(t, Config{}))
	assert.Contains(t, public, "bin___script_execute")
	assert.NotContains(t, public, "sbin___tool_add")

	admin := list(newTestServer(t, Config{Privileged: true}))
	assert.Contains(t, admin, "sbin___tool_add")
}

func TestServer_ToolsCall(t *testing.T) {
	ts := newTestServer(t, Config{Privileged: true})

	_, reply := ts.call(t, "tools/call", map[string]interface{}{
		"name": "sbin___tool_add",
		"arguments": map[string]interface{}{
			"user": "alice", "package": "utils", "name": "reverse",
			"description": "Reverse a string",
			"script":      "print('reversing'); return string.reverse(text)",
			"parameters":  []interface{}{map[string]interface{}{"name": "text", "required": true}},
		},
	})
	assert.False(t, callResult(t, reply).IsError)

	_, reply = ts.call(t, "tools/call", map[string]interface{}{
		"name":      "user_alice__utils___reverse__v1_0",
		"arguments": map[string]interface{}{"text": "abcd"},
	})
	res := callResult(t, reply)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 2)
	assert.Equal(t, ContentItem{Type: "text", Text: "dcba"}, res.Content[0])
	assert.Equal(t, "reversing\n", res.Content[1].Text)

	_, reply = ts.call(t, "tools/call", map[string]interface{}{
		"name":      "bin___script_execute",
		"arguments": map[string]interface{}{"script": "error('boom')"},
	})
	res = callResult(t, reply)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "boom")
}

func TestServer_ToolsCallErrors(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		name   string
		params map[string]interface{}
		code   int
		kind   string
	}{
		{"no name", map[string]interface{}{}, InvalidParams, ""},
		{"bad arguments", map[string]interface{}{"name": "bin___tool_list", "arguments": "x"}, InvalidParams, ""},
		{"unknown builtin", map[string]interface{}{"name": "bin___nope"}, InvalidParams, "UnknownBuiltin"},
		{"malformed", map[string]interface{}{"name": "nope"}, InvalidParams, "MalformedIdentifier"},
		{"sbin", map[string]interface{}{"name": "sbin___engine_reset"}, PermissionDenied, "PermissionDenied"},
		{"missing parameter", map[string]interface{}{"name": "bin___script_execute"}, InvalidParams, "MissingParameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reply := ts.call(t, "tools/call", tt.params)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.code, reply.Error.Code)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, reply.Error.Data["kind"])
			}
		})
	}

	_, reply := ts.call(t, "tools/call", map[string]interface{}{"name": "bin___script_execute"})
	assert.Equal(t, "script", reply.Error.Data["param"])

	_, reply = ts.call(t, "tools/call", map[string]interface{}{
		"name":      "sbin___tool_remove",
		"arguments": map[string]interface{}{"path": "/bin/script_execute"},
	})
	require.NotNil(t, reply.Error)
	assert.Equal(t, PermissionDenied, reply.Error.Code)
	assert.Equal(t, "ProtectedTool", reply.Error.Data["kind"])
	assert.Equal(t, []interface{}{"PermissionDenied"}, reply.Error.Data["also"])
}

func TestServer_APIKey(t *testing.T) {
	ts := newTestServer(t, Config{APIKey: "k3y"})

	status, reply := ts.call(t, "ping", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, reply.Error)
	assert.Equal(t, AuthenticationRequired, reply.Error.Code)

	status, reply = ts.call(t, "ping", nil, "Authorization", "Bearer k3y")
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, reply.Error)

	status, _ = ts.call(t, "ping", nil, APIKeyHeader, "k3y")
	assert.Equal(t, http.StatusOK, status)

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{APIKeyHeader: []string{"k3y"}})
	require.NoError(t, err)
	conn.Close()
}

func TestServer_WebSocket(t *testing.T) {
	ts := newTestServer(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "a1",
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      "bin___script_execute",
			"arguments": map[string]interface{}{"script": "return 6 * 7"},
		},
	}))

	var reply rpcReply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, json.RawMessage(`"a1"`), reply.ID)
	assert.Equal(t, "42", callResult(t, reply).Content[0].Text)

	require.Eventually(t, func() bool { return len(ts.GetConnectedClients()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ts.NotifyToolsChanged()

	var note RPCNotification
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&note))
	assert.Equal(t, MethodToolsListChanged, note.Method)
	assert.True(t, ts.GetConnectedClients()[0].ToolsStale)

	// Already notified: nothing is sent until the client lists tools, so
	// the next frame is the tools/list reply.
	ts.NotifyToolsChanged()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": "l1", "method": "tools/list"}))
	reply = rpcReply{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, json.RawMessage(`"l1"`), reply.ID)
	assert.False(t, ts.GetConnectedClients()[0].ToolsStale)

	ts.NotifyToolsChanged()
	note = RPCNotification{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&note))
	assert.Equal(t, MethodToolsListChanged, note.Method)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	reply = rpcReply{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, ParseError, reply.Error.Code)
}

func TestServer_Batch(t *testing.T) {
	ts := newTestServer(t, Config{})

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"bin___script_execute","arguments":{"script":"return 'b'"}}},
		{"jsonrpc":"2.0","id":3},
		{"jsonrpc":"2.0","id":4,"method":"nope"}
	]`
	resp, err := http.Post(ts.http.URL+"/rpc", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var replies []rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&replies))
	require.Len(t, replies, 4)

	assert.Equal(t, json.RawMessage("1"), replies[0].ID)
	assert.Nil(t, replies[0].Error)
	assert.Equal(t, "b", callResult(t, replies[1]).Content[0].Text)
	assert.Equal(t, InvalidRequest, replies[2].Error.Code)
	assert.Equal(t, MethodNotFound, replies[3].Error.Code)

	for _, bad := range []string{`[]`, `[1,`} {
		resp, err := http.Post(ts.http.URL+"/rpc", "application/json", strings.NewReader(bad))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

func TestServer_StartStop(t *testing.T) {
	reg, err := registry.New(registry.Config{System: dispatcher.SystemTools()})
	require.NoError(t, err)
	eng := engine.New(lua.New(lua.Options{}), engine.Options{})
	d, err := dispatcher.New(dispatcher.Config{Registry: reg, Engine: eng})
	require.NoError(t, err)

	s, err := NewServer(Config{Host: "127.0.0.1", Port: 0, Dispatcher: d})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))

	_, err = NewServer(Config{Port: -1, Dispatcher: d})
	assert.Error(t, err)
	_, err = NewServer(Config{})
	assert.Error(t, err)
}
