package gateway

import (
	"context"
	"errors"

	"github.com/harun/toolns/internal/tracing"
	"github.com/harun/toolns/pkg/dispatcher"
	"github.com/harun/toolns/pkg/toolerr"
)

// ProtocolVersion is reported by initialize.
const ProtocolVersion = "2024-11-05"

// Dispatcher is the tool surface served by the gateway.
type Dispatcher interface {
	Dispatch(ctx context.Context, identifier string, args map[string]interface{}, privileged bool) (dispatcher.Result, error)
	ListTools(privileged bool) []dispatcher.ToolInfo
}

func (s *Server) registerToolMethods() {
	methods := map[string]RequestHandler{
		"initialize": s.handleInitialize,
		"notifications/initialized": func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, nil
		},
		"ping": func(context.Context, map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{}, nil
		},
		"tools/list": s.handleToolsList,
		"tools/call": s.handleToolsCall,
	}
	for name, handler := range methods {
		_ = s.router.RegisterMethod(name, handler)
	}
}

func (s *Server) handleInitialize(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	version := ProtocolVersion
	if requested, ok := params["protocolVersion"].(string); ok && requested != "" {
		version = requested
	}

	return map[string]interface{}{
		"protocolVersion": version,
		"serverInfo": map[string]interface{}{
			"name":    s.name,
			"version": s.version,
		},
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": true},
		},
	}, nil
}

func (s *Server) handleToolsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	s.clients.ToolsListed(tracing.GetClientID(ctx))

	tools := s.dispatcher.ListTools(s.privileged)
	if tools == nil {
		tools = []dispatcher.ToolInfo{}
	}
	return map[string]interface{}{"tools": tools}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "tools/call requires a tool name"}
	}

	var args map[string]interface{}
	if raw, ok := params["arguments"]; ok && raw != nil {
		args, ok = raw.(map[string]interface{})
		if !ok {
			return nil, &RPCError{Code: InvalidParams, Message: "tools/call arguments must be an object"}
		}
	}

	res, err := s.dispatcher.Dispatch(ctx, name, args, s.privileged)
	if err != nil {
		if errors.Is(err, toolerr.ErrScriptError) {
			return CallToolResult{
				Content: []ContentItem{{Type: "text", Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return nil, toolError(err)
	}

	result := CallToolResult{Content: []ContentItem{{Type: "text", Text: res.Text}}}
	if res.Output != "" {
		result.Content = append(result.Content, ContentItem{Type: "text", Text: res.Output})
	}
	return result, nil
}

// ErrorCode maps an error kind to a JSON-RPC error code.
func ErrorCode(kind toolerr.Kind) int {
	switch kind {
	case toolerr.KindMalformedIdentifier, toolerr.KindUnknownNamespace,
		toolerr.KindUnknownBuiltin, toolerr.KindNotFound,
		toolerr.KindMissingParameter, toolerr.KindInvalidArguments:
		return InvalidParams
	case toolerr.KindPermissionDenied, toolerr.KindProtectedTool:
		return PermissionDenied
	case toolerr.KindVersionConflict:
		return ToolConflict
	case toolerr.KindEngineBusy:
		return RateLimitExceeded
	case toolerr.KindEngineUnavailable:
		return EngineUnavailable
	}
	return InternalError
}

func toolError(err error) *RPCError {
	kind := toolerr.KindOf(err)
	data := map[string]interface{}{"kind": kind}

	var terr *toolerr.Error
	if errors.As(err, &terr) {
		if terr.Param != "" {
			data["param"] = terr.Param
		}
		if len(terr.Also) > 0 {
			data["also"] = terr.Also
		}
	}

	return &RPCError{
		Code:    ErrorCode(kind),
		Message: err.Error(),
		Data:    data,
	}
}
