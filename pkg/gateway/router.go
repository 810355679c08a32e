package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/internal/tracing"
)

// maxBatch bounds the number of requests in one JSON-RPC batch.
const maxBatch = 64

// message is one decoded element of a request body. A message with err set
// failed validation and is answered without being routed.
type message struct {
	req *RPCRequest
	err *RPCError
}

// RPCRouter maps method names to handlers and serves single or batched
// JSON-RPC 2.0 requests.
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]RequestHandler
}

// NewRPCRouter creates an empty router.
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{methods: make(map[string]RequestHandler)}
}

// RegisterMethod adds a handler. Names are unique.
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if name == "" {
		return errors.New("method name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("method %s is already registered", name)
	}
	r.methods[name] = handler
	return nil
}

// Methods returns the registered method names, sorted.
func (r *RPCRouter) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode splits a request body into messages. batch reports whether the
// body was a JSON array. A non-nil error means the body as a whole is
// unusable and gets a single error response with a null id.
func (r *RPCRouter) Decode(data []byte) (msgs []message, batch bool, err *RPCError) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false, &RPCError{Code: InvalidRequest, Message: "Invalid request: empty body"}
	}

	if data[0] != '[' {
		return []message{decodeOne(data)}, false, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, true, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	switch {
	case len(elems) == 0:
		return nil, true, &RPCError{Code: InvalidRequest, Message: "Invalid request: empty batch"}
	case len(elems) > maxBatch:
		return nil, true, &RPCError{
			Code:    InvalidRequest,
			Message: fmt.Sprintf("Invalid request: batch of %d exceeds %d", len(elems), maxBatch),
		}
	}

	msgs = make([]message, 0, len(elems))
	for _, elem := range elems {
		msgs = append(msgs, decodeOne(elem))
	}
	return msgs, true, nil
}

func decodeOne(data []byte) message {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return message{err: &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}}
	}

	switch {
	case req.JSONRPC != "" && req.JSONRPC != JSONRPCVersion:
		return message{req: &req, err: &RPCError{
			Code:    InvalidRequest,
			Message: fmt.Sprintf("Invalid request: unsupported jsonrpc version %q", req.JSONRPC),
		}}
	case req.Method == "":
		return message{req: &req, err: &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}}
	}

	req.JSONRPC = JSONRPCVersion
	return message{req: &req}
}

// Serve routes every message in order and returns the responses that must
// be written. Notifications produce none, so the result may be empty.
func (r *RPCRouter) Serve(ctx context.Context, transport string, msgs []message) []*RPCResponse {
	responses := make([]*RPCResponse, 0, len(msgs))
	for _, m := range msgs {
		if m.err != nil {
			var id json.RawMessage
			if m.req != nil {
				id = m.req.ID
			}
			responses = append(responses, errorResponse(id, m.err))
			continue
		}

		reqCtx := tracing.WithRequestID(ctx, requestID(m.req.ID))
		if resp := r.Route(reqCtx, transport, m.req); resp != nil {
			responses = append(responses, resp)
		}
	}
	return responses
}

// Route runs one request. Notifications run but return nil.
func (r *RPCRouter) Route(ctx context.Context, transport string, req *RPCRequest) *RPCResponse {
	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		observability.RecordRPC(transport, "unknown", "method_not_found")
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, &RPCError{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		})
	}

	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := handler(ctx, params)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		observability.RecordRPC(transport, req.Method, "error")
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, rpcErr)
	}

	observability.RecordRPC(transport, req.Method, "ok")
	if req.IsNotification() {
		return nil
	}
	return &RPCResponse{ID: req.ID, JSONRPC: JSONRPCVersion, Result: result}
}

func errorResponse(id json.RawMessage, err *RPCError) *RPCResponse {
	return &RPCResponse{ID: id, JSONRPC: JSONRPCVersion, Error: err}
}
