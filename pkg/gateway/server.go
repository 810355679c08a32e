package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds a single HTTP request body.
const maxBodyBytes = 4 << 20

// Transport labels for request metrics.
const (
	transportHTTP      = "http"
	transportWebSocket = "ws"
)

// Server exposes the dispatcher over JSON-RPC on HTTP and WebSocket.
type Server struct {
	addr        string
	name        string
	version     string
	privileged  bool
	rateLimit   int
	concurrency int

	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	router      *RPCRouter
	authHandler *AuthHandler
	broadcaster *EventBroadcaster
	dispatcher  Dispatcher
	logger      zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host string
	// Port 0 picks a free port; see Addr.
	Port int
	// APIKey enables authentication when set.
	APIKey string
	// Privileged is the tier of every caller of this gateway.
	Privileged bool
	Dispatcher Dispatcher
	// Name and Version are reported by initialize.
	Name    string
	Version string
	// Per WebSocket client limits; zero selects the defaults, negative
	// disables the limit.
	RequestsPerMinute int
	MaxConcurrent     int
	Logger            zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Name == "" {
		cfg.Name = "toolns"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	s := &Server{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		name:        cfg.Name,
		version:     cfg.Version,
		privileged:  cfg.Privileged,
		rateLimit:   cfg.RequestsPerMinute,
		concurrency: cfg.MaxConcurrent,
		clients:     clients,
		router:      NewRPCRouter(),
		authHandler: NewAuthHandler(cfg.APIKey),
		broadcaster: NewEventBroadcaster(clients, logger),
		dispatcher:  cfg.Dispatcher,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.registerToolMethods()
	observability.EnsureRegistered()

	return s, nil
}

// Handler returns the HTTP handler serving /rpc, /ws, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("privileged", s.privileged).
		Bool("auth", s.authHandler.Enabled()).
		Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server, waiting for in-flight WebSocket
// requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.All() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// requestContext builds the trace context of one request.
func requestContext(r *http.Request) context.Context {
	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	return tracing.WithTraceID(context.Background(), traceID)
}

// handleRPC serves one HTTP JSON-RPC request or batch.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.authHandler.Authenticate(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse(nil, &RPCError{
			Code:    AuthenticationRequired,
			Message: "Authentication required",
		}))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	msgs, batch, rpcErr := s.router.Decode(body)
	if rpcErr != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, rpcErr))
		return
	}

	ctx := requestContext(r)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Int("requests", len(msgs)).Bool("batch", batch).Msg("Gateway received HTTP RPC request")

	responses := s.router.Serve(ctx, transportHTTP, msgs)
	switch {
	case len(responses) == 0:
		w.WriteHeader(http.StatusAccepted)
	case batch:
		writeJSON(w, http.StatusOK, responses)
	case msgs[0].err != nil:
		writeJSON(w, http.StatusBadRequest, responses[0])
	default:
		writeJSON(w, http.StatusOK, responses[0])
	}
}

// handleWebSocket upgrades the connection and serves JSON-RPC messages on it
// until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.authHandler.Authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(s.rateLimit, s.concurrency),
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.Touch(client.ID)
		s.handleMessage(client, data)
	}
}

// handleMessage routes one WebSocket message, which may be a batch.
// Messages run concurrently; the engine queue orders their execution.
func (s *Server) handleMessage(client *Client, data []byte) {
	msgs, batch, rpcErr := s.router.Decode(data)
	if rpcErr != nil {
		s.send(client, errorResponse(nil, rpcErr))
		return
	}

	if rpcErr := client.RateLimiter.Acquire(); rpcErr != nil {
		var limited []*RPCResponse
		for _, m := range msgs {
			if m.req != nil && !m.req.IsNotification() {
				limited = append(limited, errorResponse(m.req.ID, rpcErr))
			}
		}
		s.reply(client, batch, limited)
		return
	}
	s.inFlightReqs.Add(1)

	ctx := tracing.WithTraceID(context.Background(), tracing.NewTraceID())
	ctx = tracing.WithClientID(ctx, client.ID)

	go func() {
		defer client.RateLimiter.Release()
		defer s.inFlightReqs.Done()

		s.reply(client, batch, s.router.Serve(ctx, transportWebSocket, msgs))
	}()
}

func (s *Server) reply(client *Client, batch bool, responses []*RPCResponse) {
	switch {
	case len(responses) == 0:
	case batch:
		s.send(client, responses)
	default:
		s.send(client, responses[0])
	}
}

func (s *Server) send(client *Client, v interface{}) {
	if err := client.WriteJSON(v); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send response")
	}
}

// NotifyToolsChanged tells WebSocket clients to refresh their tool list.
// Clients that have not listed tools since their last notification are
// skipped.
func (s *Server) NotifyToolsChanged() {
	s.broadcaster.ToolsChanged()
}

// GetConnectedClients describes the connected WebSocket clients.
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.Snapshot()
}

func requestID(id json.RawMessage) string {
	return strings.Trim(string(id), `"`)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
