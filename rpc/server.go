package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/NomicFoundation/edr-sub001/log"
)

// ErrServerStarted is returned when Start is called twice.
var ErrServerStarted = errors.New("rpc: server already started")

// ServerConfig bounds the HTTP surface.
type ServerConfig struct {
	MaxRequestSize   int64
	MaxBatchSize     int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

// DefaultServerConfig returns the development-node defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxRequestSize:   5 * 1024 * 1024,
		MaxBatchSize:     100,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		CORSAllowOrigins: []string{"*"},
	}
}

// Server is the JSON-RPC HTTP front end of a provider.
type Server struct {
	config  ServerConfig
	handler Handler
	logger  *log.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer wraps a method handler in an HTTP server.
func NewServer(handler Handler, config ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	return &Server{
		config:  config,
		handler: handler,
		logger:  logger.Module("rpc"),
	}
}

// Start listens on addr and serves until Stop. It blocks.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return ErrServerStarted
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listener address, or nil before Start. Useful when
// listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleHTTP)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		writeJSON(w, errorResponse(nil, ErrCodeParse, "failed to read request body"))
		return
	}

	if isBatch(body) {
		s.handleBatch(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, errorResponse(nil, ErrCodeParse, "invalid JSON"))
		return
	}
	writeJSON(w, s.dispatch(r.Context(), &req))
}

func (s *Server) handleBatch(ctx context.Context, w http.ResponseWriter, body []byte) {
	var reqs []Request
	if err := json.Unmarshal(body, &reqs); err != nil {
		writeJSON(w, errorResponse(nil, ErrCodeParse, "invalid JSON batch"))
		return
	}
	if len(reqs) == 0 {
		writeJSON(w, errorResponse(nil, ErrCodeInvalidRequest, "empty batch"))
		return
	}
	if s.config.MaxBatchSize > 0 && len(reqs) > s.config.MaxBatchSize {
		writeJSON(w, errorResponse(nil, ErrCodeInvalidRequest, "batch too large"))
		return
	}
	responses := make([]*Response, len(reqs))
	for i := range reqs {
		responses[i] = s.dispatch(ctx, &reqs[i])
	}
	writeJSON(w, responses)
}

// dispatch runs one request against the handler.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.Method == "" {
		return errorResponse(req.ID, ErrCodeInvalidRequest, "missing method")
	}
	result, err := s.handler.Handle(ctx, req.Method, req.Params)
	if err != nil {
		s.logger.Debug("request failed", "method", req.Method, "err", err)
		return &Response{JSONRPC: "2.0", Error: toRPCError(err), ID: req.ID}
	}
	return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range s.config.CORSAllowOrigins {
		if allowed == "*" || allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			return
		}
	}
}

// isBatch reports whether the body's first non-whitespace byte opens an
// array.
func isBatch(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
