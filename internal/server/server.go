// Package server exposes the streaming dispatcher over HTTP: SSE
// endpoints for chat and council streams, a cancel endpoint, the
// Prometheus metrics handler, and a websocket control plane.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/streaming"
)

// Config wires the HTTP server.
type Config struct {
	Addr       string
	CORSOrigin string

	Dispatcher *streaming.Dispatcher
	Provider   agent.Provider

	ChatTimeout   time.Duration
	MemberTimeout time.Duration
	LeaderTimeout time.Duration

	Logger *slog.Logger
}

// Server is the HTTP front of the streaming dispatcher.
type Server struct {
	config  Config
	control *ControlPlane
	logger  *slog.Logger
	httpSrv *http.Server
}

// New constructs the server and its routes.
func New(config Config) *Server {
	if config.ChatTimeout <= 0 {
		config.ChatTimeout = 20 * time.Second
	}
	if config.MemberTimeout <= 0 {
		config.MemberTimeout = 45 * time.Second
	}
	if config.LeaderTimeout <= 0 {
		config.LeaderTimeout = 70 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  config,
		control: NewControlPlane(config.Dispatcher, logger),
		logger:  logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /chat/cancel", s.handleCancel)
	mux.HandleFunc("POST /council/stream", s.handleCouncilStream)
	mux.HandleFunc("GET /ws/control", s.control.HandleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpSrv = &http.Server{
		Addr:              config.Addr,
		Handler:           s.withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Control returns the websocket control plane, for pushing approval
// prompts from the engine.
func (s *Server) Control() *ControlPlane { return s.control }

// ListenAndServe runs until ctx is cancelled, then shuts down with a
// bounded drain.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.CORSOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.config.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// chatRequest is the POST /chat/stream body.
type chatRequest struct {
	RequestID string                    `json:"request_id,omitempty"`
	Model     string                    `json:"model,omitempty"`
	System    string                    `json:"system,omitempty"`
	Messages  []agent.CompletionMessage `json:"messages"`
	MaxTokens int                       `json:"max_tokens,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	emit, flushable := sseEmitter(w)
	if !flushable {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	completion := &agent.CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	key := chatCacheKey(s.config.Provider.Name(), req)

	// The request context ends when the client disconnects, which
	// aborts the provider stream.
	ctx, cancel := context.WithTimeout(r.Context(), s.config.ChatTimeout)
	defer cancel()

	s.config.Dispatcher.StreamChat(ctx, req.RequestID, key, s.config.Provider, completion, emit)
}

func chatCacheKey(provider string, req chatRequest) string {
	normalized := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		raw, _ := json.Marshal(m)
		normalized = append(normalized, string(raw))
	}
	return streaming.CacheKey(streaming.CacheKeyInput{
		Route:              "chat",
		Provider:           provider,
		Model:              req.Model,
		NormalizedMessages: normalized,
		SystemPrompt:       req.System,
		Params:             map[string]string{"max_tokens": fmt.Sprint(req.MaxTokens)},
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		http.Error(w, "request_id is required", http.StatusBadRequest)
		return
	}
	found := s.config.Dispatcher.Cancel(req.RequestID)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"cancelled": found})
}

// councilRequest is the POST /council/stream body.
type councilRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Prompt    string `json:"prompt"`
	Members   int    `json:"members"`
	Model     string `json:"model,omitempty"`
	System    string `json:"system,omitempty"`
}

func (s *Server) handleCouncilStream(w http.ResponseWriter, r *http.Request) {
	var req councilRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Members <= 0 {
		req.Members = 3
	}

	emit, flushable := sseEmitter(w)
	if !flushable {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	member := func(ctx context.Context, memberIndex int) (string, error) {
		return s.drainProvider(ctx, &agent.CompletionRequest{
			Model:  req.Model,
			System: req.System,
			Messages: []agent.CompletionMessage{
				{Role: "user", Content: req.Prompt},
			},
		})
	}
	leader := func(ctx context.Context, prompt string) (string, error) {
		return s.drainProvider(ctx, &agent.CompletionRequest{
			Model:  req.Model,
			System: req.System,
			Messages: []agent.CompletionMessage{
				{Role: "user", Content: prompt},
			},
		})
	}

	s.config.Dispatcher.StreamCouncil(r.Context(), req.RequestID, req.Members, s.config.MemberTimeout, s.config.LeaderTimeout, member, leader, emit)
}

// drainProvider runs one provider stream to completion and returns the
// accumulated text.
func (s *Server) drainProvider(ctx context.Context, req *agent.CompletionRequest) (string, error) {
	ch, err := s.config.Provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var text string
	for chunk := range ch {
		switch chunk.Kind {
		case agent.ChunkToken:
			text += chunk.Text
		case agent.ChunkError:
			return text, chunk.Err
		}
	}
	return text, ctx.Err()
}

// sseEmitter prepares w for server-sent events and returns the frame
// emitter. Frames are flushed as they are written so tokens reach the
// client immediately.
func sseEmitter(w http.ResponseWriter) (func(streaming.Frame), bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return func(frame streaming.Frame) {
		raw, err := json.Marshal(frame)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
	}, true
}
