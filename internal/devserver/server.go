// Package devserver is a stand-in for the assistant service. It speaks the
// same SSE contract as the real one and streams canned replies, which is
// enough to drive the client end to end without a model.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// FailMarker in the last user message makes the server answer with an
// error event.
const FailMarker = "/fail"

const maxBodySize = 1 << 20

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string
	// Delay is the pause between streamed words.
	Delay time.Duration
	// AllowedOrigins for CORS. Defaults to all.
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Server serves /chat, /health and /metrics.
type Server struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics
	router  *chi.Mux
}

// New builds a server and its routes.
func New(cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: newMetrics(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.metrics.instrument)
	r.Use(chimw.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Cache-Control"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	r.Get("/health", s.health)
	r.Post("/chat", s.chat)

	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("mock assistant listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "failed to read body"})
		return
	}
	if !gjson.ValidBytes(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON"})
		return
	}
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "messages must be an array"})
		return
	}
	for _, m := range messages.Array() {
		role := m.Get("role").String()
		if role != "user" && role != "assistant" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": fmt.Sprintf("invalid role %q", role)})
			return
		}
	}

	question := ""
	if all := messages.Array(); len(all) > 0 {
		question = all[len(all)-1].Get("content").String()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := s.log.With().
		Str("session", gjson.GetBytes(body, "session_id").String()).
		Int("history", len(messages.Array())).
		Logger()

	if strings.Contains(question, FailMarker) {
		s.metrics.errors.WithLabelValues("simulated").Inc()
		log.Debug().Msg("simulated failure")
		writeEvent(w, "error", map[string]string{"error": "Simulated failure requested"})
		flusher.Flush()
		return
	}

	ctx := r.Context()
	for _, word := range splitWords(pickReply(question)) {
		if s.cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				s.metrics.errors.WithLabelValues("disconnected").Inc()
				log.Debug().Msg("client went away")
				return
			case <-time.After(s.cfg.Delay):
			}
		} else if ctx.Err() != nil {
			s.metrics.errors.WithLabelValues("disconnected").Inc()
			return
		}
		writeEvent(w, "message", map[string]string{"content": word})
		flusher.Flush()
		s.metrics.chunks.Inc()
	}

	writeEvent(w, "done", struct{}{})
	flusher.Flush()
	log.Debug().Msg("reply streamed")
}

func writeEvent(w io.Writer, event string, data any) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
