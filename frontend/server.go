package frontend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultAddr      = "127.0.0.1:8000"
	DefaultAgentPath = "/cgi-bin/agent_script.py"
	DefaultIndexPath = "index.html"

	shutdownTimeout = 5 * time.Second

	bodyNotFound      = "Not found"
	bodyIndexNotFound = "index.html not found"
)

type Config struct {
	Addr              string
	AgentPath         string
	IndexPath         string
	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
	Metrics           *Metrics

	// TracerProvider, when set, wraps the handler with otelhttp.
	TracerProvider trace.TracerProvider
}

// Server routes exactly three things: the index page, the agent endpoint and
// a plain 404 for everything else. Paths are matched as received, without
// cleaning or redirects.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher
	handler    http.Handler
	http       *http.Server
	once       sync.Once
}

func NewServer(cfg Config, dispatcher *Dispatcher) (*Server, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.AgentPath) == "" {
		cfg.AgentPath = DefaultAgentPath
	}
	if !strings.HasPrefix(cfg.AgentPath, "/") {
		return nil, fmt.Errorf("agent path must start with '/': %q", cfg.AgentPath)
	}
	if cfg.AgentPath == "/" || cfg.AgentPath == "/index.html" {
		return nil, fmt.Errorf("agent path %q collides with the index route", cfg.AgentPath)
	}
	if strings.TrimSpace(cfg.IndexPath) == "" {
		cfg.IndexPath = DefaultIndexPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
	}

	var handler http.Handler = http.HandlerFunc(s.route)
	handler = MetricsMiddleware(cfg.Metrics, s.routeLabel)(handler)
	if cfg.TracerProvider != nil {
		handler = otelhttp.NewHandler(handler, "agent-web",
			otelhttp.WithTracerProvider(cfg.TracerProvider),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + s.routeLabel(r)
			}),
		)
	}
	s.handler = handler
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case s.cfg.AgentPath:
		s.dispatcher.ServeHTTP(w, r)
	case "/", "/index.html":
		s.handleIndex(w, r)
	default:
		writeText(w, http.StatusNotFound, contentTypeText, bodyNotFound)
	}
}

func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}

func (s *Server) Addr() string { return s.cfg.Addr }

// ListenAndServe listens on the configured address and serves until ctx is
// done, then shuts down gracefully and returns ctx.Err().
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server is nil")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s == nil {
		return fmt.Errorf("server is nil")
	}
	s.cfg.Logger.Info("serving HTTP", "addr", ln.Addr().String(), "agent_path", s.cfg.AgentPath)

	errCh := make(chan error, 1)
	go func() {
		err := s.http.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.cfg.Logger.Info("shutdown signal received, gracefully stopping")
		if err := s.Close(); err != nil {
			s.cfg.Logger.Warn("HTTP shutdown error", "error", err)
		}
		<-errCh
		s.cfg.Logger.Info("server stopped")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	var outErr error
	s.once.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		outErr = s.http.Shutdown(shutdownCtx)
	})
	return outErr
}

// handleIndex reads the index page on every request.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.cfg.IndexPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.cfg.Logger.WarnContext(r.Context(), "failed to read index page", "path", s.cfg.IndexPath, "error", err)
		}
		writeText(w, http.StatusNotFound, contentTypeText, bodyIndexNotFound)
		return
	}
	writeText(w, http.StatusOK, contentTypeHTML, string(data))
}

func (s *Server) routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case s.cfg.AgentPath:
		return "agent"
	case "/", "/index.html":
		return "index"
	default:
		return "not_found"
	}
}

// MetricsServer serves the metrics handler on its own listener so the main
// route table stays exactly as documented.
type MetricsServer struct {
	logger *slog.Logger
	http   *http.Server
	once   sync.Once
}

func NewMetricsServer(addr string, handler http.Handler, logger *slog.Logger) *MetricsServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsServer{
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (m *MetricsServer) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("serving metrics", "addr", m.http.Addr)
		err := m.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		_ = m.Close()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (m *MetricsServer) Close() error {
	var outErr error
	m.once.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		outErr = m.http.Shutdown(shutdownCtx)
	})
	return outErr
}
