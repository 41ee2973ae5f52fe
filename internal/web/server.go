package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/logic/capture"
)

// positionPeriod is how often the carriage position is pushed to clients
// while a command runs.
const positionPeriod = 250 * time.Millisecond

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, slider Slider, formDefaults FormConfig, interval capture.IntervalParams) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: sub static fs: %w", err)
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, slider, formDefaults, interval, subFS),
	}, nil
}

// Handlers exposes the server's handlers, e.g. to update form defaults
// after a config reload.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /command", s.handlers.HandleCommand)
	mux.HandleFunc("POST /run", s.handlers.HandleRun)
	mux.HandleFunc("GET /state", s.handlers.HandleState)
	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /ws", s.handlers.HandleWebsocket)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. Commands started over HTTP are cancelled with ctx.
func (s *Server) Run(ctx context.Context) error {
	log := debug.Named("web")
	s.handlers.ctx = ctx

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("web server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()
	go s.pushPositions(ctx)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// pushPositions broadcasts the slider state while a command runs, plus
// once when it finishes.
func (s *Server) pushPositions(ctx context.Context) {
	slider := s.handlers.Slider
	if slider == nil {
		return
	}
	ticker := time.NewTicker(positionPeriod)
	defer ticker.Stop()

	wasBusy := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			busy := slider.Busy()
			if busy || wasBusy {
				s.handlers.Broadcaster.BroadcastState(slider.State())
			}
			wasBusy = busy
		}
	}
}
