package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/logic/capture"
	"github.com/cjeanneret/SlideGo/internal/logic/command"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

const (
	maxBodyBytes = 1 << 20
	runCooldown  = 5 * time.Second
)

// Slider is the command surface the HTTP remote drives.
// *command.Executor implements it.
type Slider interface {
	Start(ctx context.Context, cmd command.Command, done func(command.Result, error)) error
	StartInterval(ctx context.Context, p capture.IntervalParams, done func(error)) error
	RequestStop()
	State() motion.State
	Busy() bool
	Current() string
}

// RunParams holds interval run parameters posted to /run. Zero interval
// and settle values mean "use config default".
type RunParams struct {
	Frames     int `json:"frames"`
	IntervalMs int `json:"interval_ms"`
	SettleMs   int `json:"settle_ms"`
}

// FormConfig holds default values for the web form (from config).
type FormConfig struct {
	Frames       int   `json:"frames"`
	IntervalMs   int   `json:"interval_ms"`
	SettleMs     int   `json:"settle_ms"`
	MaxSpeed     int64 `json:"max_speed"`
	Acceleration int64 `json:"acceleration"`
}

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Line string `json:"line"`
}

// Scale converts step counts to carriage travel.
type Scale interface {
	MMFromSteps(steps int64) float64
}

// StatusResponse is the body of GET /state.
type StatusResponse struct {
	Busy       bool         `json:"busy"`
	Current    string       `json:"current,omitempty"`
	State      motion.State `json:"state"`
	PositionMM *float64     `json:"position_mm,omitempty"` // set when the track geometry is known
}

// ValidateRunParams checks that run parameters are within usable ranges.
func ValidateRunParams(p RunParams) error {
	if p.Frames < 1 || p.Frames > 100000 {
		return fmt.Errorf("frames must be between 1 and 100000, got %d", p.Frames)
	}
	if p.IntervalMs < 0 || p.IntervalMs > int(24*time.Hour/time.Millisecond) {
		return fmt.Errorf("interval_ms must be between 0 and 86400000, got %d", p.IntervalMs)
	}
	if p.SettleMs < 0 || p.SettleMs > 60000 {
		return fmt.Errorf("settle_ms must be between 0 and 60000, got %d", p.SettleMs)
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Slider      Slider
	Scale       Scale // optional
	staticFS    fs.FS
	runLimiter  *rate.Limiter
	ctx         context.Context

	mu           sync.RWMutex
	formDefaults FormConfig
	interval     capture.IntervalParams // defaults for /run
}

// NewHandlers creates handlers with the given dependencies.
// If slider is nil, the control endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, slider Slider, formDefaults FormConfig, interval capture.IntervalParams, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Slider:       slider,
		formDefaults: formDefaults,
		interval:     interval,
		staticFS:     staticFS,
		runLimiter:   rate.NewLimiter(rate.Every(runCooldown), 1),
		ctx:          context.Background(),
	}
}

// SetDefaults replaces the form and interval defaults, e.g. after a
// config reload.
func (h *Handlers) SetDefaults(form FormConfig, interval capture.IntervalParams) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.formDefaults = form
	h.interval = interval
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	form := h.formDefaults
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, form)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

// HandleState returns the slider state as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Slider == nil {
		http.Error(w, "slider not configured", http.StatusServiceUnavailable)
		return
	}
	resp := StatusResponse{
		Busy:    h.Slider.Busy(),
		Current: h.Slider.Current(),
		State:   h.Slider.State(),
	}
	if h.Scale != nil {
		mm := h.Scale.MMFromSteps(resp.State.Position)
		resp.PositionMM = &mm
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCommand handles POST /command: one protocol line, run in the
// background. A stop is applied at once, even while another command runs.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	cmd, err := command.Parse(req.Line)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Slider == nil {
		http.Error(w, "slider not configured", http.StatusServiceUnavailable)
		return
	}

	err = h.Slider.Start(h.baseContext(), cmd, func(res command.Result, err error) {
		h.Broadcaster.BroadcastResult(res, err)
	})
	if errors.Is(err, command.ErrBusy) {
		http.Error(w, fmt.Sprintf("busy with %q", h.Slider.Current()), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "command": cmd.String()})
}

// HandleRun handles POST /run to start an interval run between the move
// bookmarks.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var params RunParams
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&params); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateRunParams(params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Slider == nil {
		http.Error(w, "slider not configured", http.StatusServiceUnavailable)
		return
	}
	if h.Slider.Busy() {
		http.Error(w, "slider busy", http.StatusConflict)
		return
	}
	if !h.runLimiter.Allow() {
		http.Error(w, "too many runs, wait a few seconds", http.StatusTooManyRequests)
		return
	}

	p := h.intervalParams(params)
	err := h.Slider.StartInterval(h.baseContext(), p, func(err error) {
		if err != nil {
			h.Broadcaster.Broadcast("error", "Interval run failed: "+err.Error())
			debug.Warn("interval run failed: %v", err)
			return
		}
		h.Broadcaster.Broadcast("info", "Interval run complete")
	})
	if errors.Is(err, command.ErrBusy) {
		http.Error(w, "slider busy", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handlers) intervalParams(rp RunParams) capture.IntervalParams {
	h.mu.RLock()
	p := h.interval
	h.mu.RUnlock()
	p.Frames = rp.Frames
	if rp.IntervalMs > 0 {
		p.Interval = time.Duration(rp.IntervalMs) * time.Millisecond
	}
	if rp.SettleMs > 0 {
		p.Settle = time.Duration(rp.SettleMs) * time.Millisecond
	}
	return p
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warn("encode response: %v", err)
	}
}
