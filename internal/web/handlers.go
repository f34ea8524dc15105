package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/oscsync/internal/debug"
	"github.com/cjeanneret/oscsync/internal/history"
	"github.com/cjeanneret/oscsync/internal/logic/capture"
)

const (
	maxBodyBytes          = 1 << 20
	defaultMinRunInterval = 5 * time.Second
	defaultCaptureLimit   = 20
	maxCaptureLimit       = 500
)

// Runner is the part of capture.Runner the handlers need.
type Runner interface {
	Run(ctx context.Context) (*history.Capture, error)
	RunSeries(ctx context.Context, p capture.SeriesParams) ([]*history.Capture, error)
	Connect(ctx context.Context, name string) error
	Running() bool
}

// NetworkView exposes the watcher state.
type NetworkView interface {
	State() bool
	KnownNetworks() []string
}

// CaptureLister reads the capture history. *history.Store implements it.
type CaptureLister interface {
	Recent(ctx context.Context, limit int) ([]*history.Capture, error)
	Get(ctx context.Context, id string) (*history.Capture, error)
}

// RunRequest is the optional body of POST /run. A zero Count takes one picture.
type RunRequest struct {
	Count       int  `json:"count"`
	IntervalMs  int  `json:"interval_ms"`
	StopOnError bool `json:"stop_on_error"`
}

// ValidateRunRequest checks the POST /run body.
func ValidateRunRequest(r RunRequest) error {
	if r.Count < 0 || r.Count > 1000 {
		return fmt.Errorf("count must be between 0 and 1000, got %d", r.Count)
	}
	if r.IntervalMs < 0 {
		return fmt.Errorf("interval_ms must be >= 0, got %d", r.IntervalMs)
	}
	if r.Count <= 1 && r.IntervalMs > 0 {
		return errors.New("interval_ms needs count > 1")
	}
	return nil
}

// ConnectRequest is the body of POST /connect.
type ConnectRequest struct {
	Name string `json:"name"`
}

// ConfigView holds the read-only settings shown by the UI.
type ConfigView struct {
	Suffix           string `json:"suffix"`
	Host             string `json:"host,omitempty"`
	ModelMarker      string `json:"model_marker"`
	SessionTimeoutS  int    `json:"session_timeout_s"`
	StatusIntervalMs int    `json:"status_interval_ms"`
	StatusRetries    int    `json:"status_retries"`
	HistoryEnabled   bool   `json:"history_enabled"`
}

// Handlers holds dependencies for HTTP handlers.
// Nil Runner, Network or Captures make their routes answer 503.
type Handlers struct {
	Broadcaster    *StatusBroadcaster
	Runner         Runner
	Network        NetworkView
	Captures       CaptureLister
	View           ConfigView
	MinRunInterval time.Duration

	ctx        context.Context
	runningMu  sync.Mutex
	running    bool
	connecting bool
	lastRun    time.Time
	staticFS   fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, runner Runner, network NetworkView, captures CaptureLister, view ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:    broadcaster,
		Runner:         runner,
		Network:        network,
		Captures:       captures,
		View:           view,
		MinRunInterval: defaultMinRunInterval,
		ctx:            context.Background(),
		staticFS:       staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes an optional JSON body of at most maxBodyBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HandleConfig returns the read-only settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.View)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRun handles POST /run to take one picture or a series.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateRunRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Runner == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running || h.Runner.Running() {
		h.runningMu.Unlock()
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	if !h.lastRun.IsZero() && time.Since(h.lastRun) < h.MinRunInterval {
		h.runningMu.Unlock()
		http.Error(w, "too many requests, wait before the next capture", http.StatusTooManyRequests)
		return
	}
	h.running = true
	h.lastRun = time.Now()
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		var err error
		if req.Count > 1 {
			_, err = h.Runner.RunSeries(h.ctx, capture.SeriesParams{
				Count:       req.Count,
				Interval:    time.Duration(req.IntervalMs) * time.Millisecond,
				StopOnError: req.StopOnError,
			})
			if err == nil {
				h.Broadcaster.Broadcast("info", "Series complete")
			}
		} else {
			_, err = h.Runner.Run(h.ctx)
		}
		if err != nil {
			h.Broadcaster.Broadcast("error", "Capture failed: "+err.Error())
			debug.Error(fmt.Errorf("capture failed: %w", err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleConnect handles POST /connect to associate with a camera network.
// The outcome is reported on the status stream.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConnectRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if h.Runner == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.connecting {
		h.runningMu.Unlock()
		http.Error(w, "connection already in progress", http.StatusConflict)
		return
	}
	h.connecting = true
	h.runningMu.Unlock()

	go func() {
		defer func() {
			h.runningMu.Lock()
			h.connecting = false
			h.runningMu.Unlock()
		}()
		if err := h.Runner.Connect(h.ctx, req.Name); err != nil {
			h.Broadcaster.Broadcast("error", "Connect failed: "+err.Error())
			return
		}
		h.Broadcaster.Broadcast("info", "Connected to "+req.Name)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting", "name": req.Name})
}

// HandleNetworks handles GET /networks.
func (h *Handlers) HandleNetworks(w http.ResponseWriter, r *http.Request) {
	if h.Network == nil {
		http.Error(w, "network watcher not configured", http.StatusServiceUnavailable)
		return
	}
	names := h.Network.KnownNetworks()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"networks":  names,
		"connected": h.Network.State(),
	})
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	state := map[string]bool{"connected": false, "running": false}
	if h.Network != nil {
		state["connected"] = h.Network.State()
	}
	if h.Runner != nil {
		h.runningMu.Lock()
		state["running"] = h.running || h.Runner.Running()
		h.runningMu.Unlock()
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleCaptures handles GET /captures?limit=N.
func (h *Handlers) HandleCaptures(w http.ResponseWriter, r *http.Request) {
	if h.Captures == nil {
		http.Error(w, "capture history disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultCaptureLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxCaptureLimit {
			http.Error(w, fmt.Sprintf("limit must be between 1 and %d", maxCaptureLimit), http.StatusBadRequest)
			return
		}
		limit = v
	}

	captures, err := h.Captures.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list captures", http.StatusInternalServerError)
		debug.Error(err)
		return
	}
	writeJSON(w, http.StatusOK, captures)
}

// HandleCapture handles GET /captures/{id}.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if h.Captures == nil {
		http.Error(w, "capture history disabled", http.StatusServiceUnavailable)
		return
	}
	c, err := h.Captures.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		http.Error(w, "capture not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to read capture", http.StatusInternalServerError)
		debug.Error(err)
		return
	}
	writeJSON(w, http.StatusOK, c)
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
	w.Write([]byte(": connected\n\n"))
	if h.Network != nil {
		data, _ := json.Marshal(StatusEvent{
			Time: time.Now().Format(time.RFC3339),
			Kind: KindConnection,
			Msg:  "current state",
			Data: ConnectionData{Connected: h.Network.State()},
		})
		w.Write([]byte("data: " + string(data) + "\n\n"))
	}
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
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
