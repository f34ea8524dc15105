package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/oscsync/internal/debug"
	"github.com/cjeanneret/oscsync/internal/history"
	"github.com/cjeanneret/oscsync/internal/hw/camera"
	"github.com/cjeanneret/oscsync/internal/osc"
)

var (
	ErrNotConnected     = errors.New("not connected to a camera network")
	ErrRunning          = errors.New("capture already in progress")
	ErrNoKnownNetworks  = errors.New("no camera network configured")
	ErrAmbiguousNetwork = errors.New("several camera networks configured, pick one")
	ErrConnectRefused   = errors.New("connection request refused")
)

// Network is the part of the watcher the runner needs.
type Network interface {
	IsConnected() bool
	KnownNetworks() []string
	AttemptConnect(name string) bool
	BindTrafficToWifi() bool
	GatewayAddress() (string, error)
}

// CameraFactory builds the camera reached at host.
type CameraFactory func(host string) camera.Camera

// Recorder stores finished runs. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, c *history.Capture) error
}

// Indicator shows that a capture is running. *panel.Panel implements it.
type Indicator interface {
	SetBusy(busy bool)
}

// Config holds the runner parameters.
type Config struct {
	Host           string        // fixed camera host; empty uses the Wi-Fi gateway
	ConnectTimeout time.Duration // wait for association after a connect request
	ConnectPoll    time.Duration // association check period
}

// Runner takes pictures one at a time: resolve the camera host, shoot,
// record the outcome. History, Indicator and OnCapture are optional and
// must be set before the first run.
type Runner struct {
	net       Network
	newCamera CameraFactory
	cfg       Config

	History   Recorder
	Indicator Indicator
	// OnCapture receives every finished attempt, successful or not.
	OnCapture func(c *history.Capture)

	mu      sync.Mutex
	running bool
	network string // last network associated by EnsureConnected
}

// NewRunner creates a runner. Zero durations fall back to 20 s and 250 ms.
func NewRunner(net Network, newCamera CameraFactory, cfg Config) *Runner {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 20 * time.Second
	}
	if cfg.ConnectPoll <= 0 {
		cfg.ConnectPoll = 250 * time.Millisecond
	}
	return &Runner{net: net, newCamera: newCamera, cfg: cfg}
}

// Running reports whether a capture is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// Run takes one picture. The returned capture is filled in on failure too,
// except when another run is active (ErrRunning).
func (r *Runner) Run(ctx context.Context) (*history.Capture, error) {
	if !r.acquire() {
		return nil, ErrRunning
	}
	defer r.release()

	if r.Indicator != nil {
		r.Indicator.SetBusy(true)
		defer r.Indicator.SetBusy(false)
	}
	return r.shoot(ctx)
}

func (r *Runner) shoot(ctx context.Context) (*history.Capture, error) {
	r.mu.Lock()
	rec := &history.Capture{
		ID:        uuid.NewString(),
		Network:   r.network,
		StartedAt: time.Now(),
	}
	r.mu.Unlock()

	host, err := r.resolveHost()
	if err == nil {
		rec.Host = host
		debug.Live("Capture %s: camera at %s", rec.ID, host)
		rec.FileURI, err = r.newCamera(host).Shoot(ctx)
	}
	rec.FinishedAt = time.Now()
	rec.Outcome = outcome(err)
	if err != nil {
		rec.Step = string(osc.StepOf(err))
		rec.Error = err.Error()
	}

	if r.History != nil {
		// recorded even when ctx is already cancelled
		if herr := r.History.Record(context.Background(), rec); herr != nil {
			debug.Error(fmt.Errorf("record capture %s: %w", rec.ID, herr))
		}
	}

	if r.OnCapture != nil {
		r.OnCapture(rec)
	}

	if err != nil {
		debug.Info("Capture %s failed (%s): %v", rec.ID, rec.Outcome, err)
		return rec, err
	}
	debug.Info("Capture %s: %s in %v", rec.ID, rec.FileURI, rec.Duration().Round(time.Millisecond))
	return rec, nil
}

// resolveHost returns the configured host, or binds traffic to Wi-Fi and
// returns the gateway when the camera network is attached.
func (r *Runner) resolveHost() (string, error) {
	if r.cfg.Host != "" {
		return r.cfg.Host, nil
	}
	if !r.net.IsConnected() {
		return "", ErrNotConnected
	}
	if !r.net.BindTrafficToWifi() {
		debug.Verbose("Could not bind traffic to Wi-Fi, using the default route")
	}
	gw, err := r.net.GatewayAddress()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return gw, nil
}

// EnsureConnected associates with a camera network when none is attached.
// preferred picks the network when several are configured; it is ignored
// when already connected. The chosen name is returned ("" when nothing was done).
func (r *Runner) EnsureConnected(ctx context.Context, preferred string) (string, error) {
	if r.cfg.Host != "" || r.net.IsConnected() {
		return "", nil
	}

	target := preferred
	if target == "" {
		names := r.net.KnownNetworks()
		switch len(names) {
		case 0:
			return "", ErrNoKnownNetworks
		case 1:
			target = names[0]
		default:
			return "", fmt.Errorf("%w: %s", ErrAmbiguousNetwork, strings.Join(names, ", "))
		}
	}

	if err := r.Connect(ctx, target); err != nil {
		return "", err
	}
	return target, nil
}

// Connect requests association with name and waits until the camera
// network is attached or ConnectTimeout elapses.
func (r *Runner) Connect(ctx context.Context, name string) error {
	debug.Live("Connecting to %s", name)
	if !r.net.AttemptConnect(name) {
		return fmt.Errorf("%w: %s", ErrConnectRefused, name)
	}

	deadline := time.NewTimer(r.cfg.ConnectTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.ConnectPoll)
	defer ticker.Stop()

	for !r.net.IsConnected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s did not associate within %v", ErrNotConnected, name, r.cfg.ConnectTimeout)
		case <-ticker.C:
		}
	}

	r.mu.Lock()
	r.network = name
	r.mu.Unlock()
	debug.Info("Associated with %s", name)
	return nil
}

// outcome names the result of a run for the history.
func outcome(err error) string {
	switch {
	case err == nil:
		return history.OutcomeOK
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, camera.ErrBusy):
		return "busy"
	}
	if k := osc.KindOf(err); k != osc.KindUnknown {
		return k.String()
	}
	return "failed"
}
