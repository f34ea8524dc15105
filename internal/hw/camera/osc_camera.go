package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/oscsync/internal/debug"
	"github.com/cjeanneret/oscsync/internal/osc"
)

// ErrBusy is returned when Shoot is called while another Shoot is running.
var ErrBusy = errors.New("camera: capture already in progress")

// Commander is the part of osc.Client the capture flow needs.
type Commander interface {
	Info(ctx context.Context) (*osc.Info, error)
	Execute(ctx context.Context, name string, params interface{}) (*osc.CommandResponse, error)
	Status(ctx context.Context, id string) (*osc.CommandResponse, error)
}

// OSCConfig holds the capture protocol parameters.
type OSCConfig struct {
	ModelMarker    string        // required substring of the device model (case-sensitive)
	SessionTimeout time.Duration // sent with camera.startSession, whole seconds
	StatusInterval time.Duration // wait before each status check
	StatusRetries  int           // status check budget
	// OnProgress, if set, receives the completion of each inProgress status.
	OnProgress func(id string, completion float64)
}

// Session is the camera session opened for one picture. It is never reused.
type Session struct {
	ID      string
	Timeout time.Duration
}

// OSCCamera is a Camera implementation for devices speaking the
// Open Spherical Camera API.
//
// Capture sequence:
// 1. Probe: GET /osc/info, the model must contain ModelMarker
// 2. StartSession: camera.startSession
// 3. Submit: camera.takePicture with the session id
// 4. Poll: status checks until done, error or budget exhausted
type OSCCamera struct {
	cmd  Commander
	cfg  OSCConfig
	busy atomic.Bool
}

// NewOSCCamera creates an OSC camera. Zero config fields fall back to
// "THETA", 50 s, 250 ms and 20 checks.
func NewOSCCamera(cmd Commander, cfg OSCConfig) *OSCCamera {
	if cfg.ModelMarker == "" {
		cfg.ModelMarker = "THETA"
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 50 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 250 * time.Millisecond
	}
	if cfg.StatusRetries <= 0 {
		cfg.StatusRetries = 20
	}
	return &OSCCamera{cmd: cmd, cfg: cfg}
}

// Shoot runs the full capture sequence and returns the file URI.
// Every failure is an *osc.Error; use osc.KindOf to tell them apart.
func (c *OSCCamera) Shoot(ctx context.Context) (string, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer c.busy.Store(false)

	debug.Live("Camera: taking picture")

	if err := c.Probe(ctx); err != nil {
		return "", err
	}
	sess, err := c.StartSession(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.Submit(ctx, sess)
	if err != nil {
		return "", err
	}

	switch resp.State {
	case osc.StateDone:
		return fileURI(osc.StepTakePicture, resp)
	case osc.StateInProgress:
		if resp.ID == "" {
			return "", osc.Errorf(osc.StepTakePicture, osc.KindProtocol, "inProgress response without command id")
		}
		c.report(resp)
		return c.Poll(ctx, resp.ID)
	default:
		return "", osc.Errorf(osc.StepTakePicture, osc.KindProtocol, "unexpected state %q", resp.State)
	}
}

// Probe checks that the device is a supported camera.
func (c *OSCCamera) Probe(ctx context.Context) error {
	if err := checkCtx(ctx, osc.StepProbe); err != nil {
		return err
	}
	info, err := c.cmd.Info(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(info.Model, c.cfg.ModelMarker) {
		return osc.Errorf(osc.StepProbe, osc.KindIncompatible, "model %q does not contain %q", info.Model, c.cfg.ModelMarker)
	}
	debug.Verbose("Camera: probe ok (%s)", info.Model)
	return nil
}

// StartSession opens a new camera session.
func (c *OSCCamera) StartSession(ctx context.Context) (*Session, error) {
	if err := checkCtx(ctx, osc.StepStartSession); err != nil {
		return nil, err
	}
	params := osc.StartSessionParams{Timeout: int(c.cfg.SessionTimeout / time.Second)}
	resp, err := c.cmd.Execute(ctx, osc.CmdStartSession, params)
	if err != nil {
		return nil, err
	}
	var res osc.StartSessionResults
	if err := resp.DecodeResults(&res); err != nil {
		return nil, osc.NewError(osc.StepStartSession, osc.KindProtocol, err)
	}
	if res.SessionID == "" {
		return nil, osc.Errorf(osc.StepStartSession, osc.KindProtocol, "empty sessionId")
	}
	debug.Verbose("Camera: session %s (timeout %ds)", res.SessionID, res.Timeout)
	return &Session{ID: res.SessionID, Timeout: time.Duration(res.Timeout) * time.Second}, nil
}

// Submit sends camera.takePicture within sess.
func (c *OSCCamera) Submit(ctx context.Context, sess *Session) (*osc.CommandResponse, error) {
	if err := checkCtx(ctx, osc.StepTakePicture); err != nil {
		return nil, err
	}
	return c.cmd.Execute(ctx, osc.CmdTakePicture, osc.TakePictureParams{SessionID: sess.ID})
}

// Poll checks the command status up to StatusRetries times, waiting
// StatusInterval before each check. A failed request is skipped but
// still counts against the budget.
func (c *OSCCamera) Poll(ctx context.Context, id string) (string, error) {
	for i := 0; i < c.cfg.StatusRetries; i++ {
		if err := sleepCtx(ctx, c.cfg.StatusInterval); err != nil {
			return "", osc.NewError(osc.StepStatus, osc.KindCancelled, err)
		}

		resp, err := c.cmd.Status(ctx, id)
		if err != nil {
			if osc.KindOf(err) == osc.KindTransport {
				debug.Verbose("Camera: status check %d/%d skipped: %v", i+1, c.cfg.StatusRetries, err)
				continue
			}
			return "", err
		}

		switch resp.State {
		case osc.StateDone:
			return fileURI(osc.StepStatus, resp)
		case osc.StateInProgress:
			c.report(resp)
		default:
			debug.Trace("Camera: status %s is %q, still waiting", id, resp.State)
		}
	}
	return "", osc.Errorf(osc.StepStatus, osc.KindTimeout, "command %s not done after %d status checks", id, c.cfg.StatusRetries)
}

func (c *OSCCamera) report(resp *osc.CommandResponse) {
	debug.Progress(resp.ID, resp.Completion())
	if c.cfg.OnProgress != nil {
		c.cfg.OnProgress(resp.ID, resp.Completion())
	}
}

func fileURI(step osc.Step, resp *osc.CommandResponse) (string, error) {
	var res osc.TakePictureResults
	if err := resp.DecodeResults(&res); err != nil {
		return "", osc.NewError(step, osc.KindProtocol, err)
	}
	if res.FileURI == "" {
		return "", osc.Errorf(step, osc.KindProtocol, "empty fileUri")
	}
	debug.Info("Picture taken: %s", res.FileURI)
	return res.FileURI, nil
}

func checkCtx(ctx context.Context, step osc.Step) error {
	select {
	case <-ctx.Done():
		return osc.NewError(step, osc.KindCancelled, ctx.Err())
	default:
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("poll wait: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
