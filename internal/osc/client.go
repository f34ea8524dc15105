package osc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cjeanneret/oscsync/internal/debug"
)

const (
	InfoPath    = "/osc/info"
	ExecutePath = "/osc/commands/execute"
	StatusPath  = "/osc/commands/status"

	contentType  = "application/json;charset=utf-8"
	maxBodyBytes = 1 << 20
)

// DialFunc opens connections to the camera. wifi.Driver.DialContext fits.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client speaks the OSC HTTP API to a single camera host.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for host ("10.40.0.1" or "http://10.40.0.1:8080").
// timeout bounds each request; dial may be nil to use the default dialer.
func NewClient(host string, timeout time.Duration, dial DialFunc) *Client {
	base := strings.TrimRight(host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if dial != nil {
		transport.DialContext = dial
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

// BaseURL returns the camera root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Info fetches the device description.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.do(ctx, StepProbe, http.MethodGet, InfoPath, nil, &info); err != nil {
		return nil, err
	}
	debug.Verbose("Camera: %s %s (firmware %s)", info.Manufacturer, info.Model, info.FirmwareVersion)
	return &info, nil
}

// Execute runs a command. A response with an error object or state "error"
// is returned together with a KindProtocol error.
func (c *Client) Execute(ctx context.Context, name string, params interface{}) (*CommandResponse, error) {
	step := stepFor(name)
	var resp CommandResponse
	if err := c.do(ctx, step, http.MethodPost, ExecutePath, CommandRequest{Name: name, Parameters: params}, &resp); err != nil {
		return nil, err
	}
	debug.Command(name, string(resp.State))
	return &resp, commandFailure(step, &resp)
}

// Status fetches the current state of a running command.
func (c *Client) Status(ctx context.Context, id string) (*CommandResponse, error) {
	var resp CommandResponse
	if err := c.do(ctx, StepStatus, http.MethodPost, StatusPath, StatusRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	debug.Trace("Status %s: %s", id, resp.State)
	return &resp, commandFailure(StepStatus, &resp)
}

func (c *Client) do(ctx context.Context, step Step, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return NewError(step, KindProtocol, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return NewError(step, KindTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}

	debug.Trace("%s %s", method, req.URL)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return NewError(step, KindCancelled, ctx.Err())
		}
		return NewError(step, KindTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return NewError(step, KindCancelled, ctx.Err())
		}
		return NewError(step, KindTransport, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failed CommandResponse
		if json.Unmarshal(data, &failed) == nil && failed.Error != nil {
			return NewError(step, KindProtocol, failed.Error)
		}
		return Errorf(step, KindTransport, "unexpected status %s", resp.Status)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return NewError(step, KindProtocol, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func commandFailure(step Step, resp *CommandResponse) error {
	if resp.Error != nil {
		return NewError(step, KindProtocol, resp.Error)
	}
	if resp.State == StateError {
		return NewError(step, KindProtocol, errors.New("command reported state error"))
	}
	return nil
}

// stepFor maps "camera.takePicture" to StepTakePicture.
func stepFor(name string) Step {
	return Step(strings.TrimPrefix(name, "camera."))
}
