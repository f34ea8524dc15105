package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/oscsync/internal/config"
	"github.com/cjeanneret/oscsync/internal/debug"
	"github.com/cjeanneret/oscsync/internal/history"
	"github.com/cjeanneret/oscsync/internal/logic/capture"
	"github.com/cjeanneret/oscsync/internal/web"
)

// ---------- validateSeriesFlags ----------

func TestValidateSeriesFlags(t *testing.T) {
	cases := []struct {
		name     string
		count    int
		interval time.Duration
		valid    bool
	}{
		{"single", 1, 0, true},
		{"series", 10, 2 * time.Second, true},
		{"series_no_wait", 3, 0, true},
		{"max_count", 1000, 0, true},
		{"zero_count", 0, 0, false},
		{"count_too_large", 1001, 0, false},
		{"negative_interval", 3, -time.Second, false},
		{"interval_single", 1, time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSeriesFlags(tc.count, tc.interval)
			if tc.valid && err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- captureOnce ----------

type fakeRunner struct {
	connectErr error
	preferred  []string
	runs       int
	series     []capture.SeriesParams
	recs       []*history.Capture
	err        error
}

func (f *fakeRunner) EnsureConnected(ctx context.Context, preferred string) (string, error) {
	f.preferred = append(f.preferred, preferred)
	return "THETA001.OSC", f.connectErr
}

func (f *fakeRunner) Run(ctx context.Context) (*history.Capture, error) {
	f.runs++
	return f.recs[0], f.err
}

func (f *fakeRunner) RunSeries(ctx context.Context, p capture.SeriesParams) ([]*history.Capture, error) {
	f.series = append(f.series, p)
	return f.recs, f.err
}

func okCapture(uri string) *history.Capture {
	return &history.Capture{Outcome: history.OutcomeOK, FileURI: uri}
}

func TestCaptureOnce_Single(t *testing.T) {
	r := &fakeRunner{recs: []*history.Capture{okCapture("img/1.jpg")}}
	var out bytes.Buffer

	if err := captureOnce(context.Background(), r, "", "THETA001.OSC", 1, 0, &out); err != nil {
		t.Fatalf("captureOnce: %v", err)
	}
	if out.String() != "img/1.jpg\n" {
		t.Errorf("output = %q", out.String())
	}
	if len(r.preferred) != 1 || r.preferred[0] != "THETA001.OSC" {
		t.Errorf("EnsureConnected calls = %v", r.preferred)
	}
	if r.runs != 1 || len(r.series) != 0 {
		t.Errorf("runs = %d, series = %v", r.runs, r.series)
	}
}

func TestCaptureOnce_FixedHostSkipsConnect(t *testing.T) {
	r := &fakeRunner{recs: []*history.Capture{okCapture("img/1.jpg")}}
	if err := captureOnce(context.Background(), r, "192.168.1.1", "", 1, 0, &bytes.Buffer{}); err != nil {
		t.Fatalf("captureOnce: %v", err)
	}
	if len(r.preferred) != 0 {
		t.Error("EnsureConnected must not be called with a fixed host")
	}
}

func TestCaptureOnce_ConnectFailure(t *testing.T) {
	r := &fakeRunner{connectErr: capture.ErrNoKnownNetworks}
	err := captureOnce(context.Background(), r, "", "", 1, 0, &bytes.Buffer{})
	if !errors.Is(err, capture.ErrNoKnownNetworks) {
		t.Errorf("err = %v, want ErrNoKnownNetworks", err)
	}
	if r.runs != 0 {
		t.Error("no capture without a network")
	}
}

func TestCaptureOnce_RunFailure(t *testing.T) {
	boom := errors.New("boom")
	r := &fakeRunner{recs: []*history.Capture{{Outcome: "failed"}}, err: boom}
	var out bytes.Buffer
	if err := captureOnce(context.Background(), r, "h", "", 1, 0, &out); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing", out.String())
	}
}

func TestCaptureOnce_SeriesPrintsSuccessfulURIs(t *testing.T) {
	boom := errors.New("boom")
	r := &fakeRunner{
		recs: []*history.Capture{okCapture("img/1.jpg"), {Outcome: "timeout"}, okCapture("img/3.jpg")},
		err:  boom,
	}
	var out bytes.Buffer

	err := captureOnce(context.Background(), r, "h", "", 3, time.Second, &out)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if out.String() != "img/1.jpg\nimg/3.jpg\n" {
		t.Errorf("output = %q", out.String())
	}
	want := capture.SeriesParams{Count: 3, Interval: time.Second}
	if len(r.series) != 1 || r.series[0] != want {
		t.Errorf("series = %+v, want %+v", r.series, want)
	}
}

// ---------- connectionNotifier ----------

func TestConnectionNotifier_BroadcastsOnceWithoutLogging(t *testing.T) {
	var logs bytes.Buffer
	debug.SetOutput(&logs)
	debug.Init(debug.LevelInfo)
	defer func() {
		debug.SetOutput(os.Stdout)
		debug.Init(debug.LevelOff)
	}()

	b := web.NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	connectionNotifier(nil, b)(true)

	select {
	case msg := <-ch:
		if !strings.Contains(msg, `"k":"connection"`) {
			t.Errorf("event = %s, want a connection event", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no connection event")
	}
	select {
	case msg := <-ch:
		t.Errorf("unexpected second event: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
	if logs.Len() != 0 {
		t.Errorf("transition logged again by the notifier: %q", logs.String())
	}
}

func TestConnectionNotifier_NothingWired(t *testing.T) {
	connectionNotifier(nil, nil)(false)
}

// ---------- shipped config ----------

func TestDefaultConfigLoads(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.Suffix != ".OSC" || cfg.Camera.Type != "osc" {
		t.Errorf("network = %+v, camera = %+v", cfg.Network, cfg.Camera)
	}
	if cfg.PollBudget() != 5*time.Second {
		t.Errorf("PollBudget = %v, want 5s", cfg.PollBudget())
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}
