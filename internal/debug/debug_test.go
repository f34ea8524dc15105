package debug

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func withOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Init(LevelOff)
	})
	return &buf
}

func TestInit_OffPrintsNothing(t *testing.T) {
	buf := withOutput(t, LevelOff)
	Info("hello %d", 1)
	Error(os.ErrNotExist)
	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
}

func TestLevels_Filtering(t *testing.T) {
	buf := withOutput(t, LevelLive)
	Info("info line")
	Live("live line")
	Verbose("verbose line")
	Trace("trace line")

	got := buf.String()
	if !strings.Contains(got, "[INFO] info line") {
		t.Error("info line missing at level 2")
	}
	if !strings.Contains(got, "[LIVE] live line") {
		t.Error("live line missing at level 2")
	}
	if strings.Contains(got, "verbose line") || strings.Contains(got, "trace line") {
		t.Errorf("levels above 2 leaked: %q", got)
	}
}

func TestTransition(t *testing.T) {
	buf := withOutput(t, LevelInfo)
	Transition(true)
	Transition(false)

	got := buf.String()
	if !strings.Contains(got, "OSC device connected") {
		t.Errorf("missing connected line: %q", got)
	}
	if !strings.Contains(got, "OSC device disconnected") {
		t.Errorf("missing disconnected line: %q", got)
	}
}

func TestProgress_Percent(t *testing.T) {
	buf := withOutput(t, LevelLive)
	Progress("C1", 0.5)
	if !strings.Contains(buf.String(), "Command C1: 50%") {
		t.Errorf("unexpected progress line: %q", buf.String())
	}
}

func TestFmt_DisabledReturnsEmpty(t *testing.T) {
	withOutput(t, LevelOff)
	if s := Fmt("x=%d", 1); s != "" {
		t.Errorf("Fmt should be empty when disabled, got %q", s)
	}
	Init(LevelInfo)
	if s := Fmt("x=%d", 1); s != "x=1" {
		t.Errorf("Fmt = %q, want x=1", s)
	}
}
