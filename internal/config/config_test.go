package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_Relative(t *testing.T) {
	if err := ValidateConfigPath(filepath.Join("configs", "default.yaml")); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
		"../configs/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	if err := ValidateConfigPath(long); err != nil {
		t.Errorf("long but well-formed path rejected: %v", err)
	}
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
network:
  backend: "mock"
  suffix: ".OSC"
  poll_interval_ms: 500
  connect_timeout_ms: 10000
  mock_networks: ["THETAYL00100100.OSC", "home"]
  mock_gateway: "192.168.1.1"
camera:
  type: "osc"
  model_marker: "THETA"
  session_timeout_s: 60
  status_interval_ms: 200
  status_retries: 30
  request_timeout_ms: 3000
panel:
  enabled: true
  led_pin: 17
  button_pin: 27
history:
  path: "captures.db"
  retention_days: 30
defaults:
  debug_level: 2
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Network.Backend != "mock" {
		t.Errorf("network.backend = %q, want mock", cfg.Network.Backend)
	}
	if len(cfg.Network.MockNetworks) != 2 {
		t.Errorf("mock_networks = %v, want 2 entries", cfg.Network.MockNetworks)
	}
	if cfg.Camera.SessionTimeoutS != 60 {
		t.Errorf("session_timeout_s = %d, want 60", cfg.Camera.SessionTimeoutS)
	}
	if cfg.Camera.StatusRetries != 30 {
		t.Errorf("status_retries = %d, want 30", cfg.Camera.StatusRetries)
	}
	if !cfg.Panel.Enabled || cfg.Panel.LEDPin != 17 || cfg.Panel.ButtonPin != 27 {
		t.Errorf("panel = %+v", cfg.Panel)
	}
	if cfg.History.Path != "captures.db" || cfg.History.RetentionDays != 30 {
		t.Errorf("history = %+v", cfg.History)
	}
	if cfg.Defaults.DebugLevel != 2 {
		t.Errorf("debug_level = %d, want 2", cfg.Defaults.DebugLevel)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	path := writeConfig(t, "{}")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Network.Backend != "nmcli" {
		t.Errorf("backend default = %q, want nmcli", cfg.Network.Backend)
	}
	if cfg.Network.Suffix != ".OSC" {
		t.Errorf("suffix default = %q, want .OSC", cfg.Network.Suffix)
	}
	if cfg.PollInterval() != time.Second {
		t.Errorf("PollInterval default = %v, want 1s", cfg.PollInterval())
	}
	if cfg.Camera.Type != "osc" {
		t.Errorf("camera.type default = %q, want osc", cfg.Camera.Type)
	}
	if cfg.Camera.ModelMarker != "THETA" {
		t.Errorf("model_marker default = %q, want THETA", cfg.Camera.ModelMarker)
	}
	if cfg.SessionTimeout() != 50*time.Second {
		t.Errorf("SessionTimeout default = %v, want 50s", cfg.SessionTimeout())
	}
	if cfg.StatusInterval() != 250*time.Millisecond {
		t.Errorf("StatusInterval default = %v, want 250ms", cfg.StatusInterval())
	}
	if cfg.Camera.StatusRetries != 20 {
		t.Errorf("status_retries default = %d, want 20", cfg.Camera.StatusRetries)
	}
	if cfg.RequestTimeout() != 5*time.Second {
		t.Errorf("RequestTimeout default = %v, want 5s", cfg.RequestTimeout())
	}
	if cfg.ButtonPoll() != 50*time.Millisecond {
		t.Errorf("ButtonPoll default = %v, want 50ms", cfg.ButtonPoll())
	}
	if cfg.PollBudget() != 5*time.Second {
		t.Errorf("PollBudget default = %v, want 5s", cfg.PollBudget())
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown_backend", "network:\n  backend: wpa\n"},
		{"unknown_camera_type", "camera:\n  type: ptp\n"},
		{"negative_retries", "camera:\n  status_retries: -1\n"},
		{"negative_session_timeout", "camera:\n  session_timeout_s: -5\n"},
		{"debug_level_too_high", "defaults:\n  debug_level: 5\n"},
		{"debug_level_negative", "defaults:\n  debug_level: -1\n"},
		{"panel_without_pins", "panel:\n  enabled: true\n"},
		{"panel_same_pins", "panel:\n  enabled: true\n  led_pin: 4\n  button_pin: 4\n"},
		{"negative_retention", "history:\n  path: /tmp/h.db\n  retention_days: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestLoad_PanelDisabledIgnoresPins(t *testing.T) {
	path := writeConfig(t, "panel:\n  enabled: false\n")
	if _, err := Load(path); err != nil {
		t.Errorf("disabled panel should not require pins: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "configs", "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "read config file") {
		t.Errorf("error should mention read failure, got: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "network: [unterminated")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "unmarshal yaml") {
		t.Errorf("error should mention yaml, got: %v", err)
	}
}
