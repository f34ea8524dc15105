package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/oscsync/internal/config"
	"github.com/cjeanneret/oscsync/internal/debug"
	"github.com/cjeanneret/oscsync/internal/history"
	"github.com/cjeanneret/oscsync/internal/hw/camera"
	"github.com/cjeanneret/oscsync/internal/hw/gpio"
	"github.com/cjeanneret/oscsync/internal/hw/panel"
	"github.com/cjeanneret/oscsync/internal/hw/wifi"
	"github.com/cjeanneret/oscsync/internal/logic/capture"
	"github.com/cjeanneret/oscsync/internal/logic/watcher"
	"github.com/cjeanneret/oscsync/internal/osc"
	"github.com/cjeanneret/oscsync/internal/osc/osctest"
	"github.com/cjeanneret/oscsync/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	network := flag.String("network", "", "camera network to join when several are configured")
	watch := flag.Bool("watch", false, "only report camera network attach/detach until interrupted")
	count := flag.Int("count", 1, "number of pictures to take (1-1000)")
	interval := flag.Duration("interval", 0, "delay between the start of two pictures of a series")
	flag.Parse()

	if err := validateSeriesFlags(*count, *interval); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	// Wi-Fi driver and watcher
	debug.Step(1, "Initializing Wi-Fi driver")
	debug.Value("Network backend", cfg.Network.Backend)
	wifiDriver, err := wifi.NewDriver(cfg.Network.Backend == "mock", cfg.Network.MockNetworks, cfg.Network.MockGateway)
	if err != nil {
		log.Fatalf("init Wi-Fi failed: %v", err)
	}
	defer func() {
		if err := wifiDriver.Close(); err != nil {
			log.Printf("closing Wi-Fi driver failed: %v", err)
		}
	}()
	w := watcher.New(wifiDriver, watcher.Config{Suffix: cfg.Network.Suffix, Interval: cfg.PollInterval()})
	debug.Value("Suffix", cfg.Network.Suffix)
	debug.Value("Poll interval", cfg.PollInterval())

	// Status panel
	debug.Step(2, "Initializing GPIO panel")
	var pnl *panel.Panel
	if cfg.Panel.Enabled {
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		pnl, err = panel.New(gpioDriver, panel.Config{
			LEDPin:     cfg.Panel.LEDPin,
			ButtonPin:  cfg.Panel.ButtonPin,
			ButtonPoll: cfg.ButtonPoll(),
		})
		if err != nil {
			log.Fatalf("init panel failed: %v", err)
		}
		defer pnl.Close()
		debug.PrintStruct("Panel config", cfg.Panel)
	}

	// Capture history
	debug.Step(3, "Opening capture history")
	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			log.Fatalf("open history failed: %v", err)
		}
		defer store.Close()
		debug.Value("History", cfg.History.Path)
		if cfg.History.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
			if n, err := store.DeleteBefore(ctx, cutoff); err != nil {
				debug.Error(fmt.Errorf("prune history: %w", err))
			} else if n > 0 {
				debug.Info("Pruned %d captures older than %d days", n, cfg.History.RetentionDays)
			}
		}
	}

	// Camera
	debug.Step(4, "Initializing camera")
	debug.Value("Camera type", cfg.Camera.Type)
	host, dial := cfg.Camera.Host, osc.DialFunc(wifiDriver.DialContext)
	if cfg.Camera.Type == "mock" {
		sim := osctest.NewServer(osctest.DefaultConfig())
		defer sim.Close()
		host, dial = sim.URL, nil
		debug.Info("Using MOCK camera at %s (development mode)", host)
	}
	debug.PrintStruct("Camera config", cfg.Camera)

	camCfg := camera.OSCConfig{
		ModelMarker:    cfg.Camera.ModelMarker,
		SessionTimeout: cfg.SessionTimeout(),
		StatusInterval: cfg.StatusInterval(),
		StatusRetries:  cfg.Camera.StatusRetries,
	}
	if broadcaster != nil {
		camCfg.OnProgress = broadcaster.Progress
	}
	newCamera := func(host string) camera.Camera {
		return camera.NewOSCCamera(osc.NewClient(host, cfg.RequestTimeout(), dial), camCfg)
	}

	runner := capture.NewRunner(w, newCamera, capture.Config{
		Host:           host,
		ConnectTimeout: cfg.ConnectTimeout(),
	})
	if store != nil {
		runner.History = store
	}
	if pnl != nil {
		runner.Indicator = pnl
	}
	if broadcaster != nil {
		runner.OnCapture = broadcaster.Capture
	}

	// Watch for camera networks
	debug.Step(5, "Starting network watcher")
	w.Start()
	defer w.Stop()
	unsubscribe := w.Subscribe(connectionNotifier(pnl, broadcaster))
	defer unsubscribe()
	if pnl != nil {
		pnl.SetConnected(w.State())
		go pnl.Run(ctx, func(ctx context.Context) {
			if _, err := runner.Run(ctx); err != nil {
				debug.Error(fmt.Errorf("button capture: %w", err))
			}
		})
	}

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		view := web.ConfigView{
			Suffix:           cfg.Network.Suffix,
			Host:             cfg.Camera.Host,
			ModelMarker:      cfg.Camera.ModelMarker,
			SessionTimeoutS:  cfg.Camera.SessionTimeoutS,
			StatusIntervalMs: cfg.Camera.StatusIntervalMs,
			StatusRetries:    cfg.Camera.StatusRetries,
			HistoryEnabled:   store != nil,
		}
		var captures web.CaptureLister
		if store != nil {
			captures = store
		}
		srv := web.NewServer(webAddr, broadcaster, runner, w, captures, view)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	if *watch {
		debug.Summary("Watching camera networks")
		<-ctx.Done()
		return
	}

	if err := captureOnce(ctx, runner, host, *network, *count, *interval, os.Stdout); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// connectionNotifier forwards watcher transitions to the panel LED and the
// status stream. The watcher logs transitions itself.
func connectionNotifier(pnl *panel.Panel, b *web.StatusBroadcaster) func(connected bool) {
	return func(connected bool) {
		if pnl != nil {
			pnl.SetConnected(connected)
		}
		if b != nil {
			b.Connection(connected)
		}
	}
}

// seriesRunner is the part of capture.Runner used from the command line.
type seriesRunner interface {
	EnsureConnected(ctx context.Context, preferred string) (string, error)
	Run(ctx context.Context) (*history.Capture, error)
	RunSeries(ctx context.Context, p capture.SeriesParams) ([]*history.Capture, error)
}

// captureOnce joins a camera network unless host is fixed, takes count
// pictures and prints one file URI per line to out.
func captureOnce(ctx context.Context, r seriesRunner, host, network string, count int, interval time.Duration, out io.Writer) error {
	if host == "" {
		name, err := r.EnsureConnected(ctx, network)
		if err != nil {
			return err
		}
		debug.Value("Camera network", name)
	}

	debug.Section("Capture")
	if count <= 1 {
		rec, err := r.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, rec.FileURI)
		return nil
	}

	recs, err := r.RunSeries(ctx, capture.SeriesParams{Count: count, Interval: interval})
	for _, rec := range recs {
		if rec.Outcome == history.OutcomeOK {
			fmt.Fprintln(out, rec.FileURI)
		}
	}
	debug.Section("Series Complete")
	return err
}

// validateSeriesFlags checks -count and -interval.
func validateSeriesFlags(count int, interval time.Duration) error {
	if count < 1 || count > 1000 {
		return fmt.Errorf("count must be between 1 and 1000, got %d", count)
	}
	if interval < 0 {
		return fmt.Errorf("interval must be >= 0, got %v", interval)
	}
	if count == 1 && interval > 0 {
		return errors.New("interval needs count > 1")
	}
	return nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
