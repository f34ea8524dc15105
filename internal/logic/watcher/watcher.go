package watcher

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/oscsync/internal/debug"
	"github.com/cjeanneret/oscsync/internal/hw/wifi"
)

// Config holds the watcher parameters.
type Config struct {
	Suffix   string        // camera SSID marker, e.g. ".OSC"
	Interval time.Duration // poll period
}

// Watcher polls the Wi-Fi driver and reports attach/detach of a camera network.
// It delivers one notification per observed transition to a single subscriber.
// Driver failures count as "disconnected"; the watcher has no error channel.
type Watcher struct {
	drv wifi.Driver
	cfg Config

	mu        sync.Mutex
	state     bool
	running   bool
	stop      chan struct{}
	done      chan struct{}
	subID     uint64
	subscribe func(connected bool)
	notifying chan struct{} // stop channel of the loop currently inside the subscriber
}

// New creates a watcher. Zero config fields fall back to ".OSC" and one second.
func New(drv wifi.Driver, cfg Config) *Watcher {
	if cfg.Suffix == "" {
		cfg.Suffix = ".OSC"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Watcher{drv: drv, cfg: cfg}
}

// IsConnected reports whether the radio is on and the associated network is a
// camera network that the platform marks as current.
func (w *Watcher) IsConnected() bool {
	on, err := w.drv.WifiEnabled()
	if err != nil || !on {
		return false
	}
	active, err := w.drv.ActiveNetworkID()
	if err != nil || active == "" {
		return false
	}
	nets, err := w.cameraNetworks()
	if err != nil {
		return false
	}
	for _, n := range nets {
		if n.ID == active && n.Current {
			return true
		}
	}
	return false
}

// KnownNetworks returns the configured camera network names in ascending order.
func (w *Watcher) KnownNetworks() []string {
	nets, err := w.cameraNetworks()
	if err != nil {
		debug.Trace("list camera networks: %v", err)
		return nil
	}
	names := make([]string, 0, len(nets))
	for _, n := range nets {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names
}

// AttemptConnect asks the platform to associate with the named configured network.
// It returns false when the name is unknown or the request is refused;
// true only means the request was accepted.
func (w *Watcher) AttemptConnect(name string) bool {
	nets, err := w.drv.ConfiguredNetworks()
	if err != nil {
		debug.Trace("list configured networks: %v", err)
		return false
	}
	for _, n := range nets {
		if n.Name != name {
			continue
		}
		if err := w.drv.EnableNetwork(n.ID); err != nil {
			debug.Verbose("Enable %s failed: %v", name, err)
			return false
		}
		debug.Live("Association with %s requested", name)
		return true
	}
	debug.Verbose("Network %s is not configured", name)
	return false
}

// BindTrafficToWifi routes later connections made through the driver over the
// first Wi-Fi interface. Camera networks usually have no internet egress, so
// the default route would otherwise go elsewhere.
func (w *Watcher) BindTrafficToWifi() bool {
	ifaces, err := w.drv.Interfaces()
	if err != nil {
		debug.Trace("list interfaces: %v", err)
		return false
	}
	for _, i := range ifaces {
		if i.Type != wifi.TypeWiFi {
			continue
		}
		if err := w.drv.Bind(i.Handle); err != nil {
			debug.Verbose("Bind %s failed: %v", i.Handle, err)
			return false
		}
		debug.Verbose("Traffic bound to %s", i.Handle)
		return true
	}
	return false
}

// GatewayAddress returns the Wi-Fi gateway as dotted quad.
func (w *Watcher) GatewayAddress() (string, error) {
	v, err := w.drv.Gateway()
	if err != nil {
		return "", err
	}
	if v == 0 {
		return "", errors.New("gateway address is unset")
	}
	return wifi.FormatGateway(v), nil
}

// State returns the connection state recorded by the last tick
// (or by Start when no tick ran yet).
func (w *Watcher) State() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe registers fn as the only subscriber, replacing any previous one.
// The returned cancel removes fn; it is a no-op once fn has been replaced.
func (w *Watcher) Subscribe(fn func(connected bool)) (cancel func()) {
	w.mu.Lock()
	w.subID++
	id := w.subID
	w.subscribe = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.subID == id {
			w.subscribe = nil
		}
	}
}

// Start captures the current state silently and begins polling.
// Calling Start on a running watcher does nothing.
func (w *Watcher) Start() {
	initial := w.IsConnected()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.state = initial
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	debug.Verbose("Watcher started (connected=%v, every %v)", w.state, w.cfg.Interval)
	go w.loop(w.stop, w.done)
}

// Stop halts polling and waits for an in-flight tick to finish.
// Called while the subscriber runs (e.g. from the subscriber itself),
// it returns without waiting; the loop exits once the subscriber returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stop, done := w.stop, w.done
	inSubscriber := w.notifying != nil && w.notifying == stop
	w.mu.Unlock()

	close(stop)
	if !inSubscriber {
		<-done
	}
	debug.Verbose("Watcher stopped")
}

// loop is the single poll goroutine; ticks never overlap.
func (w *Watcher) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick compares a fresh reading with the recorded state and notifies on change.
func (w *Watcher) tick() {
	now := w.IsConnected()

	w.mu.Lock()
	changed := now != w.state
	w.state = now
	fn := w.subscribe
	loop := w.stop
	if changed && fn != nil {
		w.notifying = loop
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	debug.Transition(now)
	if fn == nil {
		return
	}
	defer func() {
		w.mu.Lock()
		if w.notifying == loop {
			w.notifying = nil
		}
		w.mu.Unlock()
	}()
	fn(now)
}

// cameraNetworks returns the configured networks whose name ends with the suffix.
func (w *Watcher) cameraNetworks() ([]wifi.Network, error) {
	nets, err := w.drv.ConfiguredNetworks()
	if err != nil {
		return nil, err
	}
	out := nets[:0:0]
	for _, n := range nets {
		if strings.HasSuffix(n.Name, w.cfg.Suffix) {
			out = append(out, n)
		}
	}
	return out, nil
}
