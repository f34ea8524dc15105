package panel

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/oscsync/internal/debug"
	"github.com/cjeanneret/oscsync/internal/hw/gpio"
)

// Config holds the panel wiring. A zero pin disables that element.
type Config struct {
	LEDPin      int           // active HIGH
	ButtonPin   int           // to ground, pressed = LOW
	ButtonPoll  time.Duration // sampling period
	BlinkPeriod time.Duration // LED half-period while busy
}

// Panel drives a status LED and reads a shutter button.
//
// LED:
// - off: no camera network
// - steady: camera network attached
// - blinking: capture running
type Panel struct {
	gpio gpio.Driver
	cfg  Config

	mu        sync.Mutex
	connected bool
	blinkStop chan struct{}
	blinkDone chan struct{}
}

// New configures the pins and switches the LED off.
func New(g gpio.Driver, cfg Config) (*Panel, error) {
	if cfg.ButtonPoll <= 0 {
		cfg.ButtonPoll = 50 * time.Millisecond
	}
	if cfg.BlinkPeriod <= 0 {
		cfg.BlinkPeriod = 200 * time.Millisecond
	}
	if cfg.LEDPin > 0 {
		if err := g.SetupPin(cfg.LEDPin, gpio.Output); err != nil {
			return nil, err
		}
		if err := g.WritePin(cfg.LEDPin, gpio.Low); err != nil {
			return nil, err
		}
	}
	if cfg.ButtonPin > 0 {
		if err := g.SetupPin(cfg.ButtonPin, gpio.Input); err != nil {
			return nil, err
		}
	}
	debug.Verbose("Panel ready (led=%d, button=%d)", cfg.LEDPin, cfg.ButtonPin)
	return &Panel{gpio: g, cfg: cfg}, nil
}

// SetConnected shows the camera network state. While busy the LED keeps
// blinking and picks up the new state when the capture ends.
func (p *Panel) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
	if p.blinkStop == nil {
		p.led(connected)
	}
}

// SetBusy starts or stops blinking the LED.
func (p *Panel) SetBusy(busy bool) {
	if p.cfg.LEDPin <= 0 {
		return
	}
	p.mu.Lock()
	if busy {
		if p.blinkStop == nil {
			p.blinkStop = make(chan struct{})
			p.blinkDone = make(chan struct{})
			go p.blink(p.blinkStop, p.blinkDone)
		}
		p.mu.Unlock()
		return
	}
	stop, done := p.blinkStop, p.blinkDone
	p.blinkStop, p.blinkDone = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blinkStop == nil {
		p.led(p.connected)
	}
}

func (p *Panel) blink(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.BlinkPeriod)
	defer ticker.Stop()

	on := true
	p.led(on)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			on = !on
			p.led(on)
		}
	}
}

func (p *Panel) led(on bool) {
	if p.cfg.LEDPin <= 0 {
		return
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := p.gpio.WritePin(p.cfg.LEDPin, level); err != nil {
		debug.Verbose("Panel LED write failed: %v", err)
	}
}

// WaitPress blocks until the button goes from released to pressed.
// A press needs two consecutive LOW samples, and a button held down when
// WaitPress starts must be released first. Without a button it waits for ctx.
func (p *Panel) WaitPress(ctx context.Context) error {
	if p.cfg.ButtonPin <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(p.cfg.ButtonPoll)
	defer ticker.Stop()

	armed := false
	lows := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		level, err := p.gpio.ReadPin(p.cfg.ButtonPin)
		if err != nil {
			debug.Verbose("Panel button read failed: %v", err)
			continue
		}
		if level == gpio.High {
			armed = true
			lows = 0
			continue
		}
		if !armed {
			continue
		}
		lows++
		if lows >= 2 {
			debug.Live("Shutter button pressed")
			return nil
		}
	}
}

// Run calls onPress for each button press until ctx ends.
// onPress runs on the caller's goroutine, so presses during a capture are ignored.
func (p *Panel) Run(ctx context.Context, onPress func(ctx context.Context)) {
	for {
		if err := p.WaitPress(ctx); err != nil {
			return
		}
		onPress(ctx)
	}
}

// Close stops blinking and switches the LED off.
func (p *Panel) Close() {
	p.SetBusy(false)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.led(false)
}
