package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/oscsync/internal/history"
)

// Event kinds carried in StatusEvent.Kind. Plain log lines have no kind.
const (
	KindConnection = "connection"
	KindProgress   = "progress"
	KindCapture    = "capture"
)

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string      `json:"t"`
	Level string      `json:"l,omitempty"`
	Kind  string      `json:"k,omitempty"`
	Msg   string      `json:"msg"`
	Data  interface{} `json:"data,omitempty"`
}

// ConnectionData is the payload of a connection event.
type ConnectionData struct {
	Connected bool `json:"connected"`
}

// ProgressData is the payload of a progress event.
type ProgressData struct {
	ID         string  `json:"id"`
	Completion float64 `json:"completion"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish stamps evt and sends it to all subscribed clients.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a plain message: {"t":"...","l":"info","msg":"..."}.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Connection announces a camera network transition.
func (b *StatusBroadcaster) Connection(connected bool) {
	msg := "Camera network disconnected"
	if connected {
		msg = "Camera network connected"
	}
	b.Publish(StatusEvent{Level: "info", Kind: KindConnection, Msg: msg, Data: ConnectionData{Connected: connected}})
}

// Progress announces the completion of a running camera command.
func (b *StatusBroadcaster) Progress(id string, completion float64) {
	b.Publish(StatusEvent{Kind: KindProgress, Msg: "in progress", Data: ProgressData{ID: id, Completion: completion}})
}

// Capture announces a finished capture.
func (b *StatusBroadcaster) Capture(c *history.Capture) {
	level, msg := "info", "Picture taken: "+c.FileURI
	if c.Outcome != history.OutcomeOK {
		level, msg = "error", "Capture failed ("+c.Outcome+"): "+c.Error
	}
	b.Publish(StatusEvent{Level: level, Kind: KindCapture, Msg: msg, Data: c})
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
