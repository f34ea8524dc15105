package osc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second, nil)
}

func TestNewClient_BaseURL(t *testing.T) {
	cases := map[string]string{
		"10.40.0.1":              "http://10.40.0.1",
		"http://10.40.0.1/":      "http://10.40.0.1",
		"https://cam.local:8443": "https://cam.local:8443",
	}
	for in, want := range cases {
		if got := NewClient(in, time.Second, nil).BaseURL(); got != want {
			t.Errorf("NewClient(%q).BaseURL() = %q, want %q", in, got, want)
		}
	}
}

func TestInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/osc/info" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		io.WriteString(w, `{"manufacturer":"RICOH","model":"RICOH THETA S","serialNumber":"1","firmwareVersion":"01.82",
			"supportUrl":"https://theta360.com","gps":false,"gyro":true,"uptime":42,"api":["/osc/info"],"apiLevel":[1,2]}`)
	})

	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Model != "RICOH THETA S" || !info.Gyro || info.Uptime != 42 || len(info.APILevel) != 2 {
		t.Errorf("info = %+v", info)
	}
}

func TestExecute_WireFormat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/osc/commands/execute" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json;charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"camera.startSession","parameters":{"timeout":50}}` {
			t.Errorf("body = %s", body)
		}
		io.WriteString(w, `{"name":"camera.startSession","state":"done","results":{"sessionId":"S1","timeout":50}}`)
	})

	resp, err := c.Execute(context.Background(), CmdStartSession, StartSessionParams{Timeout: 50})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var res StartSessionResults
	if err := resp.DecodeResults(&res); err != nil {
		t.Fatalf("DecodeResults: %v", err)
	}
	if res.SessionID != "S1" || res.Timeout != 50 {
		t.Errorf("results = %+v", res)
	}
}

func TestExecute_NilParametersSentAsNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"camera.listFiles","parameters":null}` {
			t.Errorf("body = %s", body)
		}
		io.WriteString(w, `{"name":"camera.listFiles","state":"done"}`)
	})
	if _, err := c.Execute(context.Background(), "camera.listFiles", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecute_ErrorField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"name":"camera.startSession","state":"error","error":{"code":"disabledCommand","message":"no"}}`)
	})
	resp, err := c.Execute(context.Background(), CmdStartSession, StartSessionParams{Timeout: 50})
	if KindOf(err) != KindProtocol {
		t.Fatalf("kind = %v, want protocol (err %v)", KindOf(err), err)
	}
	if StepOf(err) != StepStartSession {
		t.Errorf("step = %q", StepOf(err))
	}
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Code != "disabledCommand" {
		t.Errorf("error chain should carry the command error, got %v", err)
	}
	if resp == nil || resp.State != StateError {
		t.Errorf("response should still be returned, got %+v", resp)
	}
}

func TestStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req StatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID != "C1" {
			t.Errorf("status request = %+v, %v", req, err)
		}
		io.WriteString(w, `{"name":"camera.takePicture","state":"inProgress","id":"C1","progress":{"completion":0.5}}`)
	})
	resp, err := c.Status(context.Background(), "C1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.State != StateInProgress || resp.Completion() != 0.5 || resp.ID != "C1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHTTPFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"error_body", http.StatusBadRequest, `{"state":"error","error":{"code":"invalidParameterValue","message":"x"}}`, KindProtocol},
		{"plain_503", http.StatusServiceUnavailable, "busy", KindTransport},
		{"json_without_error", http.StatusInternalServerError, `{"state":"error"}`, KindTransport},
		{"malformed_200", http.StatusOK, `{"state":`, KindProtocol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			_, err := c.Status(context.Background(), "C1")
			if KindOf(err) != tc.want {
				t.Errorf("kind = %v, want %v (err %v)", KindOf(err), tc.want, err)
			}
		})
	}
}

func TestTransportFailure_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second, nil).Info(context.Background())
	if KindOf(err) != KindTransport {
		t.Errorf("kind = %v, want transport (err %v)", KindOf(err), err)
	}
	if StepOf(err) != StepProbe {
		t.Errorf("step = %q, want probe", StepOf(err))
	}
}

func TestCancelledRequest(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Status(ctx, "C1")
	if KindOf(err) != KindCancelled {
		t.Errorf("kind = %v, want cancelled (err %v)", KindOf(err), err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled: %v", err)
	}
}

func TestCustomDialer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"model":"THETA"}`)
	}))
	defer srv.Close()

	var dials atomic.Int32
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials.Add(1)
		var d net.Dialer
		return d.DialContext(ctx, network, strings.TrimPrefix(srv.URL, "http://"))
	}
	// The host is unroutable on purpose; only the custom dialer can reach the server.
	c := NewClient("10.255.255.1", time.Second, dial)
	if _, err := c.Info(context.Background()); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if dials.Load() == 0 {
		t.Error("custom dialer was not used")
	}
}

func TestKind_String(t *testing.T) {
	want := map[Kind]string{
		KindTransport:    "transport",
		KindProtocol:     "protocol",
		KindIncompatible: "incompatible",
		KindTimeout:      "timeout",
		KindCancelled:    "cancelled",
		KindUnknown:      "unknown",
	}
	for k, s := range want {
		if k.String() != s {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), s)
		}
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := Errorf(StepStatus, KindTimeout, "budget exhausted")
	wrapped := errors.Join(errors.New("capture"), err)
	if KindOf(wrapped) != KindTimeout {
		t.Errorf("KindOf(wrapped) = %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain errors should be KindUnknown")
	}
	if KindOf(nil) != KindUnknown {
		t.Error("nil should be KindUnknown")
	}
}

func TestDecodeResults_Missing(t *testing.T) {
	for _, raw := range []string{"", "null"} {
		r := &CommandResponse{Results: json.RawMessage(raw)}
		var v TakePictureResults
		if err := r.DecodeResults(&v); !errors.Is(err, ErrNoResults) {
			t.Errorf("DecodeResults(%q) = %v, want ErrNoResults", raw, err)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	if !StateDone.Terminal() || !StateError.Terminal() {
		t.Error("done and error are terminal")
	}
	if StateInProgress.Terminal() || StateIdle.Terminal() {
		t.Error("idle and inProgress are not terminal")
	}
}
