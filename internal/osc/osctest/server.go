// Package osctest provides a scripted OSC camera for tests and local development.
package osctest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/cjeanneret/oscsync/internal/osc"
)

// Config scripts the camera behavior. Zero fields take the defaults of NewServer.
type Config struct {
	Model     string
	SessionID string
	CommandID string
	FileURI   string

	// SubmitState is the state answered to camera.takePicture.
	SubmitState osc.State
	// Statuses is consumed one entry per status call; the last entry repeats.
	Statuses []osc.State
	// TransportFailures lists 1-based status call numbers answered with a bare 503.
	TransportFailures []int

	StartSessionError *osc.CommandError
	// OmitSessionID answers startSession with done but no results.
	OmitSessionID bool
}

// Server is a fake camera on an httptest server.
type Server struct {
	*httptest.Server

	cfg Config

	mu          sync.Mutex
	statusCalls int
	requests    []string
	sessionIDs  []string
	timeouts    []int
}

// DefaultConfig scripts the nominal capture: session S1, command C1,
// two inProgress polls then done with img/100.jpg.
func DefaultConfig() Config {
	return Config{
		Model:       "RICOH THETA S",
		SessionID:   "S1",
		CommandID:   "C1",
		FileURI:     "img/100.jpg",
		SubmitState: osc.StateInProgress,
		Statuses:    []osc.State{osc.StateInProgress, osc.StateInProgress, osc.StateDone},
	}
}

// NewServer starts a fake camera. Call Close when done.
func NewServer(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.SessionID == "" {
		cfg.SessionID = def.SessionID
	}
	if cfg.CommandID == "" {
		cfg.CommandID = def.CommandID
	}
	if cfg.FileURI == "" {
		cfg.FileURI = def.FileURI
	}
	if cfg.SubmitState == "" {
		cfg.SubmitState = def.SubmitState
	}
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = def.Statuses
	}

	s := &Server{cfg: cfg}
	mux := http.NewServeMux()
	mux.HandleFunc(osc.InfoPath, s.handleInfo)
	mux.HandleFunc(osc.ExecutePath, s.handleExecute)
	mux.HandleFunc(osc.StatusPath, s.handleStatus)
	s.Server = httptest.NewServer(mux)
	return s
}

// StatusCalls returns how many status requests were served.
func (s *Server) StatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

// Requests returns the served requests as "info", "execute <name>" or "status <id>".
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// SubmittedSessions returns the sessionId of each takePicture request.
func (s *Server) SubmittedSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sessionIDs...)
}

// SessionTimeouts returns the timeout parameter of each startSession request.
func (s *Server) SessionTimeouts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.timeouts...)
}

func (s *Server) record(r string) {
	s.mu.Lock()
	s.requests = append(s.requests, r)
	s.mu.Unlock()
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.record("info")
	writeJSON(w, http.StatusOK, osc.Info{
		Manufacturer:    "RICOH",
		Model:           s.cfg.Model,
		SerialNumber:    "00000001",
		FirmwareVersion: "01.82",
		API:             []string{osc.InfoPath, osc.ExecutePath, osc.StatusPath},
		APILevel:        []int{1, 2},
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string          `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "", "invalidParameterValue", err.Error())
		return
	}
	s.record("execute " + req.Name)

	switch req.Name {
	case osc.CmdStartSession:
		var p osc.StartSessionParams
		_ = json.Unmarshal(req.Parameters, &p)
		s.mu.Lock()
		s.timeouts = append(s.timeouts, p.Timeout)
		s.mu.Unlock()

		if s.cfg.StartSessionError != nil {
			writeJSON(w, http.StatusOK, osc.CommandResponse{Name: req.Name, State: osc.StateError, Error: s.cfg.StartSessionError})
			return
		}
		resp := osc.CommandResponse{Name: req.Name, State: osc.StateDone}
		if !s.cfg.OmitSessionID {
			resp.Results = mustJSON(osc.StartSessionResults{SessionID: s.cfg.SessionID, Timeout: p.Timeout})
		}
		writeJSON(w, http.StatusOK, resp)

	case osc.CmdTakePicture:
		var p osc.TakePictureParams
		_ = json.Unmarshal(req.Parameters, &p)
		s.mu.Lock()
		s.sessionIDs = append(s.sessionIDs, p.SessionID)
		s.mu.Unlock()

		if p.SessionID != s.cfg.SessionID {
			writeFailure(w, http.StatusBadRequest, req.Name, "invalidParameterValue", "unknown session "+p.SessionID)
			return
		}
		writeJSON(w, http.StatusOK, s.commandState(req.Name, s.cfg.SubmitState, 0))

	default:
		writeFailure(w, http.StatusBadRequest, req.Name, "unknownCommand", req.Name)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req osc.StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "", "invalidParameterValue", err.Error())
		return
	}
	s.record("status " + req.ID)

	s.mu.Lock()
	s.statusCalls++
	n := s.statusCalls
	s.mu.Unlock()

	for _, f := range s.cfg.TransportFailures {
		if f == n {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
	}
	if req.ID != s.cfg.CommandID {
		writeFailure(w, http.StatusBadRequest, "", "invalidParameterValue", "unknown command "+req.ID)
		return
	}

	i := n - 1
	if i >= len(s.cfg.Statuses) {
		i = len(s.cfg.Statuses) - 1
	}
	writeJSON(w, http.StatusOK, s.commandState(osc.CmdTakePicture, s.cfg.Statuses[i], float64(n)/float64(len(s.cfg.Statuses))))
}

func (s *Server) commandState(name string, state osc.State, completion float64) osc.CommandResponse {
	resp := osc.CommandResponse{Name: name, State: state}
	switch state {
	case osc.StateDone:
		resp.Results = mustJSON(osc.TakePictureResults{FileURI: s.cfg.FileURI})
	case osc.StateInProgress:
		resp.ID = s.cfg.CommandID
		if completion > 1 {
			completion = 1
		}
		resp.Progress = &osc.Progress{Completion: completion}
	case osc.StateError:
		resp.ID = s.cfg.CommandID
		resp.Error = &osc.CommandError{Code: "cameraInExclusiveUse", Message: "capture failed"}
	}
	return resp
}

func writeFailure(w http.ResponseWriter, status int, name, code, msg string) {
	writeJSON(w, status, osc.CommandResponse{
		Name:  name,
		State: osc.StateError,
		Error: &osc.CommandError{Code: code, Message: strings.TrimSpace(msg)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
