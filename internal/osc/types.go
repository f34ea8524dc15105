package osc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command names used by the capture flow.
const (
	CmdStartSession = "camera.startSession"
	CmdTakePicture  = "camera.takePicture"
)

// State is the lifecycle state of a command on the camera.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "inProgress"
	StateDone       State = "done"
	StateError      State = "error"
)

// Terminal reports whether no further state change is expected.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Info is the body of GET /osc/info.
type Info struct {
	Manufacturer    string   `json:"manufacturer"`
	Model           string   `json:"model"`
	SerialNumber    string   `json:"serialNumber"`
	FirmwareVersion string   `json:"firmwareVersion"`
	SupportURL      string   `json:"supportUrl"`
	GPS             bool     `json:"gps"`
	Gyro            bool     `json:"gyro"`
	Uptime          int      `json:"uptime"`
	API             []string `json:"api"`
	APILevel        []int    `json:"apiLevel"`
}

// CommandRequest is the body of POST /osc/commands/execute.
// A nil Parameters is sent as JSON null.
type CommandRequest struct {
	Name       string      `json:"name"`
	Parameters interface{} `json:"parameters"`
}

// StatusRequest is the body of POST /osc/commands/status.
type StatusRequest struct {
	ID string `json:"id"`
}

// CommandError is the error object a camera attaches to a failed command.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Progress is attached to inProgress responses. Completion is in [0,1].
type Progress struct {
	Completion float64 `json:"completion"`
}

// CommandResponse is returned by both execute and status.
type CommandResponse struct {
	Name     string          `json:"name"`
	State    State           `json:"state"`
	ID       string          `json:"id,omitempty"`
	Results  json.RawMessage `json:"results,omitempty"`
	Error    *CommandError   `json:"error,omitempty"`
	Progress *Progress       `json:"progress,omitempty"`
}

// ErrNoResults is returned by DecodeResults when the response carries no results.
var ErrNoResults = errors.New("response has no results")

// DecodeResults unmarshals the results payload into v.
func (r *CommandResponse) DecodeResults(v interface{}) error {
	if len(r.Results) == 0 || string(r.Results) == "null" {
		return ErrNoResults
	}
	if err := json.Unmarshal(r.Results, v); err != nil {
		return fmt.Errorf("decode %s results: %w", r.Name, err)
	}
	return nil
}

// Completion returns the reported progress, or 0 when absent.
func (r *CommandResponse) Completion() float64 {
	if r.Progress == nil {
		return 0
	}
	return r.Progress.Completion
}

// StartSessionParams are the parameters of camera.startSession. Timeout is in seconds.
type StartSessionParams struct {
	Timeout int `json:"timeout"`
}

type StartSessionResults struct {
	SessionID string `json:"sessionId"`
	Timeout   int    `json:"timeout"`
}

type TakePictureParams struct {
	SessionID string `json:"sessionId"`
}

type TakePictureResults struct {
	FileURI string `json:"fileUri"`
}
