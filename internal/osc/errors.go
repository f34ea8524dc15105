package osc

import (
	"errors"
	"fmt"
)

// Kind classifies why a capture step failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport: the request could not be sent or no usable response came back.
	KindTransport
	// KindProtocol: the camera answered with an error or a malformed body.
	KindProtocol
	// KindIncompatible: the device model does not carry the expected marker.
	KindIncompatible
	// KindTimeout: the status poll budget ran out before the command finished.
	KindTimeout
	// KindCancelled: the caller's context ended.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindIncompatible:
		return "incompatible"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Step names the protocol step an error belongs to.
type Step string

const (
	StepProbe        Step = "probe"
	StepStartSession Step = "startSession"
	StepTakePicture  Step = "takePicture"
	StepStatus       Step = "status"
)

// Error is the failure type of every OSC operation.
type Error struct {
	Step Step
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(step Step, kind Kind, err error) *Error {
	return &Error{Step: step, Kind: kind, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(step Step, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Step: step, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain,
// or KindUnknown when there is none.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}

// StepOf returns the step of the first *Error in err's chain, or "".
func StepOf(err error) Step {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Step
	}
	return ""
}
