package camera

import "context"

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's reached
// (OSC over Wi-Fi today).
type Camera interface {
	// Shoot takes one picture and returns the camera-side file reference.
	Shoot(ctx context.Context) (string, error)
}
