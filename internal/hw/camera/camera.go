package camera

import (
	"context"
	"errors"
)

// ErrNoCamera is returned by Shoot when no camera is configured.
var ErrNoCamera = errors.New("no camera configured")

// Camera triggers exposures, whatever the transport (wired remote, USB,
// network).
type Camera interface {
	// Shoot takes one exposure and returns once the shutter is released.
	Shoot(ctx context.Context) error
}

// None is the Camera used when the slider runs without a trigger cable.
type None struct{}

func (None) Shoot(context.Context) error { return ErrNoCamera }
