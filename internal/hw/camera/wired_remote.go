package camera

import (
	"context"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// WiredRemoteConfig holds the pins and timings of a 3-wire remote release.
type WiredRemoteConfig struct {
	FocusPin     int
	ShutterPin   int
	FocusDelay   time.Duration // time for autofocus
	ShutterDelay time.Duration // shutter hold time
}

// WiredRemote triggers a camera through its 3-wire remote connector
// (Nikon MC-DC1 on the D90, Canon N3/E3 share the wiring):
// - GND: connected to Raspberry Pi ground
// - FOCUS: half-press, active LOW
// - SHUTTER: full press, active LOW
//
// Trigger sequence: FOCUS low, wait for AF, SHUTTER low, hold, then release
// SHUTTER and FOCUS.
type WiredRemote struct {
	gpio gpio.Driver
	cfg  WiredRemoteConfig
}

// NewWiredRemote configures both lines as outputs, released (HIGH).
func NewWiredRemote(g gpio.Driver, cfg WiredRemoteConfig) *WiredRemote {
	_ = g.SetupPin(cfg.FocusPin, gpio.Output)
	_ = g.SetupPin(cfg.ShutterPin, gpio.Output)
	_ = g.WritePin(cfg.FocusPin, gpio.High)
	_ = g.WritePin(cfg.ShutterPin, gpio.High)

	return &WiredRemote{gpio: g, cfg: cfg}
}

// Shoot runs one focus/shutter cycle. If ctx is cancelled mid-cycle both
// lines are released and ctx.Err() is returned.
func (w *WiredRemote) Shoot(ctx context.Context) (err error) {
	debug.Printf("Camera: triggering shot (focus=%d, shutter=%d)", w.cfg.FocusPin, w.cfg.ShutterPin)

	defer func() {
		if err != nil {
			w.release()
		}
	}()

	debug.Verbose("Camera: FOCUS pin %d -> LOW", w.cfg.FocusPin)
	if err := w.gpio.WritePin(w.cfg.FocusPin, gpio.Low); err != nil {
		return err
	}
	if err := wait(ctx, w.cfg.FocusDelay); err != nil {
		return err
	}

	debug.Verbose("Camera: SHUTTER pin %d -> LOW", w.cfg.ShutterPin)
	if err := w.gpio.WritePin(w.cfg.ShutterPin, gpio.Low); err != nil {
		return err
	}
	if err := wait(ctx, w.cfg.ShutterDelay); err != nil {
		return err
	}

	if err := w.gpio.WritePin(w.cfg.ShutterPin, gpio.High); err != nil {
		return err
	}
	if err := w.gpio.WritePin(w.cfg.FocusPin, gpio.High); err != nil {
		return err
	}

	debug.Verbose("Camera: shot triggered")
	return nil
}

func (w *WiredRemote) release() {
	_ = w.gpio.WritePin(w.cfg.ShutterPin, gpio.High)
	_ = w.gpio.WritePin(w.cfg.FocusPin, gpio.High)
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
