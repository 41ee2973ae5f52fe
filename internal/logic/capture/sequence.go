package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/camera"
	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// Holder switches the motor driver's holding torque.
type Holder interface {
	Enable() error
	Disable() error
}

// Sequence contains high-level capture logic built on the slider
// (interval runs between the move bookmarks).
type Sequence struct {
	motion *motion.Controller
	camera camera.Camera
	holder Holder
}

// NewSequence creates a capture sequence. holder may be nil when the
// driver's ENABLE line is not wired.
func NewSequence(m *motion.Controller, c camera.Camera, h Holder) *Sequence {
	return &Sequence{
		motion: m,
		camera: c,
		holder: h,
	}
}

// IntervalParams defines an interval (time-lapse) run.
type IntervalParams struct {
	Frames        int           // exposures from move start to move end
	Interval      time.Duration // minimum time between two exposures
	Settle        time.Duration // delay after a move before the shot (stabilization)
	PostShotDelay time.Duration // delay after shot before movement
}

// RunInterval shoots Frames exposures evenly spaced between the move start
// and move end bookmarks. The carriage first runs to the move start; for
// every frame it settles, releases the motor, shoots, waits, and re-enables
// the motor before moving on.
func (s *Sequence) RunInterval(ctx context.Context, p IntervalParams) error {
	start, end := s.motion.Bookmarks()
	plan, err := geometry.NewIntervalPlan(start, end, p.Frames)
	if err != nil {
		return fmt.Errorf("plan interval: %w", err)
	}

	debug.Summary("Interval Plan")
	debug.Value("Frames", plan.Frames)
	debug.Value("Move start", plan.Start)
	debug.Value("Move end", plan.End)
	debug.Value("Steps per frame", plan.StepsPerFrame())
	debug.Value("Interval", p.Interval)
	if debug.IsEnabled(debug.LevelVerbose) {
		for i, pos := range plan.Positions {
			debug.Verbose("Frame %d planned at %d", i+1, pos)
		}
	}

	if err := s.enable(); err != nil {
		return err
	}

	debug.Section("Moving to start position")
	if err := s.motion.RunToMoveStart(ctx); err != nil {
		return err
	}

	for i, pos := range plan.Positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		frameStart := time.Now()

		if i > 0 {
			if err := s.motion.MoveTo(ctx, pos); err != nil {
				return err
			}
		}
		debug.Frame(i+1, plan.Frames, pos)

		if err := s.wait(ctx, p.Settle); err != nil {
			return err
		}
		if err := s.shoot(ctx, p.PostShotDelay); err != nil {
			return err
		}
		if err := s.checkStop(); err != nil {
			return err
		}

		if i < len(plan.Positions)-1 {
			if err := s.wait(ctx, p.Interval-time.Since(frameStart)); err != nil {
				return err
			}
		}
	}

	debug.Section("Interval Complete")
	return nil
}

// shoot exposes one frame with the motor released (no vibration from the
// holding current) and re-enables it afterwards, even on error.
func (s *Sequence) shoot(ctx context.Context, postShot time.Duration) error {
	if err := s.disable(); err != nil {
		return err
	}

	err := s.camera.Shoot(ctx)
	if err == nil {
		err = s.wait(ctx, postShot)
	}

	if eerr := s.enable(); eerr != nil && err == nil {
		err = eerr
	}
	if err != nil {
		return fmt.Errorf("shoot: %w", err)
	}
	return nil
}

func (s *Sequence) enable() error {
	if s.holder == nil {
		return nil
	}
	if err := s.holder.Enable(); err != nil {
		return fmt.Errorf("enable motor: %w", err)
	}
	return nil
}

func (s *Sequence) disable() error {
	if s.holder == nil {
		return nil
	}
	if err := s.holder.Disable(); err != nil {
		return fmt.Errorf("disable motor: %w", err)
	}
	return nil
}

// stopPoll is how often waits between frames look at the stop source.
const stopPoll = 10 * time.Millisecond

func (s *Sequence) checkStop() error {
	if s.motion.StopRequested() {
		debug.Live("Stop requested, interval aborted")
		return motion.ErrStopped
	}
	return nil
}

// wait blocks for d, returning early when ctx is done or a stop is
// requested. Non-positive durations only check ctx and the stop source.
func (s *Sequence) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkStop(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	tick := time.NewTicker(stopPoll)
	defer tick.Stop()
	for {
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := s.checkStop(); err != nil {
				return err
			}
		}
	}
}
