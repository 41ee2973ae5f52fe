package motion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/SlideGo/internal/debug"
)

// Motion limits measured on a NEMA 17 (~78 oz·in) carriage. Speed is
// usable from 1 to 5,000 steps/s, acceleration from 1 to 50,000 steps/s².
const (
	MaxSpeedLimit        = 5000
	MaxAccelerationLimit = 50000

	DefaultMaxSpeed     = MaxSpeedLimit
	DefaultAcceleration = MaxAccelerationLimit
)

var (
	ErrLeftBoundaryUnset  = errors.New("set left boundary first")
	ErrRightBoundaryUnset = errors.New("set right boundary first")
	ErrBoundariesUnset    = errors.New("set the left and right slider boundaries first")
	ErrStopped            = errors.New("move stopped on request")
)

// Motor is the stepper driver the carriage runs on. Positions are absolute
// step counts; Run advances at most one step per call.
type Motor interface {
	SetMaxSpeed(stepsPerSec float64)
	SetAcceleration(stepsPerSec2 float64)
	CurrentPosition() int64
	SetCurrentPosition(pos int64)
	MoveTo(target int64)
	DistanceToGo() int64
	Run() (bool, error)
	Stop()
	RunToPosition() error
}

// Settings are the motion parameters owned by a Controller.
type Settings struct {
	MaxSpeed     int64 `json:"max_speed"`    // steps/s
	Acceleration int64 `json:"acceleration"` // steps/s²
}

// DefaultSettings returns the calibrated defaults.
func DefaultSettings() Settings {
	return Settings{MaxSpeed: DefaultMaxSpeed, Acceleration: DefaultAcceleration}
}

// mark is a captured position that may not have been captured yet.
type mark struct {
	steps int64
	set   bool
}

func (m mark) ptr() *int64 {
	if !m.set {
		return nil
	}
	v := m.steps
	return &v
}

// State is a snapshot of the slider for status reporting.
type State struct {
	Position      int64  `json:"position"`
	Moving        bool   `json:"moving"`
	MaxSpeed      int64  `json:"max_speed"`
	Acceleration  int64  `json:"acceleration"`
	MoveStart     int64  `json:"move_start"`
	MoveEnd       int64  `json:"move_end"`
	LeftBoundary  *int64 `json:"left_boundary"`  // nil until captured
	RightBoundary *int64 `json:"right_boundary"` // nil until captured
}

// Controller turns slider intents (boundaries, bookmarks, relative moves)
// into bounded motor commands for a single carriage.
//
// Commands are expected from one control loop at a time; State may be
// called concurrently, including while a move is running.
type Controller struct {
	motor Motor
	stop  StopSource

	mu        sync.Mutex
	settings  Settings
	left      mark
	right     mark
	moveStart int64
	moveEnd   int64

	moving atomic.Bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithSettings overrides the default speed and acceleration.
func WithSettings(s Settings) Option {
	return func(c *Controller) { c.settings = s }
}

// WithStopSource installs the predicate polled on every motion step.
func WithStopSource(s StopSource) Option {
	return func(c *Controller) { c.stop = s }
}

// NewController wires a controller to its motor and forwards the initial
// speed and acceleration.
func NewController(m Motor, opts ...Option) *Controller {
	c := &Controller{
		motor:    m,
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}

	m.SetAcceleration(float64(c.settings.Acceleration))
	m.SetMaxSpeed(float64(c.settings.MaxSpeed))
	return c
}

// SetSpeed sets the max carriage speed in steps/s. Values are not
// validated; the usable range is 1..5000.
func (c *Controller) SetSpeed(speed int64) {
	c.mu.Lock()
	c.settings.MaxSpeed = speed
	c.mu.Unlock()

	c.motor.SetMaxSpeed(float64(speed))
	debug.Verbose("Max speed set to %d steps/s", speed)
}

// SetAcceleration sets the ramp acceleration in steps/s². Values are not
// validated; the usable range is 1..50000.
func (c *Controller) SetAcceleration(accel int64) {
	c.mu.Lock()
	c.settings.Acceleration = accel
	c.mu.Unlock()

	c.motor.SetAcceleration(float64(accel))
	debug.Verbose("Acceleration set to %d steps/s²", accel)
}

// Settings returns the current speed and acceleration.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// CaptureLeftBoundary zeroes the position counter at the carriage and
// records it as the left boundary. Every later position is relative to it.
func (c *Controller) CaptureLeftBoundary() {
	c.motor.SetCurrentPosition(0)
	pos := c.motor.CurrentPosition()

	c.mu.Lock()
	c.left = mark{steps: pos, set: true}
	c.mu.Unlock()

	debug.Info("Left boundary set at %d", pos)
}

// CaptureRightBoundary records the carriage position as the right boundary.
// The left boundary must be captured first.
func (c *Controller) CaptureRightBoundary() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.left.set {
		debug.Warn("Please set left boundary first.")
		return ErrLeftBoundaryUnset
	}
	c.right = mark{steps: c.motor.CurrentPosition(), set: true}
	debug.Info("Right boundary set at %d", c.right.steps)
	return nil
}

// CaptureMoveStart bookmarks the carriage position as the start of a move.
func (c *Controller) CaptureMoveStart() {
	pos := c.motor.CurrentPosition()
	c.mu.Lock()
	c.moveStart = pos
	c.mu.Unlock()
	debug.Info("Move start set at %d", pos)
}

// CaptureMoveEnd bookmarks the carriage position as the end of a move.
func (c *Controller) CaptureMoveEnd() {
	pos := c.motor.CurrentPosition()
	c.mu.Lock()
	c.moveEnd = pos
	c.mu.Unlock()
	debug.Info("Move end set at %d", pos)
}

// Bookmarks returns the move start and end positions.
func (c *Controller) Bookmarks() (start, end int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveStart, c.moveEnd
}

// Boundaries returns the captured boundaries; nil means not captured.
func (c *Controller) Boundaries() (left, right *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left.ptr(), c.right.ptr()
}

// RunToLeftBoundary moves the carriage to the left boundary and waits.
func (c *Controller) RunToLeftBoundary(ctx context.Context) error {
	c.mu.Lock()
	left := c.left
	c.mu.Unlock()

	if !left.set {
		debug.Warn("Please set left boundary first.")
		return ErrLeftBoundaryUnset
	}
	return c.drive(ctx, left.steps)
}

// RunToRightBoundary moves the carriage to the right boundary and waits.
func (c *Controller) RunToRightBoundary(ctx context.Context) error {
	c.mu.Lock()
	right := c.right
	c.mu.Unlock()

	if !right.set {
		debug.Warn("Please set right boundary first.")
		return ErrRightBoundaryUnset
	}
	return c.drive(ctx, right.steps)
}

// RunToMoveStart moves the carriage to the move start bookmark (0 if never
// captured) and waits.
func (c *Controller) RunToMoveStart(ctx context.Context) error {
	start, _ := c.Bookmarks()
	return c.drive(ctx, start)
}

// RunToMoveEnd moves the carriage to the move end bookmark (0 if never
// captured) and waits.
func (c *Controller) RunToMoveEnd(ctx context.Context) error {
	_, end := c.Bookmarks()
	return c.drive(ctx, end)
}

// RunToCenter moves the carriage halfway between both boundaries and waits.
func (c *Controller) RunToCenter(ctx context.Context) error {
	c.mu.Lock()
	left, right := c.left, c.right
	c.mu.Unlock()

	if !left.set || !right.set {
		debug.Warn("Please set the left and right slider boundaries first.")
		return ErrBoundariesUnset
	}
	center := (left.steps + right.steps) / 2
	return c.drive(ctx, center)
}

// MoveSlider moves the carriage by steps (positive = right) and waits. The
// target is clamped into the captured boundaries.
func (c *Controller) MoveSlider(ctx context.Context, steps int64) error {
	target := c.clamp(addSaturating(c.motor.CurrentPosition(), steps))
	return c.drive(ctx, target)
}

// addSaturating returns a+b, pinned to the int64 range instead of wrapping.
func addSaturating(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// MoveTo moves the carriage to an absolute position, clamped into the
// captured boundaries, and waits.
func (c *Controller) MoveTo(ctx context.Context, location int64) error {
	return c.drive(ctx, c.clamp(location))
}

// StopSlider decelerates the carriage to rest under the current
// acceleration and waits until it has stopped.
func (c *Controller) StopSlider() error {
	c.motor.Stop()
	if err := c.motor.RunToPosition(); err != nil {
		return fmt.Errorf("stop slider: %w", err)
	}
	debug.Live("Carriage stopped at %d", c.motor.CurrentPosition())
	return nil
}

// Moving reports whether a move is in progress.
func (c *Controller) Moving() bool {
	return c.moving.Load()
}

// State returns a snapshot of position, settings, bookmarks and boundaries.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Position:      c.motor.CurrentPosition(),
		Moving:        c.moving.Load(),
		MaxSpeed:      c.settings.MaxSpeed,
		Acceleration:  c.settings.Acceleration,
		MoveStart:     c.moveStart,
		MoveEnd:       c.moveEnd,
		LeftBoundary:  c.left.ptr(),
		RightBoundary: c.right.ptr(),
	}
}

// PrintDebugInfo writes the slider state to w, one value per line.
func (c *Controller) PrintDebugInfo(w io.Writer) error {
	s := c.State()
	_, err := fmt.Fprintf(w,
		"----- DEBUG INFO -----\n"+
			"Current Position: %d\n"+
			"Current Max Speed: %d\n"+
			"Current Acceleration: %d\n"+
			"Slider Move Start: %d\n"+
			"Slider Move End: %d\n"+
			"Slider Left Boundary: %s\n"+
			"Slider Right Boundary: %s\n\n",
		s.Position, s.MaxSpeed, s.Acceleration, s.MoveStart, s.MoveEnd,
		formatMark(s.LeftBoundary), formatMark(s.RightBoundary))
	return err
}

func formatMark(v *int64) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprintf("%d", *v)
}

// clamp bounds a target by whichever boundaries are captured.
func (c *Controller) clamp(target int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.left.set && target <= c.left.steps {
		debug.Verbose("Target %d clamped to left boundary %d", target, c.left.steps)
		return c.left.steps
	}
	if c.right.set && target >= c.right.steps {
		debug.Verbose("Target %d clamped to right boundary %d", target, c.right.steps)
		return c.right.steps
	}
	return target
}

// StopRequested polls the installed stop source. Sources that consume
// their signal (the serial link) are consumed by the call.
func (c *Controller) StopRequested() bool {
	return c.stop != nil && c.stop.StopRequested()
}

// drive runs the motor to target, polling ctx and the stop source before
// every step. An interrupted move decelerates to rest before returning.
func (c *Controller) drive(ctx context.Context, target int64) error {
	c.moving.Store(true)
	defer c.moving.Store(false)

	debug.Move(c.motor.CurrentPosition(), target)
	c.motor.MoveTo(target)

	for {
		if err := ctx.Err(); err != nil {
			debug.Live("Move interrupted: %v", err)
			if serr := c.StopSlider(); serr != nil {
				return serr
			}
			return err
		}
		if c.StopRequested() {
			debug.Live("Stop requested at %d", c.motor.CurrentPosition())
			if err := c.StopSlider(); err != nil {
				return err
			}
			return ErrStopped
		}

		moving, err := c.motor.Run()
		if err != nil {
			return fmt.Errorf("run motor: %w", err)
		}
		if !moving {
			debug.Verbose("Carriage reached %d", c.motor.CurrentPosition())
			return nil
		}
	}
}
