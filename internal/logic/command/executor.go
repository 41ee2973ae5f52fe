package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/camera"
	"github.com/cjeanneret/SlideGo/internal/logic/capture"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// ErrBusy is returned by Start while another command holds the slider.
var ErrBusy = errors.New("slider busy")

// Result is the reply to one executed command.
type Result struct {
	Command string       `json:"command"`
	Output  string       `json:"output,omitempty"`
	State   motion.State `json:"state"`
}

// Executor runs commands against one slider, one at a time. Stop requests
// bypass the queue: RequestStop raises a latch that the running move polls.
type Executor struct {
	ctrl   *motion.Controller
	latch  *motion.Latch
	camera camera.Camera
	seq    *capture.Sequence

	intervalMu sync.Mutex
	interval   capture.IntervalParams

	mu      sync.Mutex
	busy    atomic.Bool
	current atomic.Value // string
}

// Option configures an Executor.
type Option func(*Executor)

// WithCamera enables the shoot command.
func WithCamera(c camera.Camera) Option {
	return func(e *Executor) { e.camera = c }
}

// WithSequence enables interval runs with the given defaults.
func WithSequence(s *capture.Sequence, defaults capture.IntervalParams) Option {
	return func(e *Executor) {
		e.seq = s
		e.interval = defaults
	}
}

// NewExecutor creates an executor. latch must be the stop source the
// controller polls, so that RequestStop reaches moves in flight.
func NewExecutor(ctrl *motion.Controller, latch *motion.Latch, opts ...Option) *Executor {
	e := &Executor{
		ctrl:   ctrl,
		latch:  latch,
		camera: camera.None{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.current.Store("")
	return e
}

// RequestStop interrupts the move in progress, if any.
func (e *Executor) RequestStop() {
	debug.Live("Stop requested")
	e.latch.Request()
}

// Busy reports whether a command is running.
func (e *Executor) Busy() bool {
	return e.busy.Load()
}

// Current returns the command being executed, or "".
func (e *Executor) Current() string {
	return e.current.Load().(string)
}

// State returns the slider state.
func (e *Executor) State() motion.State {
	return e.ctrl.State()
}

// IntervalDefaults returns the parameters used by "run".
func (e *Executor) IntervalDefaults() capture.IntervalParams {
	e.intervalMu.Lock()
	defer e.intervalMu.Unlock()
	return e.interval
}

// SetIntervalDefaults replaces the parameters used by later runs.
func (e *Executor) SetIntervalDefaults(p capture.IntervalParams) {
	e.intervalMu.Lock()
	defer e.intervalMu.Unlock()
	e.interval = p
}

// Execute runs cmd, waiting for any running command to finish first. A
// stop is applied to the running command immediately.
func (e *Executor) Execute(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Verb == Stop {
		e.RequestStop()
	}
	e.acquire()
	defer e.release()
	return e.run(ctx, cmd)
}

// Start runs cmd in the background and returns at once. It fails with
// ErrBusy if a command is running, except for stop which is always
// applied. done, if not nil, receives the outcome once the executor is
// free again.
func (e *Executor) Start(ctx context.Context, cmd Command, done func(Result, error)) error {
	if cmd.Verb == Stop {
		e.RequestStop()
		go func() {
			e.acquire()
			res, err := e.run(ctx, cmd)
			e.release()
			if done != nil {
				done(res, err)
			}
		}()
		return nil
	}

	if !e.tryAcquire() {
		return ErrBusy
	}
	e.current.Store(cmd.String())
	go func() {
		res, err := e.run(ctx, cmd)
		e.release()
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

// StartInterval runs an interval sequence in the background, like Start.
func (e *Executor) StartInterval(ctx context.Context, p capture.IntervalParams, done func(error)) error {
	if e.seq == nil {
		return fmt.Errorf("interval runs need a camera")
	}
	if !e.tryAcquire() {
		return ErrBusy
	}
	e.current.Store(Run)
	go func() {
		err := e.guard(Run, func() error { return e.seq.RunInterval(ctx, p) })
		e.release()
		if done != nil {
			done(err)
		}
	}()
	return nil
}

// acquire takes the slider and lowers a stale stop latch, so that only
// stops requested from here on interrupt the new command.
func (e *Executor) acquire() {
	e.mu.Lock()
	e.latch.Clear()
	e.busy.Store(true)
}

func (e *Executor) tryAcquire() bool {
	if !e.mu.TryLock() {
		return false
	}
	e.latch.Clear()
	e.busy.Store(true)
	return true
}

func (e *Executor) release() {
	e.busy.Store(false)
	e.mu.Unlock()
}

// run executes cmd. Caller holds mu.
func (e *Executor) run(ctx context.Context, cmd Command) (Result, error) {
	res := Result{Command: cmd.String()}
	var out bytes.Buffer

	err := e.guard(cmd.String(), func() error {
		return e.dispatch(ctx, cmd, &out)
	})
	if err != nil {
		debug.Warn("%s: %v", cmd, err)
	}

	res.Output = out.String()
	res.State = e.ctrl.State()
	return res, err
}

// guard names the running command while fn runs. Caller holds mu.
func (e *Executor) guard(name string, fn func() error) error {
	e.current.Store(name)
	defer e.current.Store("")
	return fn()
}

func (e *Executor) dispatch(ctx context.Context, cmd Command, out *bytes.Buffer) error {
	debug.Verbose("Executing %q", cmd)

	switch cmd.Verb {
	case Speed:
		e.ctrl.SetSpeed(cmd.Arg)
	case Accel:
		e.ctrl.SetAcceleration(cmd.Arg)
	case Left:
		e.ctrl.CaptureLeftBoundary()
	case Right:
		return e.ctrl.CaptureRightBoundary()
	case Start:
		e.ctrl.CaptureMoveStart()
	case End:
		e.ctrl.CaptureMoveEnd()
	case GoLeft:
		return e.ctrl.RunToLeftBoundary(ctx)
	case GoRight:
		return e.ctrl.RunToRightBoundary(ctx)
	case GoStart:
		return e.ctrl.RunToMoveStart(ctx)
	case GoEnd:
		return e.ctrl.RunToMoveEnd(ctx)
	case Center:
		return e.ctrl.RunToCenter(ctx)
	case Move:
		return e.ctrl.MoveSlider(ctx, cmd.Arg)
	case Goto:
		return e.ctrl.MoveTo(ctx, cmd.Arg)
	case Stop:
		return e.ctrl.StopSlider()
	case Debug:
		return e.ctrl.PrintDebugInfo(out)
	case StateCmd:
	case Shoot:
		return e.camera.Shoot(ctx)
	case Run:
		if e.seq == nil {
			return fmt.Errorf("interval runs need a camera")
		}
		p := e.IntervalDefaults()
		if cmd.HasArg {
			p.Frames = int(cmd.Arg)
		}
		return e.seq.RunInterval(ctx, p)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Verb)
	}
	return nil
}
