package stepper

import (
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// DefaultPulseWidth is the STEP high time. A4988 needs >= 1µs, DRV8825 >= 1.9µs.
const DefaultPulseWidth = 2 * time.Microsecond

// Config holds the wiring of a step/dir driver.
type Config struct {
	StepPin    int
	DirPin     int
	EnablePin  int           // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	InvertDir  bool          // swap which DIR level moves the carriage right
	PulseWidth time.Duration // STEP high time; 0 = DefaultPulseWidth
}

// Stepper generates step pulses with a constant-acceleration ramp.
//
// Positions are absolute step counts. Run must be called as often as
// possible; each call emits at most one step, when the current step
// interval has elapsed, and then recomputes the speed. The ramp follows
// David Austin's "Generate stepper-motor speed profiles in real time":
//
//	c0 = 0.676 * sqrt(2/a) * 1e6 µs
//	cn = cn-1 - 2*cn-1 / (4n + 1)
//
// with n going negative while decelerating.
//
// A Stepper is safe for concurrent use; readers may sample the position
// while another goroutine runs a move.
type Stepper struct {
	gpio gpio.Driver
	cfg  Config

	mu           sync.Mutex
	position     int64
	target       int64
	speed        float64 // steps/s, negative when moving left
	maxSpeed     float64 // steps/s
	acceleration float64 // steps/s²
	n            int64   // ramp step counter
	c0           float64 // first step interval (µs)
	cn           float64 // current step interval (µs)
	cmin         float64 // interval at max speed (µs)
	interval     time.Duration
	lastStep     time.Duration
	forward      bool
	dirWritten   bool
	dirLevel     gpio.Level

	clock func() time.Duration
	sleep func(time.Duration)
}

// NewStepper creates a stepper on the given pins. The driver is enabled,
// the position is 0 and speed/acceleration start at 1 until configured.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	if cfg.PulseWidth <= 0 {
		cfg.PulseWidth = DefaultPulseWidth
	}

	start := time.Now()
	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		cmin:  1,
		clock: func() time.Duration { return time.Since(start) },
		sleep: time.Sleep,
	}

	// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low)
	}

	s.setAcceleration(1)
	s.setMaxSpeed(1)
	return s
}

// SetMaxSpeed sets the cruise speed in steps/s. The sign is ignored and 0
// is ignored, as the ramp cannot reach a zero cruise speed.
func (s *Stepper) SetMaxSpeed(stepsPerSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMaxSpeed(stepsPerSec)
}

func (s *Stepper) setMaxSpeed(speed float64) {
	speed = math.Abs(speed)
	if speed == 0 || speed == s.maxSpeed {
		return
	}
	s.maxSpeed = speed
	s.cmin = 1e6 / speed
	// Already accelerating: recompute n so the ramp continues from the
	// equivalent point of the new profile.
	if s.n > 0 {
		s.n = int64((s.speed * s.speed) / (2.0 * s.acceleration))
		s.computeNewSpeed()
	}
}

// SetAcceleration sets the ramp acceleration in steps/s². The sign is
// ignored and 0 is ignored.
func (s *Stepper) SetAcceleration(stepsPerSec2 float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAcceleration(stepsPerSec2)
}

func (s *Stepper) setAcceleration(accel float64) {
	accel = math.Abs(accel)
	if accel == 0 || accel == s.acceleration {
		return
	}
	s.n = int64(float64(s.n) * (s.acceleration / accel))
	s.c0 = 0.676 * math.Sqrt(2.0/accel) * 1e6
	s.acceleration = accel
	s.computeNewSpeed()
}

// MaxSpeed returns the configured cruise speed in steps/s.
func (s *Stepper) MaxSpeed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSpeed
}

// Acceleration returns the configured acceleration in steps/s².
func (s *Stepper) Acceleration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceleration
}

// Speed returns the instantaneous speed in steps/s (negative = leftwards).
func (s *Stepper) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// CurrentPosition returns the absolute position in steps.
func (s *Stepper) CurrentPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// SetCurrentPosition redefines the current position (e.g. zeroing at the
// left edge). Any motion in progress is abandoned without deceleration.
func (s *Stepper) SetCurrentPosition(pos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = pos
	s.target = pos
	s.n = 0
	s.interval = 0
	s.speed = 0
}

// DistanceToGo returns target - position.
func (s *Stepper) DistanceToGo() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return distance(s.target, s.position)
}

// distance returns target-pos pinned to ±MaxInt64, so that far targets
// never wrap around and its negation is always valid.
func distance(target, pos int64) int64 {
	switch {
	case pos < 0 && target > math.MaxInt64+pos:
		return math.MaxInt64
	case pos > 0 && target < -math.MaxInt64+pos:
		return -math.MaxInt64
	}
	return target - pos
}

// MoveTo sets an absolute target. It does not block; call Run to move.
func (s *Stepper) MoveTo(target int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moveTo(target)
}

func (s *Stepper) moveTo(target int64) {
	if s.target != target {
		debug.Trace("Stepper: target %d -> %d", s.target, target)
		s.target = target
		s.computeNewSpeed()
	}
}

// Run emits at most one step and updates the speed. It reports whether the
// motor is still moving or has distance left to go.
func (s *Stepper) Run() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stepped, err := s.runSpeed()
	if err != nil {
		return false, err
	}
	if stepped {
		s.computeNewSpeed()
	}
	return s.speed != 0 || s.target != s.position, nil
}

// Stop retargets so that the motor decelerates to rest as fast as the
// current acceleration allows. Call Run or RunToPosition to carry it out.
func (s *Stepper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speed == 0 {
		return
	}
	stepsToStop := int64((s.speed*s.speed)/(2.0*s.acceleration)) + 1
	if s.speed > 0 {
		s.moveTo(s.position + stepsToStop)
	} else {
		s.moveTo(s.position - stepsToStop)
	}
}

// RunToPosition blocks until the motor is at rest on its target.
func (s *Stepper) RunToPosition() error {
	for {
		moving, err := s.Run()
		if err != nil {
			return err
		}
		if !moving {
			return nil
		}
	}
}

// RunToNewPosition moves to an absolute target and blocks until it is reached.
func (s *Stepper) RunToNewPosition(target int64) error {
	s.MoveTo(target)
	return s.RunToPosition()
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). The carriage is
// free and there is no holding torque; used while a frame is exposed.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}

// runSpeed steps once if the current interval has elapsed. Caller holds mu.
func (s *Stepper) runSpeed() (bool, error) {
	if s.interval == 0 {
		return false, nil
	}
	now := s.clock()
	if now-s.lastStep < s.interval {
		return false, nil
	}
	if err := s.pulse(); err != nil {
		return false, err
	}
	if s.forward {
		s.position++
	} else {
		s.position--
	}
	s.lastStep = now
	return true, nil
}

// pulse sets DIR if needed and emits one STEP pulse. Caller holds mu.
func (s *Stepper) pulse() error {
	dir := gpio.Level(s.forward != s.cfg.InvertDir)
	if !s.dirWritten || dir != s.dirLevel {
		if err := s.gpio.WritePin(s.cfg.DirPin, dir); err != nil {
			return err
		}
		s.dirWritten = true
		s.dirLevel = dir
	}

	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	s.sleep(s.cfg.PulseWidth)
	return s.gpio.WritePin(s.cfg.StepPin, gpio.Low)
}

// computeNewSpeed advances the ramp by one step. Caller holds mu.
func (s *Stepper) computeNewSpeed() {
	distanceTo := distance(s.target, s.position)
	stepsToStop := int64((s.speed * s.speed) / (2.0 * s.acceleration))

	if distanceTo == 0 && stepsToStop <= 1 {
		s.interval = 0
		s.speed = 0
		s.n = 0
		return
	}

	if distanceTo > 0 {
		if s.n > 0 {
			// Out of room, or heading the wrong way: start decelerating.
			if stepsToStop >= distanceTo || !s.forward {
				s.n = -stepsToStop
			}
		} else if s.n < 0 {
			if stepsToStop < distanceTo && s.forward {
				s.n = -s.n
			}
		}
	} else if distanceTo < 0 {
		if s.n > 0 {
			if stepsToStop >= -distanceTo || s.forward {
				s.n = -stepsToStop
			}
		} else if s.n < 0 {
			if stepsToStop < -distanceTo && !s.forward {
				s.n = -s.n
			}
		}
	}

	if s.n == 0 {
		s.cn = s.c0
		s.forward = distanceTo > 0
	} else {
		s.cn = s.cn - (2.0*s.cn)/(4.0*float64(s.n)+1.0)
		s.cn = math.Max(s.cn, s.cmin)
	}
	s.n++

	s.interval = time.Duration(s.cn * float64(time.Microsecond))
	s.speed = 1e6 / s.cn
	if !s.forward {
		s.speed = -s.speed
	}
}
