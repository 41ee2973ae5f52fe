package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 64 << 10

// StepperConfig holds the wiring and resolution of the carriage motor.
type StepperConfig struct {
	StepPin       int  `yaml:"step_pin"`
	DirPin        int  `yaml:"dir_pin"`
	EnablePin     int  `yaml:"enable_pin"` // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	InvertDir     bool `yaml:"invert_dir"`
	PulseWidthUs  int  `yaml:"pulse_width_us"`
	StepsPerRev   int  `yaml:"steps_per_rev"`
	Microstepping int  `yaml:"microstepping"`
}

// TrackConfig describes the belt drive between motor and carriage.
type TrackConfig struct {
	PulleyTeeth int     `yaml:"pulley_teeth"`  // e.g., 20 for a GT2 20T pulley
	BeltPitchMm float64 `yaml:"belt_pitch_mm"` // e.g., 2.0 for GT2
}

// MotionConfig holds the startup speed and acceleration.
type MotionConfig struct {
	MaxSpeed     int64 `yaml:"max_speed"`    // steps/s, 1-5000
	Acceleration int64 `yaml:"acceleration"` // steps/s², 1-50000
}

// LinkConfig describes the serial remote (HC-05 Bluetooth SPP or USB tty).
// An empty Device disables the link.
type LinkConfig struct {
	Device        string `yaml:"device"`
	Baud          int    `yaml:"baud"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
}

// CameraConfig describes how to communicate with the camera.
// Type selects a concrete implementation; empty or "none" means no camera.
type CameraConfig struct {
	Type            string `yaml:"type"`               // "wired_remote" (alias "nikon_d90_gpio")
	FocusPin        int    `yaml:"focus_pin"`          // GPIO pin for FOCUS line
	ShutterPin      int    `yaml:"shutter_pin"`        // GPIO pin for SHUTTER line
	FocusDelayMs    int    `yaml:"focus_delay_ms"`     // autofocus delay (ms)
	ShutterDelayMs  int    `yaml:"shutter_delay_ms"`   // shutter hold time (ms)
	PostShotDelayMs int    `yaml:"post_shot_delay_ms"` // delay after shot before movement (ms)
}

// DefaultsConfig contains interval-run defaults and runtime switches.
type DefaultsConfig struct {
	Frames     int  `yaml:"frames"`      // frames per interval run
	IntervalMs int  `yaml:"interval_ms"` // minimum time between two exposures
	SettleMs   int  `yaml:"settle_ms"`   // wait after a move before shooting
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Stepper  StepperConfig  `yaml:"stepper"`
	Track    TrackConfig    `yaml:"track"`
	Motion   MotionConfig   `yaml:"motion"`
	Link     LinkConfig     `yaml:"link"`
	Camera   CameraConfig   `yaml:"camera"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files located directly in a
// directory named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Ext(abs) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Stepper.StepPin <= 0 {
		return fmt.Errorf("stepper.step_pin is required")
	}
	if c.Stepper.DirPin <= 0 {
		return fmt.Errorf("stepper.dir_pin is required")
	}
	if c.Motion.MaxSpeed < 0 || c.Motion.MaxSpeed > motion.MaxSpeedLimit {
		return fmt.Errorf("motion.max_speed must be between 1 and %d, got %d", motion.MaxSpeedLimit, c.Motion.MaxSpeed)
	}
	if c.Motion.Acceleration < 0 || c.Motion.Acceleration > motion.MaxAccelerationLimit {
		return fmt.Errorf("motion.acceleration must be between 1 and %d, got %d", motion.MaxAccelerationLimit, c.Motion.Acceleration)
	}
	if c.Track.BeltPitchMm < 0 {
		return fmt.Errorf("track.belt_pitch_mm must be > 0, got %.2f", c.Track.BeltPitchMm)
	}
	switch c.Camera.Type {
	case "", "none", "wired_remote", "nikon_d90_gpio":
	default:
		return fmt.Errorf("unsupported camera.type %q", c.Camera.Type)
	}
	if c.Defaults.Frames < 0 {
		return fmt.Errorf("defaults.frames must be >= 0, got %d", c.Defaults.Frames)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Motion.MaxSpeed == 0 {
		c.Motion.MaxSpeed = motion.DefaultMaxSpeed
	}
	if c.Motion.Acceleration == 0 {
		c.Motion.Acceleration = motion.DefaultAcceleration
	}
	if c.Stepper.PulseWidthUs <= 0 {
		c.Stepper.PulseWidthUs = 2 // A4988 needs >= 1µs, DRV8825 >= 1.9µs
	}
	if c.Stepper.StepsPerRev <= 0 {
		c.Stepper.StepsPerRev = 200
	}
	if c.Stepper.Microstepping <= 0 {
		c.Stepper.Microstepping = 16
	}
	if c.Track.PulleyTeeth <= 0 {
		c.Track.PulleyTeeth = 20
	}
	if c.Track.BeltPitchMm == 0 {
		c.Track.BeltPitchMm = 2 // GT2
	}
	if c.Link.Baud <= 0 {
		c.Link.Baud = 9600 // HC-05 factory default
	}
	if c.Link.ReadTimeoutMs <= 0 {
		c.Link.ReadTimeoutMs = 100
	}

	// Default values for camera delays
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if c.Camera.ShutterDelayMs <= 0 {
		c.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if c.Camera.PostShotDelayMs <= 0 {
		c.Camera.PostShotDelayMs = 300 // 300ms after shot before movement
	}

	if c.Defaults.Frames == 0 {
		c.Defaults.Frames = 10
	}
	if c.Defaults.IntervalMs <= 0 {
		c.Defaults.IntervalMs = 2000
	}
	if c.Defaults.SettleMs <= 0 {
		c.Defaults.SettleMs = 500
	}
}

// HasCamera reports whether a camera is configured.
func (c *Config) HasCamera() bool {
	return c.Camera.Type != "" && c.Camera.Type != "none"
}

// PulseWidth returns the STEP pulse high time.
func (c *Config) PulseWidth() time.Duration {
	return time.Duration(c.Stepper.PulseWidthUs) * time.Microsecond
}

// ReadTimeout returns the serial link read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Link.ReadTimeoutMs) * time.Millisecond
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// PostShotDelay returns the delay after shot before movement.
func (c *Config) PostShotDelay() time.Duration {
	return time.Duration(c.Camera.PostShotDelayMs) * time.Millisecond
}

// Interval returns the default time between two exposures.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Defaults.IntervalMs) * time.Millisecond
}

// Settle returns the default wait between arriving at a frame and shooting.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.Defaults.SettleMs) * time.Millisecond
}
