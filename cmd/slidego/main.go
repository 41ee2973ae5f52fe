package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/camera"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
	"github.com/cjeanneret/SlideGo/internal/hw/link"
	"github.com/cjeanneret/SlideGo/internal/hw/stepper"
	"github.com/cjeanneret/SlideGo/internal/logic/capture"
	"github.com/cjeanneret/SlideGo/internal/logic/command"
	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
	"github.com/cjeanneret/SlideGo/internal/web"
)

// cliOverrides holds command-line values that win over the config file,
// including after a reload. Zero values mean "use config".
type cliOverrides struct {
	Serial       string
	MaxSpeed     int64
	Acceleration int64
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	serialDev := flag.String("serial", "", "override the remote serial device (e.g. /dev/rfcomm0)")
	maxSpeed := flag.Int64("speed", 0, "override max speed in steps/s (1-5000)")
	accel := flag.Int64("accel", 0, "override acceleration in steps/s² (1-50000)")
	flag.Parse()

	overrides := cliOverrides{Serial: *serialDev, MaxSpeed: *maxSpeed, Acceleration: *accel}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *cfgPath, overrides, webPort.port()); err != nil {
		log.Fatalf("slidego: %v", err)
	}
}

func run(ctx context.Context, cfgPath string, overrides cliOverrides, webPort int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			debug.Warn("closing GPIO driver failed: %v", err)
		}
	}()

	// Initialize stepper motor
	debug.Step(2, "Initializing stepper motor")
	motor := stepper.NewStepper(gpioDriver, stepperConfig(cfg))
	debug.PrintStruct("Stepper config", cfg.Stepper)
	track := geometry.NewTrack(cfg)
	debug.Value("Steps per mm", track.StepsPerMM())

	// Initialize camera
	debug.Step(3, "Initializing camera")
	cam, err := newCameraFromConfig(gpioDriver, cfg)
	if err != nil {
		return fmt.Errorf("init camera: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)

	// Open the remote link
	debug.Step(4, "Opening remote link")
	var remote *link.Link
	if cfg.Link.Device != "" {
		remote, err = link.Open(link.Config{
			Device:      cfg.Link.Device,
			Baud:        cfg.Link.Baud,
			ReadTimeout: cfg.ReadTimeout(),
		})
		if err != nil {
			return err
		}
		defer remote.Close()
	} else {
		debug.Info("No remote device configured, reading commands from stdin")
		remote = link.New(console{Reader: os.Stdin, Writer: os.Stdout})
		// Not closed: a blocked stdin read cannot be interrupted.
	}

	// Build controller and executor
	debug.Step(5, "Creating motion controller")
	latch := &motion.Latch{}
	ctrl := motion.NewController(motor,
		motion.WithSettings(motion.Settings{MaxSpeed: cfg.Motion.MaxSpeed, Acceleration: cfg.Motion.Acceleration}),
		motion.WithStopSource(motion.AnyStop(latch, remote)),
	)
	opts := []command.Option{command.WithCamera(cam)}
	if cfg.HasCamera() {
		seq := capture.NewSequence(ctrl, cam, motor)
		opts = append(opts, command.WithSequence(seq, intervalParams(cfg)))
	}
	exec := command.NewExecutor(ctrl, latch, opts...)

	var srv *web.Server
	if webPort > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		srv, err = web.NewServer(fmt.Sprintf(":%d", webPort), broadcaster, exec, formDefaults(cfg), intervalParams(cfg))
		if err != nil {
			return err
		}
		srv.Handlers().Scale = track
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			applyOverrides(next, overrides)
			applyReload(ctx, exec, srv, next)
		})
		if err != nil {
			debug.Warn("config watch stopped: %v", err)
		}
	}()

	debug.Section("Ready")
	serveErr := make(chan error, 1)
	go func() {
		err := exec.Serve(ctx, remote, remote)
		if err != nil {
			// In web mode nobody waits on serveErr; keep the failure visible.
			debug.Error(fmt.Errorf("remote link: %w", err))
		}
		serveErr <- err
	}()

	if srv != nil {
		err = srv.Run(ctx)
	} else {
		select {
		case err = <-serveErr:
		case <-ctx.Done():
		}
	}

	// Wait for any running move to decelerate to rest before releasing GPIO.
	cancel()
	exec.RequestStop()
	if _, serr := exec.Execute(context.Background(), command.Command{Verb: command.Stop}); serr != nil {
		debug.Warn("final stop: %v", serr)
	}
	wg.Wait()
	return err
}

// console adapts stdin/stdout to the remote link when no serial device is
// configured.
type console struct {
	io.Reader
	io.Writer
}

func (console) Close() error { return nil }

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(o cliOverrides) error {
	if o.MaxSpeed != 0 && (o.MaxSpeed < 1 || o.MaxSpeed > motion.MaxSpeedLimit) {
		return fmt.Errorf("speed must be between 1 and %d, got %d", motion.MaxSpeedLimit, o.MaxSpeed)
	}
	if o.Acceleration != 0 && (o.Acceleration < 1 || o.Acceleration > motion.MaxAccelerationLimit) {
		return fmt.Errorf("accel must be between 1 and %d, got %d", motion.MaxAccelerationLimit, o.Acceleration)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Serial != "" {
		cfg.Link.Device = o.Serial
	}
	if o.MaxSpeed > 0 {
		cfg.Motion.MaxSpeed = o.MaxSpeed
	}
	if o.Acceleration > 0 {
		cfg.Motion.Acceleration = o.Acceleration
	}
}

// applyReload pushes a reloaded config into the running slider. Speed and
// acceleration go through the executor so they never change mid-move.
func applyReload(ctx context.Context, exec *command.Executor, srv *web.Server, cfg *config.Config) {
	for _, cmd := range []command.Command{
		{Verb: command.Speed, Arg: cfg.Motion.MaxSpeed, HasArg: true},
		{Verb: command.Accel, Arg: cfg.Motion.Acceleration, HasArg: true},
	} {
		if _, err := exec.Execute(ctx, cmd); err != nil {
			debug.Warn("apply reloaded %s: %v", cmd.Verb, err)
		}
	}
	exec.SetIntervalDefaults(intervalParams(cfg))
	if srv != nil {
		srv.Handlers().SetDefaults(formDefaults(cfg), intervalParams(cfg))
	}
	debug.Info("Config reloaded (speed=%d, accel=%d)", cfg.Motion.MaxSpeed, cfg.Motion.Acceleration)
}

func stepperConfig(cfg *config.Config) stepper.Config {
	return stepper.Config{
		StepPin:    cfg.Stepper.StepPin,
		DirPin:     cfg.Stepper.DirPin,
		EnablePin:  cfg.Stepper.EnablePin,
		InvertDir:  cfg.Stepper.InvertDir,
		PulseWidth: cfg.PulseWidth(),
	}
}

func intervalParams(cfg *config.Config) capture.IntervalParams {
	return capture.IntervalParams{
		Frames:        cfg.Defaults.Frames,
		Interval:      cfg.Interval(),
		Settle:        cfg.Settle(),
		PostShotDelay: cfg.PostShotDelay(),
	}
}

func formDefaults(cfg *config.Config) web.FormConfig {
	return web.FormConfig{
		Frames:       cfg.Defaults.Frames,
		IntervalMs:   cfg.Defaults.IntervalMs,
		SettleMs:     cfg.Defaults.SettleMs,
		MaxSpeed:     cfg.Motion.MaxSpeed,
		Acceleration: cfg.Motion.Acceleration,
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "", "none":
		return camera.None{}, nil
	case "wired_remote", "nikon_d90_gpio":
		return camera.NewWiredRemote(g, camera.WiredRemoteConfig{
			FocusPin:     cfg.Camera.FocusPin,
			ShutterPin:   cfg.Camera.ShutterPin,
			FocusDelay:   cfg.FocusDelay(),
			ShutterDelay: cfg.ShutterDelay(),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
