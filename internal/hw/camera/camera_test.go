package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls   []gpioCall
	failPin int
}

type gpioCall struct {
	op    string
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	if pin == d.failPin && level == gpio.Low {
		return errors.New("pin write failed")
	}
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) writeCalls() []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func testRemote(drv gpio.Driver, focusDelay, shutterDelay time.Duration) *WiredRemote {
	return NewWiredRemote(drv, WiredRemoteConfig{
		FocusPin:     24,
		ShutterPin:   25,
		FocusDelay:   focusDelay,
		ShutterDelay: shutterDelay,
	})
}

func TestWiredRemote_PinsInitializedHigh(t *testing.T) {
	drv := &recordingDriver{}
	testRemote(drv, time.Millisecond, time.Millisecond)

	writes := drv.writeCalls()
	if len(writes) != 2 {
		t.Fatalf("expected 2 init writes, got %d", len(writes))
	}
	for _, w := range writes {
		if w.level != gpio.High {
			t.Errorf("pin %d initialized %v, want High", w.pin, w.level)
		}
	}
}

func TestWiredRemote_ShootSequence(t *testing.T) {
	drv := &recordingDriver{}
	cam := testRemote(drv, time.Microsecond, time.Microsecond)
	drv.calls = nil

	if err := cam.Shoot(context.Background()); err != nil {
		t.Fatalf("Shoot: %v", err)
	}

	expected := []struct {
		pin   int
		level gpio.Level
		desc  string
	}{
		{24, gpio.Low, "focus LOW (activate AF)"},
		{25, gpio.Low, "shutter LOW (trigger)"},
		{25, gpio.High, "shutter HIGH (release)"},
		{24, gpio.High, "focus HIGH (release)"},
	}

	writes := drv.writeCalls()
	if len(writes) != len(expected) {
		t.Fatalf("expected %d writes, got %d: %v", len(expected), len(writes), writes)
	}
	for i, exp := range expected {
		if writes[i].pin != exp.pin || writes[i].level != exp.level {
			t.Errorf("step %d (%s): pin=%d level=%v, want pin=%d level=%v",
				i, exp.desc, writes[i].pin, writes[i].level, exp.pin, exp.level)
		}
	}
}

func TestWiredRemote_CancelReleasesLines(t *testing.T) {
	drv := gpio.NewMockDriver()
	cam := testRemote(drv, time.Hour, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := cam.Shoot(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shoot = %v, want DeadlineExceeded", err)
	}
	for _, pin := range []int{24, 25} {
		if lvl, _ := drv.ReadPin(pin); lvl != gpio.High {
			t.Errorf("pin %d left %v after cancel, want High", pin, lvl)
		}
	}
	if drv.Rises(25) != 1 {
		t.Errorf("shutter fired: %d rises, want only the init write", drv.Rises(25))
	}
}

func TestWiredRemote_WriteErrorReleasesFocus(t *testing.T) {
	drv := &recordingDriver{failPin: 25}
	cam := testRemote(drv, time.Microsecond, time.Microsecond)
	drv.calls = nil

	if err := cam.Shoot(context.Background()); err == nil {
		t.Fatal("expected error when shutter write fails")
	}

	writes := drv.writeCalls()
	last := writes[len(writes)-1]
	if last.pin != 24 || last.level != gpio.High {
		t.Errorf("last write = %+v, want focus released", last)
	}
}

func TestNone_Shoot(t *testing.T) {
	var cam Camera = None{}
	if err := cam.Shoot(context.Background()); !errors.Is(err, ErrNoCamera) {
		t.Errorf("None.Shoot = %v, want ErrNoCamera", err)
	}
}

func TestWiredRemote_ImplementsCamera(t *testing.T) {
	var _ Camera = &WiredRemote{}
}
