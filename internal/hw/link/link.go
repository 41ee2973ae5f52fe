// Package link is the byte channel to the handheld remote: an HC-05
// Bluetooth SPP module (or any tty) speaking the line protocol.
package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/cjeanneret/SlideGo/internal/debug"
)

// StopByte interrupts a move when it is the next unread byte.
const StopByte byte = '?'

// ErrClosed is returned by ReadLine once the link is closed.
var ErrClosed = errors.New("link closed")

// Config holds serial port settings.
type Config struct {
	Device      string        // e.g., "/dev/rfcomm0", "/dev/ttyUSB0"
	Baud        int           // HC-05 default is 9600
	ReadTimeout time.Duration // 0 = blocking reads
}

// Link buffers everything the remote sends. A reader goroutine drains the
// port into a queue; consumers either take whole lines (command loop) or
// peek single bytes (stop polling during a move).
type Link struct {
	rw io.ReadWriteCloser

	mu      sync.Mutex
	queue   []byte
	readErr error
	notify  chan struct{}

	writeMu sync.Mutex

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Open opens the serial device and starts reading from it.
func Open(cfg Config) (*Link, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	debug.Info("Remote link open on %s (%d baud)", cfg.Device, cfg.Baud)
	return New(timeoutPort{port}), nil
}

// timeoutPort hides the io.EOF that tarm/serial returns when a read times
// out with no data.
type timeoutPort struct {
	*serial.Port
}

func (p timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}

// New starts reading from rw. Closing the link closes rw.
func New(rw io.ReadWriteCloser) *Link {
	l := &Link{
		rw:      rw,
		notify:  make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *Link) readLoop() {
	defer close(l.done)
	logger := debug.Named("link")

	buf := make([]byte, 256)
	for {
		n, err := l.rw.Read(buf)
		if n > 0 {
			l.mu.Lock()
			l.queue = append(l.queue, buf[:n]...)
			l.mu.Unlock()
			l.signal()
		}
		if err != nil {
			select {
			case <-l.closing:
				err = ErrClosed
			default:
				if !errors.Is(err, io.EOF) {
					logger.Warnw("Failed to read from remote", "error", err)
				}
			}
			l.mu.Lock()
			l.readErr = err
			l.mu.Unlock()
			l.signal()
			return
		}
		select {
		case <-l.closing:
			return
		default:
		}
	}
}

func (l *Link) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// PeekByte returns the next unread byte without consuming it.
func (l *Link) PeekByte() (byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return 0, false
	}
	return l.queue[0], true
}

// TakeByte consumes and returns the next unread byte.
func (l *Link) TakeByte() (byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return 0, false
	}
	b := l.queue[0]
	l.queue = l.queue[1:]
	return b, true
}

// Buffered returns the number of unread bytes.
func (l *Link) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// StopRequested consumes the next byte if it is StopByte. Other bytes stay
// queued for ReadLine.
func (l *Link) StopRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 || l.queue[0] != StopByte {
		return false
	}
	l.queue = l.queue[1:]
	return true
}

// ReadLine blocks until a full line is buffered and returns it without its
// line ending. At EOF a trailing partial line is returned first.
func (l *Link) ReadLine(ctx context.Context) (string, error) {
	for {
		l.mu.Lock()
		if i := bytes.IndexByte(l.queue, '\n'); i >= 0 {
			line := string(l.queue[:i])
			l.queue = l.queue[i+1:]
			l.mu.Unlock()
			return strings.TrimRight(line, "\r"), nil
		}
		if l.readErr != nil {
			err := l.readErr
			if errors.Is(err, io.EOF) && len(l.queue) > 0 {
				line := string(l.queue)
				l.queue = nil
				l.mu.Unlock()
				return strings.TrimRight(line, "\r"), nil
			}
			l.mu.Unlock()
			return "", err
		}
		l.mu.Unlock()

		select {
		case <-l.notify:
		case <-l.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Write sends bytes to the remote.
func (l *Link) Write(p []byte) (int, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.rw.Write(p)
}

// Close closes the port and waits for the reader goroutine to exit.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closing)
		err = l.rw.Close()
		<-l.done
	})
	return err
}
