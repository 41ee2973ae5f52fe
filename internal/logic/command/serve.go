package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cjeanneret/SlideGo/internal/debug"
)

// LineSource yields protocol lines, blocking until one is available.
type LineSource interface {
	ReadLine(ctx context.Context) (string, error)
}

// Serve executes every line read from src and writes one reply per line
// to w: the command output if any, then "ok <position>" or "error: <msg>".
// It returns nil once ctx is done or src reaches EOF.
func (e *Executor) Serve(ctx context.Context, src LineSource, w io.Writer) error {
	logger := debug.Named("command")

	for {
		line, err := src.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}

		if trimmed := dropStaleStops(line); trimmed != line {
			logger.Debugw("Dropped stop bytes sent while idle", "line", line)
			line = trimmed
		}

		cmd, err := Parse(line)
		if errors.Is(err, ErrEmptyCommand) {
			continue
		}
		if err != nil {
			logger.Debugw("Rejected command", "line", line, "error", err)
			if err := writeReply(w, Result{}, err); err != nil {
				return err
			}
			continue
		}

		res, err := e.Execute(ctx, cmd)
		if err := writeReply(w, res, err); err != nil {
			return err
		}
	}
}

// dropStaleStops strips stop bytes a remote sent while no move was
// running, which the link leaves queued in front of the next line. A line
// made only of stop bytes still reads as one stop command.
func dropStaleStops(line string) string {
	rest := strings.TrimLeft(line, string(StopByte))
	if len(rest) == len(line) {
		return line
	}
	if strings.TrimSpace(rest) == "" {
		return string(StopByte)
	}
	return rest
}

func writeReply(w io.Writer, res Result, cmdErr error) error {
	var err error
	if res.Output != "" {
		_, err = io.WriteString(w, res.Output)
	}
	if err == nil {
		if cmdErr != nil {
			_, err = fmt.Fprintf(w, "error: %v\n", cmdErr)
		} else {
			_, err = fmt.Fprintf(w, "ok %d\n", res.State.Position)
		}
	}
	if err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
