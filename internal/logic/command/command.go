// Package command implements the slider's line-oriented text protocol,
// shared by the serial remote, the websocket and POST /command.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cjeanneret/SlideGo/internal/hw/link"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// StopByte is the single byte a remote sends to interrupt a move.
const StopByte = link.StopByte

// Verbs understood by Parse.
const (
	Speed    = "speed"
	Accel    = "accel"
	Left     = "left"
	Right    = "right"
	Start    = "start"
	End      = "end"
	GoLeft   = "go-left"
	GoRight  = "go-right"
	GoStart  = "go-start"
	GoEnd    = "go-end"
	Center   = "center"
	Move     = "move"
	Goto     = "goto"
	Stop     = "stop"
	Debug    = "debug"
	StateCmd = "state"
	Shoot    = "shoot"
	Run      = "run"
)

var (
	ErrEmptyCommand   = errors.New("empty command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad argument")
)

type argKind int

const (
	argNone argKind = iota
	argRequired
	argOptional
)

type verbSpec struct {
	arg      argKind
	min, max int64
}

var verbs = map[string]verbSpec{
	Speed:    {arg: argRequired, min: 1, max: motion.MaxSpeedLimit},
	Accel:    {arg: argRequired, min: 1, max: motion.MaxAccelerationLimit},
	Left:     {},
	Right:    {},
	Start:    {},
	End:      {},
	GoLeft:   {},
	GoRight:  {},
	GoStart:  {},
	GoEnd:    {},
	Center:   {},
	Move:     {arg: argRequired},
	Goto:     {arg: argRequired},
	Stop:     {},
	Debug:    {},
	StateCmd: {},
	Shoot:    {},
	Run:      {arg: argOptional, min: 1, max: 100000},
}

// Command is one parsed protocol line.
type Command struct {
	Verb   string
	Arg    int64
	HasArg bool
}

func (c Command) String() string {
	if c.HasArg {
		return c.Verb + " " + strconv.FormatInt(c.Arg, 10)
	}
	return c.Verb
}

// Parse reads one line: a verb and at most one integer argument,
// separated by spaces. Verbs are case-insensitive. A line holding only
// the stop byte is a stop.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmptyCommand
	}
	if len(fields) == 1 && fields[0] == string(StopByte) {
		return Command{Verb: Stop}, nil
	}

	verb := strings.ToLower(fields[0])
	spec, ok := verbs[verb]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}

	args := fields[1:]
	switch {
	case len(args) > 1:
		return Command{}, fmt.Errorf("%w: %s takes at most one argument", ErrBadArgument, verb)
	case len(args) == 0 && spec.arg == argRequired:
		return Command{}, fmt.Errorf("%w: %s needs a number", ErrBadArgument, verb)
	case len(args) == 1 && spec.arg == argNone:
		return Command{}, fmt.Errorf("%w: %s takes no argument", ErrBadArgument, verb)
	case len(args) == 0:
		return Command{Verb: verb}, nil
	}

	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %s %q is not an integer", ErrBadArgument, verb, args[0])
	}
	if spec.max > 0 && (n < spec.min || n > spec.max) {
		return Command{}, fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrBadArgument, verb, spec.min, spec.max, n)
	}
	return Command{Verb: verb, Arg: n, HasArg: true}, nil
}
