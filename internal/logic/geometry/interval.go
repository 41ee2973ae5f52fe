package geometry

import (
	"fmt"
)

// IntervalPlan lists the carriage positions of an interval (time-lapse)
// run: the span between two bookmarks cut into equal moves.
type IntervalPlan struct {
	Start     int64   // first frame position (steps)
	End       int64   // last frame position (steps)
	Frames    int     // number of exposures
	Positions []int64 // one position per frame, Start first and End last
}

// NewIntervalPlan splits start..end into frames positions. Integer steps
// cannot always divide evenly; the remainder is spread over the moves so
// no two moves differ by more than one step.
func NewIntervalPlan(start, end int64, frames int) (*IntervalPlan, error) {
	if frames < 1 {
		return nil, fmt.Errorf("frames must be >= 1, got %d", frames)
	}

	positions := make([]int64, frames)
	positions[0] = start
	if frames > 1 {
		span := end - start
		last := int64(frames - 1)
		for i := int64(1); i <= last; i++ {
			positions[i] = start + span*i/last
		}
	}

	return &IntervalPlan{
		Start:     start,
		End:       end,
		Frames:    frames,
		Positions: positions,
	}, nil
}

// StepsPerFrame returns the average move between two frames.
func (p *IntervalPlan) StepsPerFrame() float64 {
	if p.Frames < 2 {
		return 0
	}
	return float64(p.End-p.Start) / float64(p.Frames-1)
}
