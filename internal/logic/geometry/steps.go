package geometry

import (
	"math"

	"github.com/cjeanneret/SlideGo/internal/config"
)

// Track converts between carriage travel in millimetres and motor steps
// for a belt-driven slider.
type Track struct {
	stepsPerMM float64
}

// NewTrack creates a track from configuration.
func NewTrack(cfg *config.Config) *Track {
	// Microsteps per motor revolution / belt travel per revolution
	microstepsPerRev := float64(cfg.Stepper.StepsPerRev * cfg.Stepper.Microstepping)
	mmPerRev := float64(cfg.Track.PulleyTeeth) * cfg.Track.BeltPitchMm

	return &Track{stepsPerMM: microstepsPerRev / mmPerRev}
}

// StepsPerMM returns the motor steps needed for 1 mm of travel.
func (t *Track) StepsPerMM() float64 {
	return t.stepsPerMM
}

// StepsFromMM converts a carriage travel (in mm, negative = left) to motor
// steps, rounded to the nearest step.
func (t *Track) StepsFromMM(mm float64) int64 {
	return int64(math.Round(mm * t.stepsPerMM))
}

// MMFromSteps converts motor steps to carriage travel in mm.
func (t *Track) MMFromSteps(steps int64) float64 {
	return float64(steps) / t.stepsPerMM
}
