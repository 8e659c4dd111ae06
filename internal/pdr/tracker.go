// Package pdr is a step-based dead-reckoning position tracker.
//
// Each positive step-counter increment moves the position by
// steps × stride along the current heading. Stride comes from a rolling
// mean of recent acceleration magnitudes.
package pdr

import (
	"fmt"
	"math"
)

const (
	DefaultWindowSize        = 10
	DefaultStrideCoefficient = 0.98
	DefaultStride            = 0.75 // meters, used before any acceleration is seen
)

// Decomposition selects how a distance is split into (dx, dy).
type Decomposition int

const (
	// Piecewise mirrors the four-quadrant formulation, including its rounding.
	Piecewise Decomposition = iota
	// ClosedForm uses dx = d·sin θ, dy = d·cos θ directly.
	ClosedForm
)

func (d Decomposition) String() string {
	switch d {
	case Piecewise:
		return "piecewise"
	case ClosedForm:
		return "closed_form"
	}
	return fmt.Sprintf("Decomposition(%d)", int(d))
}

func ParseDecomposition(s string) (Decomposition, error) {
	switch s {
	case "", "piecewise":
		return Piecewise, nil
	case "closed_form":
		return ClosedForm, nil
	}
	return Piecewise, fmt.Errorf("pdr: unknown decomposition %q", s)
}

type Config struct {
	WindowSize        int
	StrideCoefficient float64
	DefaultStride     float64
	Decomposition     Decomposition
}

func DefaultConfig() Config {
	return Config{
		WindowSize:        DefaultWindowSize,
		StrideCoefficient: DefaultStrideCoefficient,
		DefaultStride:     DefaultStride,
		Decomposition:     Piecewise,
	}
}

// Position is planar, in meters from the session origin. +Y is heading 0,
// +X is heading 90.
type Position struct {
	X, Y float64
}

// Tracker is not safe for concurrent use.
type Tracker struct {
	cfg    Config
	window *Window

	prevCount int
	havePrev  bool
	lastDelta int

	headingDeg float64
	pos        Position
}

func NewTracker(cfg Config) *Tracker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.StrideCoefficient <= 0 {
		cfg.StrideCoefficient = DefaultStrideCoefficient
	}
	if cfg.DefaultStride <= 0 {
		cfg.DefaultStride = DefaultStride
	}
	return &Tracker{cfg: cfg, window: NewWindow(cfg.WindowSize)}
}

func (t *Tracker) RecordAccelerationMagnitude(m float64) {
	t.window.Push(m)
}

// SetHeading sets the heading, in degrees in [0, 360), used for the next step.
func (t *Tracker) SetHeading(deg float64) {
	t.headingDeg = deg
}

func (t *Tracker) Heading() float64 { return t.headingDeg }

// UpdateStepCount consumes a cumulative step count. A repeat or decrease
// moves nothing; the count is tracked either way.
func (t *Tracker) UpdateStepCount(count int) {
	if t.havePrev {
		delta := count - t.prevCount
		if delta > 0 {
			distance := float64(delta) * t.StrideLength()
			dx, dy := t.decompose(distance, t.headingDeg)
			t.pos.X += dx
			t.pos.Y += dy
			t.lastDelta = delta
		}
	}
	t.prevCount = count
	t.havePrev = true
}

// StrideLength is coefficient·∛(mean |a|), or the default stride when no
// acceleration has been recorded.
func (t *Tracker) StrideLength() float64 {
	if t.window.Empty() {
		return t.cfg.DefaultStride
	}
	return t.cfg.StrideCoefficient * math.Cbrt(t.window.Mean())
}

func (t *Tracker) decompose(distance, headingDeg float64) (dx, dy float64) {
	if t.cfg.Decomposition == ClosedForm {
		return DecomposeClosedForm(distance, headingDeg)
	}
	return DecomposePiecewise(distance, headingDeg)
}

func (t *Tracker) Position() Position { return t.pos }

// LastStepDelta is the most recent positive increment, 0 before the first step.
func (t *Tracker) LastStepDelta() int { return t.lastDelta }

// StepCount returns the last cumulative count seen.
func (t *Tracker) StepCount() (int, bool) { return t.prevCount, t.havePrev }

func (t *Tracker) Window() *Window { return t.window }

func (t *Tracker) Reset() {
	t.window.Reset()
	t.prevCount, t.havePrev, t.lastDelta = 0, false, 0
	t.headingDeg = 0
	t.pos = Position{}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// DecomposePiecewise splits distance along a heading in degrees using one
// branch per quadrant. Each lower bound is inclusive.
func DecomposePiecewise(distance, headingDeg float64) (dx, dy float64) {
	th := headingDeg
	switch {
	case 0 <= th && th < 90:
		return distance * math.Sin(radians(th)), distance * math.Cos(radians(th))
	case 90 <= th && th < 180:
		return distance * math.Cos(radians(th-90)), -distance * math.Sin(radians(th-90))
	case 180 <= th && th < 270:
		return -distance * math.Sin(radians(th-180)), -distance * math.Cos(radians(th-180))
	default:
		return -distance * math.Cos(radians(th-270)), distance * math.Sin(radians(th-270))
	}
}

func DecomposeClosedForm(distance, headingDeg float64) (dx, dy float64) {
	s, c := math.Sincos(radians(headingDeg))
	return distance * s, distance * c
}
