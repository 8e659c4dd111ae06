package sim

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

// WalkScript is a deterministic, script-driven walk description.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	keyframes:
//	  - t: 0s
//	    heading_deg: 0
//	    cadence_hz: 1.8
//	  - t: 10s
//	    heading_deg: 90
//	    cadence_hz: 1.8
//
// Heading interpolates along the shortest arc; cadence interpolates linearly.
// Keyframes must be sorted by time.
type WalkScript struct {
	Version   int            `yaml:"version"`
	Duration  time.Duration  `yaml:"duration"`
	Keyframes []WalkKeyframe `yaml:"keyframes"`
}

type WalkKeyframe struct {
	T          time.Duration `yaml:"t"`
	HeadingDeg float64       `yaml:"heading_deg"`
	CadenceHz  float64       `yaml:"cadence_hz"`
}

// Walk is the validated, runtime representation of a WalkScript.
type Walk struct {
	kfs      []WalkKeyframe
	duration time.Duration

	// segSteps[i] is the step count accumulated over segment i.
	segSteps []float64
	lapSteps float64
}

// WalkState is the walk at one instant.
type WalkState struct {
	HeadingDeg float64
	CadenceHz  float64

	// TurnRateDeg is the heading rate in degrees per second.
	TurnRateDeg float64

	// Steps is the fractional cumulative step count.
	Steps float64
}

// LoadWalkScript reads and unmarshals a YAML walk script from path.
func LoadWalkScript(path string) (WalkScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return WalkScript{}, err
	}
	return ParseWalkScriptYAML(b)
}

// ParseWalkScriptYAML parses a YAML walk script.
func ParseWalkScriptYAML(b []byte) (WalkScript, error) {
	var s WalkScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return WalkScript{}, err
	}
	return s, nil
}

// ConstantWalk walks straight at a fixed heading and cadence forever.
func ConstantWalk(headingDeg, cadenceHz float64) *Walk {
	w, _ := NewWalk(WalkScript{
		Version:  1,
		Duration: time.Hour,
		Keyframes: []WalkKeyframe{
			{T: 0, HeadingDeg: headingDeg, CadenceHz: cadenceHz},
		},
	})
	return w
}

// NewWalk validates script and returns a runtime Walk.
func NewWalk(script WalkScript) (*Walk, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported walk script version %d", script.Version)
	}
	kfs := script.Keyframes
	if len(kfs) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i := range kfs {
		if kfs[i].T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kfs[i].T < kfs[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if kfs[i].CadenceHz < 0 {
			return nil, fmt.Errorf("keyframes[%d].cadence_hz must be >= 0", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = kfs[len(kfs)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}

	w := &Walk{kfs: append([]WalkKeyframe(nil), kfs...), duration: dur}
	w.segSteps = make([]float64, len(w.kfs))
	for i := range w.kfs {
		end := dur
		if i+1 < len(w.kfs) && w.kfs[i+1].T < dur {
			end = w.kfs[i+1].T
		}
		if w.kfs[i].T < end {
			w.segSteps[i] = w.stepsInSegment(i, end-w.kfs[i].T)
		}
	}
	w.lapSteps = floats.Sum(w.segSteps)
	return w, nil
}

// Duration returns the effective walk duration.
func (w *Walk) Duration() time.Duration {
	if w == nil {
		return 0
	}
	return w.duration
}

// StateAt computes the walk at elapsed.
//
// If loop is true, elapsed wraps around Duration() and the step count keeps
// accumulating across laps. Otherwise elapsed is clamped to [0, Duration()].
func (w *Walk) StateAt(elapsed time.Duration, loop bool) WalkState {
	if w == nil {
		return WalkState{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	laps := 0.0
	if loop {
		laps = float64(elapsed / w.duration)
		elapsed = elapsed % w.duration
	} else if elapsed > w.duration {
		elapsed = w.duration
	}

	i, alpha := w.segment(elapsed)
	k0, k1 := w.kfs[i], w.kfs[i]
	if i+1 < len(w.kfs) {
		k1 = w.kfs[i+1]
	}

	st := WalkState{
		HeadingDeg: lerpAngleDeg(k0.HeadingDeg, k1.HeadingDeg, alpha),
		CadenceHz:  lerp(k0.CadenceHz, k1.CadenceHz, alpha),
	}
	if span := k1.T - k0.T; span > 0 && elapsed < k1.T {
		st.TurnRateDeg = shortestDeltaDeg(k0.HeadingDeg, k1.HeadingDeg) / span.Seconds()
	}

	st.Steps = laps*w.lapSteps + floats.Sum(w.segSteps[:i])
	if elapsed > k0.T {
		st.Steps += w.stepsInSegment(i, elapsed-k0.T)
	}
	return st
}

// segment returns the index of the keyframe that starts the segment holding
// t and the interpolation fraction within it.
func (w *Walk) segment(t time.Duration) (int, float64) {
	idx := sort.Search(len(w.kfs), func(i int) bool { return w.kfs[i].T > t })
	if idx <= 0 {
		return 0, 0
	}
	if idx >= len(w.kfs) {
		return len(w.kfs) - 1, 0
	}
	k0, k1 := w.kfs[idx-1], w.kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return idx, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	return idx - 1, math.Min(math.Max(alpha, 0), 1)
}

// stepsInSegment integrates the linearly interpolated cadence over the first
// tau of segment i.
func (w *Walk) stepsInSegment(i int, tau time.Duration) float64 {
	k0 := w.kfs[i]
	if i+1 >= len(w.kfs) || w.kfs[i+1].T <= k0.T {
		return k0.CadenceHz * tau.Seconds()
	}
	k1 := w.kfs[i+1]
	span := (k1.T - k0.T).Seconds()
	s := tau.Seconds()
	if s > span {
		s = span
	}
	slope := (k1.CadenceHz - k0.CadenceHz) / span
	return k0.CadenceHz*s + slope*s*s/2
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func normDeg(x float64) float64 {
	x = math.Mod(x, 360)
	if x < 0 {
		x += 360
	}
	if x >= 360 {
		x = 0
	}
	return x
}

func shortestDeltaDeg(a0, a1 float64) float64 {
	delta := normDeg(a1) - normDeg(a0)
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return delta
}

// lerpAngleDeg interpolates along the shortest arc and returns [0, 360).
func lerpAngleDeg(a0, a1, t float64) float64 {
	return normDeg(normDeg(a0) + shortestDeltaDeg(a0, a1)*t)
}
