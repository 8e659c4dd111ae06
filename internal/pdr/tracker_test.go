package pdr

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestWindow_SumMatchesContents(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w := NewWindow(DefaultWindowSize)
	var all []float64
	for n := 1; n <= 57; n++ {
		v := rng.Float64()*20 - 2
		all = append(all, v)
		w.Push(v)

		keep := n
		if keep > DefaultWindowSize {
			keep = DefaultWindowSize
		}
		want := all[len(all)-keep:]
		require.Equal(t, keep, w.Len())
		require.LessOrEqual(t, w.Len(), DefaultWindowSize)
		require.Equal(t, want, w.Values())
		require.InDelta(t, floats.Sum(want), w.Sum(), 1e-9, "after %d pushes", n)
	}
}

func TestWindow_EmptyAndReset(t *testing.T) {
	w := NewWindow(3)
	require.True(t, w.Empty())
	require.Equal(t, 0.0, w.Mean())
	w.Push(3)
	w.Push(6)
	require.Equal(t, 4.5, w.Mean())
	w.Reset()
	require.True(t, w.Empty())
	require.Equal(t, 0.0, w.Sum())
	require.Equal(t, 3, w.Cap())
}

func TestStrideLength_DefaultWhenEmpty(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	require.Equal(t, DefaultStride, tr.StrideLength())
}

func TestStrideLength_CubeRootOfMean(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	for _, v := range []float64{6, 8, 10} {
		tr.RecordAccelerationMagnitude(v)
	}
	assert.InDelta(t, 0.98*2, tr.StrideLength(), 1e-12)
}

func TestStrideLength_MonotonicInMean(t *testing.T) {
	prev := math.Inf(-1)
	for mean := 0.0; mean <= 30; mean += 0.25 {
		tr := NewTracker(DefaultConfig())
		tr.RecordAccelerationMagnitude(mean)
		s := tr.StrideLength()
		if s < prev {
			t.Fatalf("stride(%v)=%v < stride at lower mean %v", mean, s, prev)
		}
		prev = s
	}
}

func TestUpdateStepCount_NonPositiveDeltaDoesNotMove(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.SetHeading(33)
	tr.UpdateStepCount(10)
	tr.UpdateStepCount(12)
	moved := tr.Position()
	require.NotEqual(t, Position{}, moved)

	for _, c := range []int{12, 11, 4, 4} {
		tr.UpdateStepCount(c)
		require.Equal(t, moved, tr.Position(), "count=%d", c)
		got, ok := tr.StepCount()
		require.True(t, ok)
		require.Equal(t, c, got)
	}
	require.Equal(t, 2, tr.LastStepDelta())

	// Counting resumes from the last tracked value.
	tr.UpdateStepCount(5)
	require.Equal(t, 1, tr.LastStepDelta())
}

func TestUpdateStepCount_FirstSampleOnlyInitializes(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.UpdateStepCount(500)
	require.Equal(t, Position{}, tr.Position())
	require.Equal(t, 0, tr.LastStepDelta())
}

func TestDecompose_PreservesDistance(t *testing.T) {
	headings := []float64{0, 90, 180, 270}
	for q := 0; q < 4; q++ {
		for _, off := range []float64{0.001, 13, 45, 71.5, 89.999} {
			headings = append(headings, float64(q)*90+off)
		}
	}
	for _, mode := range []Decomposition{Piecewise, ClosedForm} {
		for _, h := range headings {
			for _, delta := range []int{1, 2, 7} {
				tr := NewTracker(Config{Decomposition: mode})
				tr.RecordAccelerationMagnitude(9.81)
				tr.SetHeading(h)
				tr.UpdateStepCount(0)
				tr.UpdateStepCount(delta)

				distance := float64(delta) * tr.StrideLength()
				p := tr.Position()
				assert.InDelta(t, distance, math.Hypot(p.X, p.Y), 1e-12, "%s heading=%v delta=%d", mode, h, delta)
			}
		}
	}
}

// The piecewise form is the default. It agrees with the closed form to
// rounding; this pins both the choice and the agreement.
func TestDecompose_PiecewiseIsDefaultAndMatchesClosedForm(t *testing.T) {
	require.Equal(t, Piecewise, DefaultConfig().Decomposition)
	for h := 0.0; h < 360; h += 0.5 {
		px, py := DecomposePiecewise(2, h)
		cx, cy := DecomposeClosedForm(2, h)
		require.InDelta(t, cx, px, 1e-12, "dx heading=%v", h)
		require.InDelta(t, cy, py, 1e-12, "dy heading=%v", h)
	}
}

func TestDecomposePiecewise_Boundaries(t *testing.T) {
	cases := []struct {
		heading float64
		dx, dy  float64
	}{
		{0, 0, 1},
		{90, 1, 0},
		{180, 0, -1},
		{270, -1, 0},
	}
	for _, c := range cases {
		dx, dy := DecomposePiecewise(1, c.heading)
		// Boundaries take the branch whose lower bound they equal, so the
		// zero component is exact.
		require.Equal(t, c.dx, dx, "dx heading=%v", c.heading)
		require.Equal(t, c.dy, dy, "dy heading=%v", c.heading)
	}
}

func TestScenario_HeadingZeroMeanOne(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordAccelerationMagnitude(1.0)
	tr.SetHeading(0)
	tr.UpdateStepCount(0)
	tr.UpdateStepCount(0)
	tr.UpdateStepCount(1)

	require.InDelta(t, 0.98, tr.StrideLength(), 1e-15)
	p := tr.Position()
	require.Equal(t, 0.0, p.X)
	require.InDelta(t, 0.98, p.Y, 1e-15)
	require.Equal(t, 1, tr.LastStepDelta())
}

func TestScenario_HeadingNinetyDefaultStride(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.SetHeading(90)
	tr.UpdateStepCount(0)
	tr.UpdateStepCount(1)

	p := tr.Position()
	require.Equal(t, 0.75, p.X)
	require.Equal(t, 0.0, p.Y)
}

func TestParseDecomposition(t *testing.T) {
	for s, want := range map[string]Decomposition{"": Piecewise, "piecewise": Piecewise, "closed_form": ClosedForm} {
		got, err := ParseDecomposition(s)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	if _, err := ParseDecomposition("polar"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordAccelerationMagnitude(5)
	tr.SetHeading(100)
	tr.UpdateStepCount(1)
	tr.UpdateStepCount(3)
	tr.Reset()
	require.Equal(t, Position{}, tr.Position())
	require.Equal(t, 0, tr.LastStepDelta())
	_, ok := tr.StepCount()
	require.False(t, ok)
	require.Equal(t, DefaultStride, tr.StrideLength())
}
