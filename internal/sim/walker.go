// Package sim produces deterministic synthetic sensor streams for demos and
// end-to-end tests.
package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"indoornav/internal/sensors"
)

const (
	DefaultRate      = 10 * time.Millisecond
	DefaultStepAccel = 1.0 // m/s², vertical bounce amplitude per step

	standardGravity = 9.80665
	// Geomagnetic field, µT, roughly mid-latitude northern hemisphere.
	fieldHorizontal = 22.0
	fieldDown       = 40.0
)

// Readings is what a phone held flat, top edge along the walking direction,
// reports at one instant.
type Readings struct {
	Accel  r3.Vec
	Gyro   r3.Vec
	Magnet r3.Vec
	Steps  int
}

// Walker emits a Walk as accelerometer, gyroscope, magnetometer and step
// counter samples.
type Walker struct {
	Walk      *Walk
	Loop      bool
	Rate      time.Duration
	StepAccel float64

	now func() time.Time
}

// Readings computes the sensor readings at elapsed.
func (wk *Walker) Readings(elapsed time.Duration) Readings {
	st := wk.Walk.StateAt(elapsed, wk.Loop)
	amp := wk.StepAccel
	if amp == 0 {
		amp = DefaultStepAccel
	}

	// One vertical bounce per step.
	_, frac := math.Modf(st.Steps)
	h := st.HeadingDeg * math.Pi / 180
	sinH, cosH := math.Sincos(h)
	return Readings{
		Accel: r3.Vec{Z: standardGravity + amp*math.Sin(2*math.Pi*frac)},
		// Turning toward larger headings is a negative rate about +Z.
		Gyro:   r3.Vec{Z: -st.TurnRateDeg * math.Pi / 180},
		Magnet: r3.Vec{X: -fieldHorizontal * sinH, Y: fieldHorizontal * cosH, Z: -fieldDown},
		Steps:  int(math.Floor(st.Steps)),
	}
}

// Run emits readings every Rate until ctx is done, or until the walk ends
// when Loop is false. The step counter is emitted at start and whenever it
// changes.
func (wk *Walker) Run(ctx context.Context, emit func(sensors.Sample)) error {
	if wk.Walk == nil {
		return fmt.Errorf("sim: walker has no walk")
	}
	rate := wk.Rate
	if rate <= 0 {
		rate = DefaultRate
	}
	now := wk.now
	if now == nil {
		now = time.Now
	}

	start := now()
	lastSteps := -1
	tick := time.NewTicker(rate)
	defer tick.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		elapsed := now().Sub(start)
		done := !wk.Loop && elapsed >= wk.Walk.Duration()
		ts := elapsed.Nanoseconds()
		r := wk.Readings(elapsed)
		emit(sensors.Sample{Kind: sensors.KindAccel, Vec: r.Accel, TimestampNs: ts})
		emit(sensors.Sample{Kind: sensors.KindMagnet, Vec: r.Magnet, TimestampNs: ts})
		emit(sensors.Sample{Kind: sensors.KindGyro, Vec: r.Gyro, TimestampNs: ts})
		if r.Steps != lastSteps {
			emit(sensors.StepCount(r.Steps, ts))
			lastSteps = r.Steps
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}
