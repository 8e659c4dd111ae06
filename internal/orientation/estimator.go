// Package orientation fuses gyroscope integration with a tilt-compensated
// accelerometer/magnetometer orientation into a drift-corrected heading.
//
// An Estimator is not safe for concurrent use; callers serialize access
// (see fusion.Service).
package orientation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

type Config struct {
	ProcessNoise     float64
	MeasurementNoise float64
	InitialVariance  float64
	GyroEpsilon      float64
}

func DefaultConfig() Config {
	return Config{
		ProcessNoise:     DefaultProcessNoise,
		MeasurementNoise: DefaultMeasurementNoise,
		InitialVariance:  DefaultInitialVariance,
		GyroEpsilon:      DefaultGyroEpsilon,
	}
}

type Phase int

const (
	// PhaseUninitialized waits for the first accel/mag orientation.
	PhaseUninitialized Phase = iota
	// PhaseTracking integrates the gyro and accepts fuse ticks.
	PhaseTracking
)

func (p Phase) String() string {
	if p == PhaseTracking {
		return "tracking"
	}
	return "uninitialized"
}

// tracking owns the gyro state. It only exists once seeded from an accel/mag
// orientation, so integration and fusion cannot run before that.
type tracking struct {
	matrix RotationMatrix
	angles Angles
	lastNs int64
	haveTs bool
}

func newTracking(seed Angles) *tracking {
	m := Identity().Mul(MatrixFromAngles(seed))
	return &tracking{matrix: m, angles: AnglesFromMatrix(m)}
}

func (t *tracking) integrate(omega r3.Vec, tsNs int64, epsilon float64) {
	if t.haveTs && tsNs > t.lastNs {
		dt := float64(tsNs-t.lastNs) / nanosPerSecond
		delta := DeltaRotation(omega, dt/2, epsilon)
		t.matrix = t.matrix.Mul(delta)
		t.angles = AnglesFromMatrix(t.matrix)
	}
	t.lastNs = tsNs
	t.haveTs = true
}

type Estimator struct {
	cfg Config

	accel, magnet         r3.Vec
	haveAccel, haveMagnet bool

	accMag     Angles
	haveAccMag bool

	gyro *tracking

	filters [3]AxisFilter
	fused   Angles
}

// NewEstimator uses cfg as given. The zero Config selects DefaultConfig.
func NewEstimator(cfg Config) *Estimator {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	e := &Estimator{cfg: cfg}
	e.Reset()
	return e
}

// Reset returns to session start: identity orientation, no readings,
// uninitialized gyro.
func (e *Estimator) Reset() {
	e.accel, e.magnet = r3.Vec{}, r3.Vec{}
	e.haveAccel, e.haveMagnet = false, false
	e.accMag, e.haveAccMag = Angles{}, false
	e.gyro = nil
	e.fused = Angles{}
	for i := range e.filters {
		e.filters[i] = NewAxisFilter(e.cfg.ProcessNoise, e.cfg.MeasurementNoise, e.cfg.InitialVariance)
	}
}

func (e *Estimator) IngestAccel(v r3.Vec) {
	e.accel, e.haveAccel = v, true
	e.updateAccMag()
}

func (e *Estimator) IngestMagnet(v r3.Vec) {
	e.magnet, e.haveMagnet = v, true
	e.updateAccMag()
}

// updateAccMag keeps the previous orientation when the geometry is degenerate.
func (e *Estimator) updateAccMag() {
	if !e.haveAccel || !e.haveMagnet {
		return
	}
	m, ok := TiltCompensated(e.accel, e.magnet)
	if !ok {
		return
	}
	a := AnglesFromMatrix(m)
	if math.IsNaN(a[0]) || math.IsNaN(a[1]) || math.IsNaN(a[2]) {
		return
	}
	e.accMag, e.haveAccMag = a, true
}

// IngestGyro integrates an angular velocity sample (rad/s) stamped with a
// monotonic nanosecond timestamp. The first sample after an accel/mag
// orientation exists seeds the gyro matrix from it; samples before that are
// dropped. Integration needs two samples to establish dt.
func (e *Estimator) IngestGyro(v r3.Vec, tsNs int64) {
	if e.gyro == nil {
		if !e.haveAccMag {
			return
		}
		e.gyro = newTracking(e.accMag)
	}
	e.gyro.integrate(v, tsNs, e.cfg.GyroEpsilon)
}

// Fuse runs one Kalman step per axis, then feeds the fused angles back into
// the gyro state so gyro drift is pulled toward the accel/mag reference.
// It reports false, and does nothing, before tracking has started.
func (e *Estimator) Fuse(dtSeconds float64) bool {
	if e.gyro == nil {
		return false
	}
	for i := range e.filters {
		e.fused[i] = e.filters[i].Update(e.accMag[i], e.gyro.angles[i], dtSeconds)
	}
	e.gyro.matrix = MatrixFromAngles(e.fused)
	e.gyro.angles = e.fused
	return true
}

func (e *Estimator) Phase() Phase {
	if e.gyro == nil {
		return PhaseUninitialized
	}
	return PhaseTracking
}

// AccMag returns the latest tilt-compensated orientation.
func (e *Estimator) AccMag() (Angles, bool) { return e.accMag, e.haveAccMag }

// Gyro returns the gyro-integrated orientation once tracking.
func (e *Estimator) Gyro() (Angles, bool) {
	if e.gyro == nil {
		return Angles{}, false
	}
	return e.gyro.angles, true
}

// GyroMatrix returns the cumulative gyro matrix once tracking.
func (e *Estimator) GyroMatrix() (RotationMatrix, bool) {
	if e.gyro == nil {
		return RotationMatrix{}, false
	}
	return e.gyro.matrix, true
}

func (e *Estimator) Fused() Angles { return e.fused }

// HeadingDegrees is the fused azimuth in degrees, in [0, 360).
func (e *Estimator) HeadingDegrees() float64 {
	return NormalizeDegrees(e.fused.Azimuth() * 180 / math.Pi)
}

// NormalizeDegrees maps any finite angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		// -tiny + 360 rounds up to 360.
		d = 0
	}
	return d
}
