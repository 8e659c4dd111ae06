package orientation

import "math"

// AxisFilter is a scalar Kalman filter for one orientation axis.
//
// The gyro-integrated angle is the prediction; the accel/mag angle is the
// measurement. Angles are wrapped so the innovation never exceeds π.
type AxisFilter struct {
	Q float64 // process noise per second
	R float64 // measurement noise

	angle    float64
	variance float64
}

func NewAxisFilter(q, r, initialVariance float64) AxisFilter {
	return AxisFilter{Q: q, R: r, variance: initialVariance}
}

// Update runs one predict+update step and returns the fused angle.
func (f *AxisFilter) Update(measured, predicted, dt float64) float64 {
	if dt < 0 {
		dt = 0
	}
	p := f.variance + f.Q*dt
	k := 0.0
	if p+f.R > 0 {
		k = p / (p + f.R)
	}
	f.angle = wrapPi(predicted + k*wrapPi(measured-predicted))
	f.variance = (1 - k) * p
	return f.angle
}

func (f *AxisFilter) Angle() float64    { return f.angle }
func (f *AxisFilter) Variance() float64 { return f.variance }

// SteadyStateGain is the gain Update converges to for fixed Q, R and dt.
func SteadyStateGain(q, r, dt float64) float64 {
	a := q * dt
	if a <= 0 {
		return 0
	}
	p := (a + math.Sqrt(a*a+4*a*r)) / 2
	return p / (p + r)
}

// wrapPi maps a to [-π, π).
func wrapPi(a float64) float64 {
	if a >= -math.Pi && a < math.Pi {
		return a
	}
	return a - 2*math.Pi*math.Floor((a+math.Pi)/(2*math.Pi))
}
