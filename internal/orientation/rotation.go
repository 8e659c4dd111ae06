package orientation

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RotationMatrix is a row-major 3×3 orthonormal matrix mapping the device
// frame to the world frame (rows: east, north, up).
type RotationMatrix [9]float64

// Identity returns the identity rotation.
func Identity() RotationMatrix {
	return RotationMatrix{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

func (m RotationMatrix) mat() *r3.Mat {
	v := m
	return r3.NewMat(v[:])
}

func fromMat(a *r3.Mat) RotationMatrix {
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = a.At(i, j)
		}
	}
	return out
}

// Mul returns m·b.
func (m RotationMatrix) Mul(b RotationMatrix) RotationMatrix {
	var out r3.Mat
	out.Mul(m.mat(), b.mat())
	return fromMat(&out)
}

const (
	AxisAzimuth = 0
	AxisPitch   = 1
	AxisRoll    = 2
)

// Angles holds azimuth, pitch and roll in radians, indexed by the Axis constants.
type Angles [3]float64

func (a Angles) Azimuth() float64 { return a[AxisAzimuth] }
func (a Angles) Pitch() float64   { return a[AxisPitch] }
func (a Angles) Roll() float64    { return a[AxisRoll] }

// AnglesFromMatrix extracts azimuth (about up), pitch (about east) and roll
// (about north) from a rotation matrix.
func AnglesFromMatrix(m RotationMatrix) Angles {
	// Rounding can push |m[7]| marginally past 1.
	s := math.Max(-1, math.Min(1, -m[7]))
	return Angles{
		math.Atan2(m[1], m[4]),
		math.Asin(s),
		math.Atan2(-m[6], m[8]),
	}
}

// MatrixFromAngles rebuilds a rotation matrix from angles, composing roll,
// then pitch, then azimuth. It is the inverse of AnglesFromMatrix for pitch in
// (-π/2, π/2).
func MatrixFromAngles(o Angles) RotationMatrix {
	sinX, cosX := math.Sincos(o[AxisPitch])
	sinY, cosY := math.Sincos(o[AxisRoll])
	sinZ, cosZ := math.Sincos(o[AxisAzimuth])

	xM := RotationMatrix{
		1, 0, 0,
		0, cosX, sinX,
		0, -sinX, cosX,
	}
	yM := RotationMatrix{
		cosY, 0, sinY,
		0, 1, 0,
		-sinY, 0, cosY,
	}
	zM := RotationMatrix{
		cosZ, sinZ, 0,
		-sinZ, cosZ, 0,
		0, 0, 1,
	}
	return zM.Mul(xM.Mul(yM))
}

// TiltCompensated builds the device→world matrix from a gravity (accelerometer)
// and magnetic field reading:
//
//	east  = unit(magnet × gravity)
//	north = unit(gravity × east)
//	up    = unit(gravity)
//
// ok is false in free fall or when the field is nearly parallel to gravity.
func TiltCompensated(gravity, magnet r3.Vec) (m RotationMatrix, ok bool) {
	normsqA := r3.Norm2(gravity)
	if normsqA < freeFallGravitySquared {
		return RotationMatrix{}, false
	}
	h := r3.Cross(magnet, gravity)
	normH := r3.Norm(h)
	if normH < minFieldCrossNorm || math.IsNaN(normH) {
		return RotationMatrix{}, false
	}
	east := r3.Scale(1/normH, h)
	up := r3.Scale(1/math.Sqrt(normsqA), gravity)
	north := r3.Unit(r3.Cross(up, east))
	return RotationMatrix{
		east.X, east.Y, east.Z,
		north.X, north.Y, north.Z,
		up.X, up.Y, up.Z,
	}, true
}

// DeltaRotation converts an angular velocity (rad/s) integrated over
// 2·halfDt seconds into a rotation matrix, through the axis-angle quaternion
//
//	q = (cos(|ω|·halfDt), sin(|ω|·halfDt)·ω/|ω|)
//
// Angular speeds at or below epsilon have no defined axis and give identity.
func DeltaRotation(omega r3.Vec, halfDt, epsilon float64) RotationMatrix {
	mag := r3.Norm(omega)
	if mag <= epsilon || halfDt <= 0 {
		return Identity()
	}
	axis := r3.Scale(1/mag, omega)
	sin, cos := math.Sincos(mag * halfDt)
	q := quat.Number{Real: cos, Imag: sin * axis.X, Jmag: sin * axis.Y, Kmag: sin * axis.Z}
	return fromMat(r3.Rotation(q).Mat())
}
