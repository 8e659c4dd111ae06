package orientation

// Tuning defaults. They reproduce the behavior of the phone build this
// estimator was first tuned on.
const (
	// DefaultProcessNoise is the Kalman Q per second of fuse period: the gyro
	// angle drifts slowly.
	DefaultProcessNoise = 0.001
	// DefaultMeasurementNoise is the Kalman R: accel/mag orientation is locally
	// noisy but unbiased.
	DefaultMeasurementNoise = 0.03
	// DefaultInitialVariance is the estimation-error variance before the first tick.
	DefaultInitialVariance = 1.0
	// DefaultGyroEpsilon is the angular speed (rad/s) below which the rotation
	// axis is undefined and the increment is treated as zero rotation.
	DefaultGyroEpsilon = 1e-9
)

const (
	// StandardGravity in m/s².
	StandardGravity = 9.80665

	// Accelerometer readings with |a|² below this are treated as free fall and
	// do not produce an accel/mag orientation.
	freeFallGravitySquared = 0.01 * StandardGravity * StandardGravity

	// |magnet × gravity| below this means the field is (nearly) parallel to
	// gravity, or absent, and the east axis is undefined.
	minFieldCrossNorm = 0.1

	nanosPerSecond = 1e9
)
