// Package sensors defines the raw sample stream consumed by the fusion service.
package sensors

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAccel
	KindGyro
	KindMagnet
	KindStepCounter
)

var kindNames = [...]string{"unknown", "accel", "gyro", "magnet", "steps"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if i > 0 && n == s {
			return Kind(i), nil
		}
	}
	return KindUnknown, fmt.Errorf("sensors: unknown sample kind %q", s)
}

// Sample is one reading from a sensor.
//
// Vec carries accelerometer (m/s²), gyroscope (rad/s) or magnetometer (µT)
// readings in the device frame. Steps carries the cumulative step counter.
// TimestampNs is monotonic nanoseconds; it is required for gyro samples.
type Sample struct {
	Kind        Kind
	Vec         r3.Vec
	Steps       int
	TimestampNs int64
}

func Accel(x, y, z float64, tsNs int64) Sample {
	return Sample{Kind: KindAccel, Vec: r3.Vec{X: x, Y: y, Z: z}, TimestampNs: tsNs}
}

func Gyro(x, y, z float64, tsNs int64) Sample {
	return Sample{Kind: KindGyro, Vec: r3.Vec{X: x, Y: y, Z: z}, TimestampNs: tsNs}
}

func Magnet(x, y, z float64, tsNs int64) Sample {
	return Sample{Kind: KindMagnet, Vec: r3.Vec{X: x, Y: y, Z: z}, TimestampNs: tsNs}
}

func StepCount(n int, tsNs int64) Sample {
	return Sample{Kind: KindStepCounter, Steps: n, TimestampNs: tsNs}
}

// Source produces samples until ctx is done or the source is exhausted.
// Implementations must not call emit after Run returns, and must release any
// device handles before returning.
type Source interface {
	Run(ctx context.Context, emit func(Sample)) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, emit func(Sample)) error

func (f SourceFunc) Run(ctx context.Context, emit func(Sample)) error { return f(ctx, emit) }
