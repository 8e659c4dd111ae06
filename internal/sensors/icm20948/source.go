package icm20948

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"indoornav/internal/i2c"
	"indoornav/internal/sensors"
)

const (
	DefaultInterval = 10 * time.Millisecond

	// maxReadFailures consecutive failed reads end the source.
	maxReadFailures = 50
)

type Config struct {
	I2CBus   int
	IMUAddr  uint16
	MagAddr  uint16
	Interval time.Duration

	// NoMagnetometer skips the AK09916 (heading will never initialize
	// without another magnetometer source).
	NoMagnetometer bool
}

type reader interface {
	Read() (Sample, error)
}

// Source polls the IMU and emits accelerometer, gyroscope and magnetometer
// samples with timestamps relative to the first poll.
type Source struct {
	cfg  Config
	open func(Config) (reader, io.Closer, error)
	now  func() time.Time
}

func NewSource(cfg Config) *Source {
	if cfg.I2CBus == 0 {
		cfg.I2CBus = 1
	}
	if cfg.IMUAddr == 0 {
		cfg.IMUAddr = DefaultAddress()
	}
	if cfg.MagAddr == 0 {
		cfg.MagAddr = DefaultMagAddress()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Source{cfg: cfg, open: openDevice, now: time.Now}
}

func openDevice(cfg Config) (reader, io.Closer, error) {
	busPath := i2c.BusPath(cfg.I2CBus)
	bus, err := i2c.Open(busPath)
	if err != nil {
		return nil, nil, fmt.Errorf("icm20948: open %s: %w", busPath, err)
	}
	var mag *i2c.Dev
	if !cfg.NoMagnetometer {
		mag = bus.Dev(cfg.MagAddr)
	}
	dev, err := New(bus.Dev(cfg.IMUAddr), mag)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return dev, bus, nil
}

func (s *Source) Run(ctx context.Context, emit func(sensors.Sample)) error {
	dev, closer, err := s.open(s.cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	log.Printf("icm20948: polling bus %d imu=0x%02X every %s", s.cfg.I2CBus, s.cfg.IMUAddr, s.cfg.Interval)

	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()

	start := s.now()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		smp, err := dev.Read()
		if err != nil {
			failures++
			if failures == 1 {
				log.Printf("icm20948: read failed: %v", err)
			}
			if failures >= maxReadFailures {
				return fmt.Errorf("icm20948: %d consecutive read failures: %w", failures, err)
			}
			continue
		}
		if failures > 0 {
			log.Printf("icm20948: reads recovered after %d failures", failures)
			failures = 0
		}

		ts := s.now().Sub(start).Nanoseconds()
		emit(sensors.Sample{Kind: sensors.KindAccel, Vec: smp.Accel, TimestampNs: ts})
		if smp.MagnetOK {
			emit(sensors.Sample{Kind: sensors.KindMagnet, Vec: smp.Magnet, TimestampNs: ts})
		}
		emit(sensors.Sample{Kind: sensors.KindGyro, Vec: smp.Gyro, TimestampNs: ts})
	}
}
