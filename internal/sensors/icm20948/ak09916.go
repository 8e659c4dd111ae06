package icm20948

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	magAddrDefault = 0x0C

	magRegWIA2  = 0x01
	magWhoAmI   = 0x09
	magRegST1   = 0x10
	magRegHXL   = 0x11 // HXL..HZH, TMPS, ST2
	magRegCNTL2 = 0x31
	magRegCNTL3 = 0x32

	magBitDRDY = 0x01
	magBitHOFL = 0x08 // in ST2

	magModeCont100Hz = 0x08
	magSoftReset     = 0x01

	magScale = 0.15 // µT/LSB
)

func DefaultMagAddress() uint16 { return magAddrDefault }

type magnetometer struct {
	dev regIO

	// last good reading, reused while no new data is ready.
	last  r3.Vec
	valid bool
}

func newMagnetometer(dev regIO) (*magnetometer, error) {
	who, err := dev.ReadRegU8(magRegWIA2)
	if err != nil {
		return nil, fmt.Errorf("ak09916: whoami read failed: %w", err)
	}
	if who != magWhoAmI {
		return nil, fmt.Errorf("ak09916: whoami=0x%02X want 0x%02X", who, magWhoAmI)
	}
	if err := dev.WriteReg(magRegCNTL3, magSoftReset); err != nil {
		return nil, fmt.Errorf("ak09916: reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := dev.WriteReg(magRegCNTL2, magModeCont100Hz); err != nil {
		return nil, fmt.Errorf("ak09916: mode set failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	return &magnetometer{dev: dev}, nil
}

// read returns the latest field in the accel/gyro frame. The AK09916 Y and
// Z axes point opposite to the ICM-20948 ones. ok is false until the first
// valid measurement.
func (m *magnetometer) read() (r3.Vec, bool, error) {
	st1, err := m.dev.ReadRegU8(magRegST1)
	if err != nil {
		return r3.Vec{}, false, fmt.Errorf("ak09916: status read failed: %w", err)
	}
	if st1&magBitDRDY == 0 {
		return m.last, m.valid, nil
	}

	// Reading through ST2 releases the data registers.
	buf := make([]byte, 8)
	if err := m.dev.ReadReg(magRegHXL, buf); err != nil {
		return r3.Vec{}, false, fmt.Errorf("ak09916: data read failed: %w", err)
	}
	if buf[7]&magBitHOFL != 0 {
		return m.last, m.valid, nil
	}

	hx := int16(buf[1])<<8 | int16(buf[0])
	hy := int16(buf[3])<<8 | int16(buf[2])
	hz := int16(buf[5])<<8 | int16(buf[4])
	m.last = r3.Vec{X: float64(hx) * magScale, Y: -float64(hy) * magScale, Z: -float64(hz) * magScale}
	m.valid = true
	return m.last, true, nil
}
