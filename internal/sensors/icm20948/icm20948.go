package icm20948

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"indoornav/internal/i2c"
)

var sleep = time.Sleep

// Minimal ICM-20948 driver: probe, accel/gyro reads and the on-package
// AK09916 magnetometer reached through I2C bypass.
//
// - WHO_AM_I at 0x00 should return 0xEA.
// - Readings are converted to phone-sensor units: m/s², rad/s and µT.

const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regUserCtrl   = 0x03
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	regIntPinCfg  = 0x0F
	bitBypassEn   = 0x02
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D // contiguous accel+gyro block

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig   = 0x01
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	fsGyro500dps = 0x02 // FS_SEL=1 at bits [2:1]
	fsAccel4g    = 0x02

	sampleRateHz = 100

	standardGravity = 9.80665
)

type Sample struct {
	Time time.Time

	// Accel in m/s², +Z up when lying flat face up.
	Accel r3.Vec

	// Gyro in rad/s.
	Gyro r3.Vec

	// Magnet in µT, aligned with the accel/gyro axes. Valid only when
	// MagnetOK is set.
	Magnet   r3.Vec
	MagnetOK bool
}

type Device struct {
	dev regIO
	mag *magnetometer

	curBank byte

	// scales based on configured full-scale.
	scaleAccel float64
	scaleGyro  float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

// New initializes the IMU at dev. When mag is non-nil the I2C bypass is
// enabled and the AK09916 at that address is started too.
func New(dev, mag *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	if mag == nil {
		return newWithIO(dev, nil)
	}
	return newWithIO(dev, mag)
}

func newWithIO(dev, mag regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{dev: dev, curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(); err != nil {
		return nil, err
	}

	if mag != nil {
		if err := d.enableBypass(); err != nil {
			return nil, err
		}
		m, err := newMagnetometer(mag)
		if err != nil {
			return nil, err
		}
		d.mag = m
	}
	return d, nil
}

func (d *Device) init() error {
	if err := d.setBank(0); err != nil {
		return err
	}

	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset returns to bank 0.
	d.curBank = 0

	// Wake + PLL clock. CLKSEL[2:0] must be 1..5 for full gyro performance.
	if err := d.dev.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(bank2); err != nil {
		return err
	}

	// ICM base rate is 1125 Hz; rate = 1125/(div+1).
	div := byte(1125/sampleRateHz - 1)
	_ = d.dev.WriteReg(regGyroSmplrt, div)
	_ = d.dev.WriteReg(regAccelSmplrt2, div)

	if err := d.dev.WriteReg(regGyroConfig, fsGyro500dps); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}

	if err := d.setBank(0); err != nil {
		return err
	}

	d.scaleAccel = 4.0 / 32768.0 * standardGravity
	d.scaleGyro = 500.0 / 32768.0 * math.Pi / 180
	return nil
}

// enableBypass turns off the internal I2C master and connects the auxiliary
// bus, where the AK09916 lives, to the host bus.
func (d *Device) enableBypass() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regUserCtrl, 0x00); err != nil {
		return fmt.Errorf("icm20948: user ctrl failed: %w", err)
	}
	if err := d.dev.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: bypass enable failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// HasMagnetometer reports whether the AK09916 was started.
func (d *Device) HasMagnetometer() bool { return d != nil && d.mag != nil }

func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	buf := make([]byte, 12)
	if err := d.dev.ReadReg(regAccelXoutH, buf); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}

	ax := int16(buf[0])<<8 | int16(buf[1])
	ay := int16(buf[2])<<8 | int16(buf[3])
	az := int16(buf[4])<<8 | int16(buf[5])
	gx := int16(buf[6])<<8 | int16(buf[7])
	gy := int16(buf[8])<<8 | int16(buf[9])
	gz := int16(buf[10])<<8 | int16(buf[11])

	s := Sample{
		Time:  time.Now(),
		Accel: r3.Scale(d.scaleAccel, r3.Vec{X: float64(ax), Y: float64(ay), Z: float64(az)}),
		Gyro:  r3.Scale(d.scaleGyro, r3.Vec{X: float64(gx), Y: float64(gy), Z: float64(gz)}),
	}
	if d.mag != nil {
		m, ok, err := d.mag.read()
		if err != nil {
			return Sample{}, err
		}
		s.Magnet, s.MagnetOK = m, ok
	}
	return s, nil
}
