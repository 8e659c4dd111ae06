package icm20948

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"indoornav/internal/sensors"
)

type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp

	// Optional overrides.
	readErrFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	if err := f.readErrFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func (f *fakeI2C) wrote(reg, val byte) bool {
	for _, w := range f.writes {
		if w.reg == reg && w.val == val {
			return true
		}
	}
	return false
}

func noSleep(t *testing.T) {
	t.Helper()
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })
}

func newFakeMag() *fakeI2C {
	return &fakeI2C{regs: map[byte][]byte{
		magRegWIA2: {magWhoAmI},
		magRegST1:  {magBitDRDY},
		// hx=100, hy=-200, hz=400, TMPS, ST2
		magRegHXL: {0x64, 0x00, 0x38, 0xFF, 0x90, 0x01, 0x00, 0x00},
	}}
}

func TestNew_WhoAmIMismatch(t *testing.T) {
	noSleep(t)

	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {0x00}}}
	_, err := newWithIO(f, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_WritesExpectedInitRegisters(t *testing.T) {
	noSleep(t)

	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	d, err := newWithIO(f, nil)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if d.HasMagnetometer() {
		t.Fatalf("expected no magnetometer")
	}

	if !f.wrote(regPwrMgmt1, bitReset) {
		t.Fatalf("expected reset write to PWR_MGMT_1")
	}
	if !f.wrote(regPwrMgmt1, 0x01) {
		t.Fatalf("expected wake write to PWR_MGMT_1")
	}
	if !f.wrote(regBankSel, bank2<<4) {
		t.Fatalf("expected bank2 select write")
	}
	if !f.wrote(regGyroConfig, fsGyro500dps) || !f.wrote(regAccelConfig, fsAccel4g) {
		t.Fatalf("expected full-scale config writes, got %+v", f.writes)
	}
	if f.wrote(regIntPinCfg, bitBypassEn) {
		t.Fatalf("bypass enabled without a magnetometer")
	}
}

func TestNew_EnablesBypassAndStartsMagnetometer(t *testing.T) {
	noSleep(t)

	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	m := newFakeMag()
	d, err := newWithIO(f, m)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if !d.HasMagnetometer() {
		t.Fatalf("expected magnetometer")
	}
	if !f.wrote(regUserCtrl, 0x00) || !f.wrote(regIntPinCfg, bitBypassEn) {
		t.Fatalf("expected bypass writes, got %+v", f.writes)
	}
	if !m.wrote(magRegCNTL3, magSoftReset) || !m.wrote(magRegCNTL2, magModeCont100Hz) {
		t.Fatalf("expected magnetometer reset and mode writes, got %+v", m.writes)
	}
}

func TestNew_MagnetometerWhoAmIMismatch(t *testing.T) {
	noSleep(t)

	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	m := newFakeMag()
	m.regs[magRegWIA2] = []byte{0x48}
	if _, err := newWithIO(f, m); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRead_ScalesToSIUnits(t *testing.T) {
	noSleep(t)

	// ax=16384 -> 2g when full-scale=4g
	// gx=16384 -> 250 dps when full-scale=500dps
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	f.regs[regAccelXoutH] = []byte{
		0x40, 0x00, // ax
		0x00, 0x00, // ay
		0xC0, 0x00, // az = -16384 -> -2g
		0x40, 0x00, // gx
		0x00, 0x00, // gy
		0xC0, 0x00, // gz = -16384 -> -250 dps
	}

	d, err := newWithIO(f, newFakeMag())
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	wantA := 2 * standardGravity
	if math.Abs(s.Accel.X-wantA) > 1e-9 || math.Abs(s.Accel.Z+wantA) > 1e-9 || s.Accel.Y != 0 {
		t.Fatalf("Accel=%+v want (%v, 0, %v)", s.Accel, wantA, -wantA)
	}
	wantG := 250 * math.Pi / 180
	if math.Abs(s.Gyro.X-wantG) > 1e-9 || math.Abs(s.Gyro.Z+wantG) > 1e-9 {
		t.Fatalf("Gyro=%+v want (%v, 0, %v)", s.Gyro, wantG, -wantG)
	}
	if !s.MagnetOK {
		t.Fatalf("expected magnet reading")
	}
	// Y and Z flip into the accel/gyro frame.
	wantM := r3.Vec{X: 15, Y: 30, Z: -60}
	if r3.Norm(r3.Sub(s.Magnet, wantM)) > 1e-9 {
		t.Fatalf("Magnet=%+v want %+v", s.Magnet, wantM)
	}
}

func TestRead_MagnetometerNotReadyKeepsLast(t *testing.T) {
	noSleep(t)

	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}, regAccelXoutH: make([]byte, 12)}}
	m := newFakeMag()
	m.regs[magRegST1] = []byte{0x00}
	d, err := newWithIO(f, m)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.MagnetOK {
		t.Fatalf("magnet valid before the first measurement")
	}

	m.regs[magRegST1] = []byte{magBitDRDY}
	if s, _ = d.Read(); !s.MagnetOK {
		t.Fatalf("expected magnet reading")
	}
	first := s.Magnet

	// Overflow is ignored.
	m.regs[magRegHXL] = []byte{0xFF, 0x7F, 0, 0, 0, 0, 0, magBitHOFL}
	if s, _ = d.Read(); !s.MagnetOK || s.Magnet != first {
		t.Fatalf("overflow replaced the reading: %+v", s.Magnet)
	}
}

type fakeReader struct {
	samples []Sample
	errs    []error
	i       int
}

func (r *fakeReader) Read() (Sample, error) {
	i := r.i
	r.i++
	if i < len(r.errs) && r.errs[i] != nil {
		return Sample{}, r.errs[i]
	}
	if i < len(r.samples) {
		return r.samples[i], nil
	}
	return Sample{Accel: r3.Vec{Z: standardGravity}}, nil
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error { c.n++; return nil }

func TestSource_EmitsSamplesAndClosesBus(t *testing.T) {
	rd := &fakeReader{samples: []Sample{
		{Accel: r3.Vec{Z: 9.8}, Gyro: r3.Vec{Z: 0.1}, Magnet: r3.Vec{Y: 22}, MagnetOK: true},
		{Accel: r3.Vec{Z: 9.7}, Gyro: r3.Vec{Z: 0.2}},
	}}
	cc := &closeCounter{}
	src := NewSource(Config{Interval: time.Millisecond})
	src.open = func(Config) (reader, io.Closer, error) { return rd, cc, nil }

	ctx, cancel := context.WithCancel(context.Background())
	var got []sensors.Sample
	err := src.Run(ctx, func(s sensors.Sample) {
		got = append(got, s)
		if len(got) == 5 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v want context.Canceled", err)
	}
	if cc.n != 1 {
		t.Fatalf("bus closed %d times", cc.n)
	}

	wantKinds := []sensors.Kind{sensors.KindAccel, sensors.KindMagnet, sensors.KindGyro, sensors.KindAccel, sensors.KindGyro}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Fatalf("sample %d kind=%s want %s", i, got[i].Kind, k)
		}
	}
	if got[4].TimestampNs < got[0].TimestampNs {
		t.Fatalf("timestamps went backwards")
	}
}

func TestSource_GivesUpAfterRepeatedFailures(t *testing.T) {
	errs := make([]error, maxReadFailures)
	for i := range errs {
		errs[i] = errors.New("nack")
	}
	src := NewSource(Config{Interval: time.Millisecond})
	src.open = func(Config) (reader, io.Closer, error) { return &fakeReader{errs: errs}, &closeCounter{}, nil }

	n := 0
	err := src.Run(context.Background(), func(sensors.Sample) { n++ })
	if err == nil {
		t.Fatalf("expected error")
	}
	if n != 0 {
		t.Fatalf("emitted %d samples", n)
	}
}

func TestSource_OpenError(t *testing.T) {
	src := NewSource(Config{})
	src.open = func(Config) (reader, io.Closer, error) { return nil, nil, errors.New("no bus") }
	if err := src.Run(context.Background(), func(sensors.Sample) {}); err == nil {
		t.Fatalf("expected error")
	}
}
