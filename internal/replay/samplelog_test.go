package replay

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"indoornav/internal/sensors"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return ctx.Err()
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, accel, 0.1, -0.2, 9.8
10, steps, 4
25,magnet,-22,1e-3,-40
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}
	if !recs[0].Start {
		t.Fatalf("expected START marker, got %+v", recs[0])
	}
	if got, want := recs[1].Sample, sensors.Accel(0.1, -0.2, 9.8, 0); got != want {
		t.Fatalf("record 1 = %+v, want %+v", got, want)
	}
	if recs[2].At != 10*time.Nanosecond || recs[2].Sample.Kind != sensors.KindStepCounter || recs[2].Sample.Steps != 4 {
		t.Fatalf("unexpected record 2: %+v", recs[2])
	}
	if got, want := recs[3].Sample.Vec, (r3.Vec{X: -22, Y: 0.001, Z: -40}); got != want {
		t.Fatalf("record 3 vec = %+v, want %+v", got, want)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, line := range []string{
		"not-a-valid-line",
		"-1,steps,1",
		"x,steps,1",
		"0,baro,1",
		"0,accel,1,2",
		"0,gyro,1,2,z",
		"0,steps,1,2",
		"0,steps,many",
	} {
		if _, err := NewReader(strings.NewReader(line + "\n")).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 1 * time.Second, Start: true},
		{At: 1 * time.Second, Sample: sensors.StepCount(1, 0)},
		{At: 1*time.Second + 100*time.Nanosecond, Sample: sensors.StepCount(2, 0)},
		{At: 2 * time.Second, Start: true},
		{At: 2*time.Second + 50*time.Nanosecond, Sample: sensors.StepCount(3, 0)},
	}

	var got []sensors.Sample
	err := Play(context.Background(), recs, 1.0, false, fs, func(s sensors.Sample) error {
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	want := []sensors.Sample{
		sensors.StepCount(1, 0),
		sensors.StepCount(2, 100),
		sensors.StepCount(3, 100),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("samples = %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Sample: sensors.StepCount(1, 0)},
		{At: 100 * time.Nanosecond, Sample: sensors.StepCount(2, 0)},
	}

	var last sensors.Sample
	err := Play(context.Background(), recs, 2.0, false, fs, func(s sensors.Sample) error {
		last = s
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
	// Timestamps follow recorded time, not wall time.
	if last.TimestampNs != 100 {
		t.Fatalf("timestamp=%d want 100", last.TimestampNs)
	}
}

func TestPlay_LoopKeepsClockMonotonic(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Sample: sensors.Gyro(0, 0, 1, 0)},
		{At: 10 * time.Millisecond, Sample: sensors.Gyro(0, 0, 1, 0)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stamps []int64
	err := Play(ctx, recs, 1.0, true, fs, func(s sensors.Sample) error {
		stamps = append(stamps, s.TimestampNs)
		if len(stamps) == 6 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Play() err=%v want context.Canceled", err)
	}
	for i := 1; i < len(stamps); i++ {
		if stamps[i] < stamps[i-1] {
			t.Fatalf("timestamps went backwards: %v", stamps)
		}
	}
	if stamps[len(stamps)-1] != 30*int64(time.Millisecond) {
		t.Fatalf("stamps=%v", stamps)
	}
}

func TestPlay_InvalidArgs(t *testing.T) {
	recs := []Record{{At: 0, Sample: sensors.StepCount(1, 0)}}
	cb := func(sensors.Sample) error { return nil }
	if err := Play(context.Background(), recs, 0, false, nil, cb); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(context.Background(), nil, 1, false, nil, cb); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected error for no records")
	}
	if err := Play(context.Background(), recs, 1, false, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestPlay_CanceledContextEmitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := 0
	err := Play(ctx, []Record{{Sample: sensors.StepCount(1, 0)}}, 1, false, nil, func(sensors.Sample) error {
		n++
		return nil
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if n != 0 {
		t.Fatalf("expected 0 samples, got %d", n)
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.WriteSample(time.Unix(0, 20), sensors.Accel(0.5, -1, 9.80665, 0)); err != nil {
		t.Fatalf("WriteSample() error: %v", err)
	}
	if err := w.WriteSample(time.Unix(0, 30), sensors.StepCount(7, 0)); err != nil {
		t.Fatalf("WriteSample() error: %v", err)
	}
	if err := w.WriteSample(time.Unix(0, 40), sensors.Sample{}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if err := w.WriteSample(time.Unix(0, 50), sensors.StepCount(8, 0)); err == nil {
		t.Fatalf("expected error after Close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if want := "START\n20,accel,0.5,-1,9.80665\n30,steps,7\n"; string(b) != want {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestRecordReplay_RoundTripSamplesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}

	in := []sensors.Sample{
		sensors.Accel(0.013, -0.2, 9.81, 0),
		sensors.Magnet(-21.7, 3.25, -40.125, 0),
		sensors.Gyro(0, 0, -0.1, 0),
		sensors.StepCount(12, 0),
	}
	src := sensors.SourceFunc(func(ctx context.Context, emit func(sensors.Sample)) error {
		for _, s := range in {
			emit(s)
		}
		return nil
	})
	now := time.Now()
	rec := &Recorder{Source: src, W: w, now: func() time.Time { return now }}
	var passed []sensors.Sample
	if err := rec.Run(context.Background(), func(s sensors.Sample) { passed = append(passed, s) }); err != nil {
		t.Fatalf("Recorder.Run() error: %v", err)
	}
	if !reflect.DeepEqual(passed, in) {
		t.Fatalf("recorder altered samples: %+v", passed)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	fs := &fakeSleeper{}
	var out []sensors.Sample
	source := &Source{Records: recs, Speed: 1, Sleeper: fs}
	if err := source.Run(context.Background(), func(s sensors.Sample) { out = append(out, s) }); err != nil {
		t.Fatalf("Source.Run() error: %v", err)
	}
	if len(fs.slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", fs.slept)
	}
	if len(out) != len(in) {
		t.Fatalf("replayed %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Kind != in[i].Kind || out[i].Vec != in[i].Vec || out[i].Steps != in[i].Steps {
			t.Fatalf("sample %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestRecorder_LogsWriteFailureOnce(t *testing.T) {
	w, err := CreateWriter(filepath.Join(t.TempDir(), "closed.log"))
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	_ = w.Close()

	var logged []string
	src := sensors.SourceFunc(func(ctx context.Context, emit func(sensors.Sample)) error {
		emit(sensors.StepCount(1, 0))
		emit(sensors.StepCount(2, 0))
		return nil
	})
	n := 0
	rec := &Recorder{Source: src, W: w, Logf: func(format string, args ...any) { logged = append(logged, format) }}
	if err := rec.Run(context.Background(), func(sensors.Sample) { n++ }); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n != 2 || len(logged) != 1 {
		t.Fatalf("emitted=%d logged=%d want 2, 1", n, len(logged))
	}
}

func TestSummarize(t *testing.T) {
	recs := []Record{
		{At: 0, Start: true},
		{At: 0, Sample: sensors.StepCount(3, 0)},
		{At: 200 * time.Millisecond, Sample: sensors.Accel(0, 0, 9.8, 0)},
		{At: 300 * time.Millisecond, Sample: sensors.Accel(0, 0, 9.8, 0)},
		{At: 0, Start: true},
		{At: 1 * time.Second, Sample: sensors.StepCount(9, 0)},
	}

	s := Summarize(recs)
	if s.Segments != 2 || s.Samples != 4 {
		t.Fatalf("segments=%d samples=%d want 2, 4", s.Segments, s.Samples)
	}
	if s.KindCounts[sensors.KindAccel] != 2 || s.KindCounts[sensors.KindStepCounter] != 2 {
		t.Fatalf("kind counts=%v", s.KindCounts)
	}
	if !s.HaveSteps || s.FirstSteps != 3 || s.LastSteps != 9 {
		t.Fatalf("steps=%d->%d have=%v", s.FirstSteps, s.LastSteps, s.HaveSteps)
	}
	if s.MaxDuration != time.Second {
		t.Fatalf("maxDuration=%s want 1s", s.MaxDuration)
	}

	var buf bytes.Buffer
	s.Print(&buf, "walk.log")
	out := buf.String()
	for _, want := range []string{"path: walk.log", "segments: 2", "samples: 4", "steps: 3 -> 9", "  accel: 2", "  steps: 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output: %q", want, out)
		}
	}
}
