package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"indoornav/internal/sensors"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<kind>,<fields...>
//   where t_ns is nanoseconds since START and kind is accel, gyro, magnet
//   (three comma-separated floats x,y,z) or steps (one integer).

// ErrNoRecords is returned by Play for an empty log.
var ErrNoRecords = errors.New("replay: no records")

type Record struct {
	At     time.Duration
	Sample sensors.Sample

	// Start marks a START line; Sample is zero.
	Start bool
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 3 {
		return Record{}, fmt.Errorf("invalid replay line (want <t_ns>,<kind>,<fields...>): %q", line)
	}

	tsNs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid replay timestamp %q: %w", fields[0], err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid replay timestamp (negative): %d", tsNs)
	}
	kind, err := sensors.ParseKind(fields[1])
	if err != nil {
		return Record{}, err
	}

	rec := Record{At: time.Duration(tsNs)}
	switch kind {
	case sensors.KindStepCounter:
		if len(fields) != 3 {
			return Record{}, fmt.Errorf("steps wants 1 field, got %d", len(fields)-2)
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return Record{}, fmt.Errorf("invalid step count %q: %w", fields[2], err)
		}
		rec.Sample = sensors.StepCount(n, tsNs)
	default:
		if len(fields) != 5 {
			return Record{}, fmt.Errorf("%s wants 3 fields, got %d", kind, len(fields)-2)
		}
		var v [3]float64
		for i := range v {
			v[i], err = strconv.ParseFloat(fields[2+i], 64)
			if err != nil {
				return Record{}, fmt.Errorf("invalid %s component %q: %w", kind, fields[2+i], err)
			}
		}
		rec.Sample = sensors.Sample{Kind: kind, Vec: r3.Vec{X: v[0], Y: v[1], Z: v[2]}, TimestampNs: tsNs}
	}
	return rec, nil
}

// ReadFile reads every record in the log at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer appends samples to a log. It is safe for concurrent use by several
// sources.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) WriteSample(now time.Time, s sensors.Sample) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	var err error
	switch s.Kind {
	case sensors.KindAccel, sensors.KindGyro, sensors.KindMagnet:
		_, err = fmt.Fprintf(ww.w, "%d,%s,%s,%s,%s\n", d.Nanoseconds(), s.Kind,
			formatFloat(s.Vec.X), formatFloat(s.Vec.Y), formatFloat(s.Vec.Z))
	case sensors.KindStepCounter:
		_, err = fmt.Fprintf(ww.w, "%d,%s,%d\n", d.Nanoseconds(), s.Kind, s.Steps)
	default:
		return fmt.Errorf("replay: cannot record sample kind %s", s.Kind)
	}
	return err
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play replays records with their relative timing until the records run out
// (or forever with loop) or ctx is done.
//
// START markers reset the origin. Emitted samples are re-stamped with a
// playback clock that only moves forward, across START markers and loops, so
// gyro integration sees increasing timestamps.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(ctx context.Context, records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(sensors.Sample) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if !hasSamples(records) {
		return ErrNoRecords
	}

	var clock time.Duration
	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.Start {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				clock += wait
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}

			s := r.Sample
			s.TimestampNs = clock.Nanoseconds()
			if err := cb(s); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}

func hasSamples(records []Record) bool {
	for _, r := range records {
		if !r.Start {
			return true
		}
	}
	return false
}

// Source plays a log as a sensors.Source.
type Source struct {
	Records []Record
	Speed   float64
	Loop    bool
	Sleeper Sleeper
}

func (src *Source) Run(ctx context.Context, emit func(sensors.Sample)) error {
	return Play(ctx, src.Records, src.Speed, src.Loop, src.Sleeper, func(s sensors.Sample) error {
		emit(s)
		return nil
	})
}

// Recorder tees every sample of a source into a Writer before emitting it.
// Write failures are logged once and do not interrupt the source.
type Recorder struct {
	Source sensors.Source
	W      *Writer
	Logf   func(format string, args ...any)

	now      func() time.Time
	failOnce sync.Once
}

func (rc *Recorder) Run(ctx context.Context, emit func(sensors.Sample)) error {
	if rc.Source == nil {
		return errors.New("replay: recorder has no source")
	}
	now := rc.now
	if now == nil {
		now = time.Now
	}
	return rc.Source.Run(ctx, func(s sensors.Sample) {
		if rc.W != nil {
			if err := rc.W.WriteSample(now(), s); err != nil && rc.Logf != nil {
				rc.failOnce.Do(func() { rc.Logf("replay: record failed: %v", err) })
			}
		}
		emit(s)
	})
}
