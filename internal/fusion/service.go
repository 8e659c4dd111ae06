// Package fusion routes raw sensor samples into the orientation estimator and
// the dead-reckoning tracker, runs the fixed-rate Kalman correction, and
// publishes the combined state.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"indoornav/internal/orientation"
	"indoornav/internal/pdr"
	"indoornav/internal/sensors"
)

const (
	DefaultWarmup = 5 * time.Second
	DefaultPeriod = 30 * time.Millisecond
)

type Config struct {
	// Warmup delays the first fuse tick after Start.
	Warmup time.Duration
	// Period is the fuse tick period and the Kalman dt.
	Period time.Duration

	Orientation orientation.Config
	Tracker     pdr.Config
}

// State is what the display side sees after every routed sample. Seq grows
// by one per routed sample and is never reused, also across Reset.
type State struct {
	Seq        uint64    `json:"seq"`
	HeadingDeg float64   `json:"heading_deg"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	StepDelta  int       `json:"step_delta"`
	Steps      int       `json:"steps"`
	Stride     float64   `json:"stride"`
	Tracking   bool      `json:"tracking"`
	FuseTicks  uint64    `json:"fuse_ticks"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Sink receives published states. Publish is called from the goroutine that
// delivered the sample and must not block for long.
type Sink interface {
	Publish(State)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(State)

func (f SinkFunc) Publish(s State) { f(s) }

// Sinks fans a state out to several sinks in order.
type Sinks []Sink

func (ss Sinks) Publish(s State) {
	for _, sink := range ss {
		if sink != nil {
			sink.Publish(s)
		}
	}
}

type Service struct {
	cfg  Config
	sink Sink

	// pubMu is taken before mu and held through Publish, so sinks see states
	// in Seq order when several sources deliver at once.
	pubMu sync.Mutex

	// mu guards est, trk, seq and snap. Sensor delivery and the fuse ticker
	// both mutate the estimator.
	mu    sync.Mutex
	est   *orientation.Estimator
	trk   *pdr.Tracker
	ticks uint64
	seq   uint64
	snap  State

	now func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func New(cfg Config, sink Sink) *Service {
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	return &Service{
		cfg:    cfg,
		sink:   sink,
		est:    orientation.NewEstimator(cfg.Orientation),
		trk:    pdr.NewTracker(cfg.Tracker),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start launches the fuse loop: after Warmup, Fuse runs every Period until
// ctx is done or Close is called.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("fusion: service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("fusion: ctx is nil")
	}
	started := false
	s.startOnce.Do(func() {
		started = true
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fuseLoop(ctx)
		}()
	})
	if !started {
		return fmt.Errorf("fusion: already started")
	}
	return nil
}

// Close stops the fuse loop and waits for it to exit. It is safe to call
// more than once.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Run is a whole tracking session: it starts the fuse loop and every source,
// routes their samples, and returns once ctx is done, Close is called, or
// every source has finished, always after all of them have stopped. Source
// errors are logged; the session keeps running on the remaining sources.
func (s *Service) Run(ctx context.Context, sources ...sensors.Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("fusion: no sources")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()

	var srcWG sync.WaitGroup
	for i, src := range sources {
		if src == nil {
			continue
		}
		srcWG.Add(1)
		go func(i int, src sensors.Source) {
			defer srcWG.Done()
			err := src.Run(ctx, s.Handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("fusion: source %d stopped: %v", i, err)
			}
		}(i, src)
	}

	exhausted := make(chan struct{})
	go func() {
		srcWG.Wait()
		close(exhausted)
	}()

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	case <-exhausted:
		log.Printf("fusion: all sources finished")
	}
	cancel()
	<-exhausted
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Service) fuseLoop(ctx context.Context) {
	if s.cfg.Warmup > 0 {
		warm := time.NewTimer(s.cfg.Warmup)
		select {
		case <-ctx.Done():
			warm.Stop()
			return
		case <-s.stopCh:
			warm.Stop()
			return
		case <-warm.C:
		}
	}
	log.Printf("fusion: warm-up done, fusing every %s", s.cfg.Period)

	tick := time.NewTicker(s.cfg.Period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-tick.C:
			s.Fuse()
		}
	}
}

// Fuse runs one Kalman correction with the configured period as dt. The
// ticker calls it; tests may call it directly.
func (s *Service) Fuse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.est.Fuse(s.cfg.Period.Seconds()) {
		return false
	}
	s.ticks++
	return true
}

// Handle routes one sample and publishes the resulting state.
func (s *Service) Handle(sample sensors.Sample) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	switch sample.Kind {
	case sensors.KindAccel:
		s.trk.RecordAccelerationMagnitude(r3.Norm(sample.Vec))
		s.est.IngestAccel(sample.Vec)
	case sensors.KindMagnet:
		s.est.IngestMagnet(sample.Vec)
	case sensors.KindGyro:
		s.est.IngestGyro(sample.Vec, sample.TimestampNs)
	case sensors.KindStepCounter:
		s.trk.SetHeading(s.est.HeadingDegrees())
		s.trk.UpdateStepCount(sample.Steps)
	default:
		s.mu.Unlock()
		return
	}
	s.trk.SetHeading(s.est.HeadingDegrees())
	s.seq++
	st := s.stateLocked()
	s.snap = st
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Publish(st)
	}
}

func (s *Service) HandleAccel(v r3.Vec) { s.Handle(sensors.Sample{Kind: sensors.KindAccel, Vec: v}) }

func (s *Service) HandleMagnet(v r3.Vec) { s.Handle(sensors.Sample{Kind: sensors.KindMagnet, Vec: v}) }

func (s *Service) HandleGyro(v r3.Vec, tsNs int64) {
	s.Handle(sensors.Sample{Kind: sensors.KindGyro, Vec: v, TimestampNs: tsNs})
}

func (s *Service) HandleStepCount(n int) {
	s.Handle(sensors.Sample{Kind: sensors.KindStepCounter, Steps: n})
}

func (s *Service) stateLocked() State {
	pos := s.trk.Position()
	steps, _ := s.trk.StepCount()
	return State{
		Seq:        s.seq,
		HeadingDeg: s.est.HeadingDegrees(),
		X:          pos.X,
		Y:          pos.Y,
		StepDelta:  s.trk.LastStepDelta(),
		Steps:      steps,
		Stride:     s.trk.StrideLength(),
		Tracking:   s.est.Phase() == orientation.PhaseTracking,
		FuseTicks:  s.ticks,
		UpdatedAt:  s.now().UTC(),
	}
}

// Snapshot returns the state published after the last routed sample.
func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Reset returns to the session origin with identity orientation.
func (s *Service) Reset() {
	s.mu.Lock()
	s.est.Reset()
	s.trk.Reset()
	s.ticks = 0
	s.snap = State{}
	s.mu.Unlock()
	log.Printf("fusion: session reset")
}
