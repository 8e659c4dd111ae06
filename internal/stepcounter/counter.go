// Package stepcounter turns pulses from a hardware pedometer on a GPIO line
// into cumulative step-count samples.
package stepcounter

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"indoornav/internal/sensors"
)

const (
	DefaultLine     = "GPIO17"
	DefaultDebounce = 20 * time.Millisecond
)

type Config struct {
	// Line is the GPIO line name, e.g. "GPIO17" on a Raspberry Pi header.
	Line     string
	Debounce time.Duration
}

// openLineFn requests line as a debounced rising-edge input and calls
// onPulse for every edge until the returned closer is closed.
var openLineFn = openLine

// Source counts pulses and emits the running total. The count starts at 0
// when Run starts and is emitted once up front.
type Source struct {
	cfg   Config
	count atomic.Int64
	now   func() time.Time
}

func NewSource(cfg Config) *Source {
	cfg.Line = strings.TrimSpace(cfg.Line)
	if cfg.Line == "" {
		cfg.Line = DefaultLine
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Source{cfg: cfg, now: time.Now}
}

// Count returns the pulses seen so far.
func (s *Source) Count() int { return int(s.count.Load()) }

func (s *Source) Run(ctx context.Context, emit func(sensors.Sample)) error {
	s.count.Store(0)
	// onPulse runs on the gpiocdev event goroutine; emit stays on this one.
	pulse := make(chan struct{}, 1)
	line, err := openLineFn(s.cfg.Line, s.cfg.Debounce, func() {
		s.count.Add(1)
		select {
		case pulse <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("stepcounter: %w", err)
	}
	defer closeLine(line)
	log.Printf("stepcounter: counting rising edges on %s (debounce %s)", s.cfg.Line, s.cfg.Debounce)

	start := s.now()
	last := s.Count()
	emit(sensors.StepCount(last, 0))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pulse:
		}
		n := s.Count()
		if n == last {
			continue
		}
		last = n
		emit(sensors.StepCount(n, s.now().Sub(start).Nanoseconds()))
	}
}

func closeLine(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("stepcounter: close line: %v", err)
	}
}
