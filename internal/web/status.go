package web

import (
	"sync/atomic"
	"time"

	"indoornav/internal/fusion"
)

const serviceName = "indoornav"

// Controller is the part of the fusion service the web API drives.
type Controller interface {
	Snapshot() fusion.State
	Reset()
}

type Status struct {
	startUnixNano int64
	resets        uint64
	sources       atomic.Value // []string
	fuseInfo      atomic.Value // map[string]any
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.sources.Store([]string{})
	s.fuseInfo.Store(map[string]any{})
	return s
}

// SetStatic records what the session was started with.
func (s *Status) SetStatic(sources []string, fuseInfo map[string]any) {
	if sources != nil {
		s.sources.Store(append([]string(nil), sources...))
	}
	if fuseInfo != nil {
		s.fuseInfo.Store(fuseInfo)
	}
}

func (s *Status) MarkReset() { atomic.AddUint64(&s.resets, 1) }

type StatusSnapshot struct {
	Service   string         `json:"service"`
	NowUTC    string         `json:"now_utc"`
	UptimeSec int64          `json:"uptime_sec"`
	Sources   []string       `json:"sources"`
	Fusion    map[string]any `json:"fusion"`
	Resets    uint64         `json:"resets"`

	Subscribers     int    `json:"ws_subscribers"`
	StatesPublished uint64 `json:"states_published"`

	State fusion.State `json:"state"`
}

func (s *Status) Snapshot(nowUTC time.Time, ctl Controller, b *Broadcaster) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   serviceName,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Sources:   s.sources.Load().([]string),
		Fusion:    s.fuseInfo.Load().(map[string]any),
		Resets:    atomic.LoadUint64(&s.resets),
	}
	snap.Subscribers, snap.StatesPublished = b.Stats()
	if ctl != nil {
		snap.State = ctl.Snapshot()
	} else if st, ok := b.Last(); ok {
		snap.State = st
	}
	return snap
}
