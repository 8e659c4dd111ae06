package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"indoornav/internal/sensors"
)

type Summary struct {
	Segments    int
	Samples     int
	MaxDuration time.Duration
	KindCounts  map[sensors.Kind]int

	// FirstSteps and LastSteps are the first and last cumulative step counts.
	FirstSteps, LastSteps int
	HaveSteps             bool
}

func Summarize(records []Record) Summary {
	s := Summary{KindCounts: map[sensors.Kind]int{}}
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasSamples := false
	segments := 0

	for _, r := range records {
		if r.Start {
			segments++
			origin = r.At
			continue
		}
		hasSamples = true

		s.Samples++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}
		s.KindCounts[r.Sample.Kind]++
		if r.Sample.Kind == sensors.KindStepCounter {
			if !s.HaveSteps {
				s.FirstSteps = r.Sample.Steps
				s.HaveSteps = true
			}
			s.LastSteps = r.Sample.Steps
		}
	}
	if segments == 0 && hasSamples {
		segments = 1
	}
	s.Segments = segments
	return s
}

// Print writes the summary in a stable, human-readable form.
func (s Summary) Print(w io.Writer, path string) {
	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "samples: %d\n", s.Samples)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	if s.HaveSteps {
		fmt.Fprintf(w, "steps: %d -> %d\n", s.FirstSteps, s.LastSteps)
	}

	kinds := make([]int, 0, len(s.KindCounts))
	for k := range s.KindCounts {
		kinds = append(kinds, int(k))
	}
	sort.Ints(kinds)
	fmt.Fprintf(w, "kind_counts:\n")
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s: %d\n", sensors.Kind(k), s.KindCounts[sensors.Kind(k)])
	}
}
