package loader

import (
	"math"
	"sync"
	"time"
)

// SpeedEstimator tracks a sliding window of weighted completion events and
// derives a duration-per-event figure from them: the adaptive scheduler
// compares the consumer's duration-per-video against
// each active worker's duration-per-task to decide how many workers are
// needed. It reports NaN until at least two events have landed, and is safe
// for one writer and many concurrent readers.
type SpeedEstimator struct {
	mu        sync.Mutex
	window    time.Duration
	events    []speedEvent
	startedAt time.Time
	haveStart bool
}

type speedEvent struct {
	at     time.Time
	weight float64
}

// NewSpeedEstimator creates an estimator averaging over the given trailing
// window.
func NewSpeedEstimator(window time.Duration) *SpeedEstimator {
	return &SpeedEstimator{window: window}
}

// Start marks the beginning of a unit of work. Purely advisory bookkeeping;
// Finish is what actually records a sample.
func (s *SpeedEstimator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = time.Now()
	s.haveStart = true
}

// Finish records one completed event of the given weight (e.g. the number
// of videos a just-delivered batch contained, or 1 for a single decoded
// task) at the current time.
func (s *SpeedEstimator) Finish(weight float64) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, speedEvent{at: now, weight: weight})
	s.trim(now)
}

// trim drops events older than the window. Callers must hold s.mu.
func (s *SpeedEstimator) trim(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.events) && s.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.events = s.events[i:]
	}
}

// DurationPerEvent returns the trailing window's average seconds-per-unit-
// weight, or NaN if fewer than two events have been recorded yet: a single
// event spans no interval to average over.
func (s *SpeedEstimator) DurationPerEvent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trim(time.Now())

	if len(s.events) < 2 {
		return math.NaN()
	}

	span := s.events[len(s.events)-1].at.Sub(s.events[0].at).Seconds()
	var totalWeight float64
	for _, e := range s.events[1:] {
		totalWeight += e.weight
	}
	if totalWeight <= 0 || span <= 0 {
		return math.NaN()
	}
	return span / totalWeight
}
