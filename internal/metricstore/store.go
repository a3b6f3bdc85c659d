package metricstore

import (
	"math"
	"sync"
	"time"

	"github.com/opsforge/remedy/internal/models"
)

// Stats summarises the current window for one (service, metric) series.
type Stats struct {
	Mean   float64
	StdDev float64
	Count  int
}

// Store keeps a bounded rolling window of samples per (service, metric).
// A series evicts its oldest sample when it exceeds the size cap or when the
// sample falls outside the time window, whichever triggers first. Callers
// must treat Count==0 as insufficient data, not zero variance.
type Store struct {
	mu       sync.RWMutex
	capacity int
	window   time.Duration
	series   map[seriesKey]*ring
}

type seriesKey struct {
	serviceID string
	metric    string
}

// ring is a fixed-size circular buffer of samples.
type ring struct {
	samples []models.MetricSample
	head    int
	size    int
}

// New creates a Store bounding each series to capacity samples within window.
func New(capacity int, window time.Duration) *Store {
	if capacity <= 0 {
		capacity = 20
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Store{
		capacity: capacity,
		window:   window,
		series:   make(map[seriesKey]*ring),
	}
}

// Record appends a sample, evicting the oldest when the window overflows.
func (s *Store) Record(serviceID, metric string, value float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{serviceID: serviceID, metric: metric}
	r, ok := s.series[key]
	if !ok {
		r = &ring{samples: make([]models.MetricSample, s.capacity)}
		s.series[key] = r
	}

	sample := models.MetricSample{ServiceID: serviceID, Metric: metric, Value: value, Timestamp: ts}
	if r.size < len(r.samples) {
		r.samples[(r.head+r.size)%len(r.samples)] = sample
		r.size++
	} else {
		r.samples[r.head] = sample
		r.head = (r.head + 1) % len(r.samples)
	}
}

// Stats computes mean, standard deviation, and sample count over the current
// window for the requested series. Expired samples are excluded.
func (s *Store) Stats(serviceID, metric string) Stats {
	return s.statsAt(serviceID, metric, time.Now())
}

// History summarises the window excluding the most recent sample. A fresh
// observation is scored against the samples that preceded it; including it
// in its own baseline caps the attainable z-score at sqrt(n-1) and masks
// spikes in short series.
func (s *Store) History(serviceID, metric string) Stats {
	return s.historyAt(serviceID, metric, time.Now())
}

func (s *Store) statsAt(serviceID, metric string, now time.Time) Stats {
	return s.summarise(serviceID, metric, now, 0)
}

func (s *Store) historyAt(serviceID, metric string, now time.Time) Stats {
	return s.summarise(serviceID, metric, now, 1)
}

func (s *Store) summarise(serviceID, metric string, now time.Time, dropNewest int) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[seriesKey{serviceID: serviceID, metric: metric}]
	if !ok || r.size <= dropNewest {
		return Stats{}
	}

	cutoff := now.Add(-s.window)
	var (
		sum   float64
		count int
	)
	values := make([]float64, 0, r.size)
	for i := 0; i < r.size-dropNewest; i++ {
		sample := r.samples[(r.head+i)%len(r.samples)]
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		values = append(values, sample.Value)
		sum += sample.Value
		count++
	}
	if count == 0 {
		return Stats{}
	}

	mean := sum / float64(count)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(count)

	return Stats{Mean: mean, StdDev: math.Sqrt(variance), Count: count}
}

// Latest returns the most recent sample for a series, if any.
func (s *Store) Latest(serviceID, metric string) (models.MetricSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[seriesKey{serviceID: serviceID, metric: metric}]
	if !ok || r.size == 0 {
		return models.MetricSample{}, false
	}
	return r.samples[(r.head+r.size-1)%len(r.samples)], true
}
