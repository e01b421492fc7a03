// Package timings accumulates latency samples per worker for a single capture run.
package timings

import (
	"errors"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ErrNoSamples is returned when averaging a worker that has no samples.
var ErrNoSamples = errors.New("no samples recorded")

// View is the read-only side of a Store, handed to analysis once capture ends.
type View interface {
	Count(id models.WorkerID) int
	Average(id models.WorkerID) (float64, error)
	Workers() []models.WorkerID
	Total() int
}

// Store maps each worker to its samples in arrival order. It is owned by one
// capture run and is not safe for concurrent use.
type Store struct {
	samples map[models.WorkerID][]float64
	total   int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{samples: make(map[models.WorkerID][]float64)}
}

// Record appends one latency sample, creating the worker's series on first use.
func (s *Store) Record(id models.WorkerID, seconds float64) {
	s.samples[id] = append(s.samples[id], seconds)
	s.total++
}

// Count returns the number of samples recorded for id.
func (s *Store) Count(id models.WorkerID) int {
	return len(s.samples[id])
}

// Average returns the mean latency for id.
func (s *Store) Average(id models.WorkerID) (float64, error) {
	series := s.samples[id]
	if len(series) == 0 {
		return 0, ErrNoSamples
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series)), nil
}

// MinCount returns the smallest sample count among workers seen so far, or 0
// when nothing has been recorded.
func (s *Store) MinCount() int {
	min := 0
	first := true
	for _, series := range s.samples {
		if len(series) == 0 {
			continue
		}
		if first || len(series) < min {
			min = len(series)
			first = false
		}
	}
	return min
}

// Workers returns the workers with at least one sample, in natural order.
func (s *Store) Workers() []models.WorkerID {
	ids := make([]models.WorkerID, 0, len(s.samples))
	for id, series := range s.samples {
		if len(series) > 0 {
			ids = append(ids, id)
		}
	}
	models.SortWorkerIDs(ids)
	return ids
}

// Total returns the number of samples across all workers.
func (s *Store) Total() int {
	return s.total
}
