// Package detector decides which workers are slow relative to their peers.
package detector

import (
	"errors"
	"math"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/timings"
)

// ErrNoAverages is returned when thresholds are requested for an empty pool.
var ErrNoAverages = errors.New("no worker averages to pool")

// ComputeThresholds returns mean, population stddev, mean+k*stddev and that
// value floored at floor.
func ComputeThresholds(averages []float64, k, floor float64) (models.Thresholds, error) {
	if len(averages) == 0 {
		return models.Thresholds{}, ErrNoAverages
	}
	m := mean(averages)
	sd := stdDev(averages, m)
	raw := m + k*sd
	return models.Thresholds{
		Mean:      m,
		StdDev:    sd,
		Raw:       raw,
		Effective: math.Max(raw, floor),
		Pooled:    len(averages),
	}, nil
}

// Detector classifies active workers against a pooled threshold.
type Detector struct {
	killThreshold float64
	minThreshold  float64
	minTimings    int
}

// New constructs a Detector. killThreshold is in stddev units, minThreshold in seconds.
func New(killThreshold, minThreshold float64, minTimings int) *Detector {
	return &Detector{
		killThreshold: killThreshold,
		minThreshold:  minThreshold,
		minTimings:    minTimings,
	}
}

// Pool returns the averages of active workers that reached minTimings samples.
func (d *Detector) Pool(view timings.View, active []models.WorkerID) []float64 {
	averages := make([]float64, 0, len(active))
	for _, id := range active {
		if view.Count(id) < d.minTimings {
			continue
		}
		avg, err := view.Average(id)
		if err != nil {
			continue
		}
		averages = append(averages, avg)
	}
	return averages
}

// Thresholds computes the thresholds for a pool of averages.
func (d *Detector) Thresholds(averages []float64) (models.Thresholds, error) {
	return ComputeThresholds(averages, d.killThreshold, d.minThreshold)
}

// Classify returns a verdict for every active worker with at least one sample,
// including workers left out of the pool for having too few. Workers without
// samples get no verdict. Output follows the order of active.
func (d *Detector) Classify(view timings.View, active []models.WorkerID, effective float64) []models.Verdict {
	verdicts := make([]models.Verdict, 0, len(active))
	for _, id := range active {
		avg, err := view.Average(id)
		if err != nil {
			continue
		}
		verdicts = append(verdicts, models.Verdict{
			Worker:  id,
			Samples: view.Count(id),
			Average: avg,
			Slow:    avg > effective,
		})
	}
	return verdicts
}

// SlowWorkers returns the ids of slow verdicts in order.
func SlowWorkers(verdicts []models.Verdict) []models.WorkerID {
	var slow []models.WorkerID
	for _, v := range verdicts {
		if v.Slow {
			slow = append(slow, v.Worker)
		}
	}
	return slow
}

func mean(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	variance := sum / float64(len(values))
	return math.Sqrt(variance)
}
