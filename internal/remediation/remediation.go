// Package remediation picks at most one slow worker to stop and applies the decision.
package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Action is what a run does about its slow workers.
type Action string

const (
	ActionNone   Action = "none"
	ActionDryRun Action = "dry_run"
	ActionStop   Action = "stop"
)

// Decision is the result of Decide. Target is set only when Action is stop;
// a dry_run decision lists the slow workers in Candidates.
type Decision struct {
	Action     Action
	Target     models.WorkerID
	Candidates []models.WorkerID
}

// Controller stops a single worker on the platform.
type Controller interface {
	StopWorker(ctx context.Context, id models.WorkerID) error
}

// PickFunc returns an index in [0, n).
type PickFunc func(n int) int

// RandomPick draws uniformly.
func RandomPick(n int) int {
	return rand.IntN(n)
}

// Decide selects one worker from slow. In dry-run mode nothing is selected and
// the decision only carries the candidates.
func Decide(slow []models.WorkerID, dryRun bool, pick PickFunc) Decision {
	if len(slow) == 0 {
		return Decision{Action: ActionNone}
	}
	candidates := append([]models.WorkerID(nil), slow...)
	if dryRun {
		return Decision{Action: ActionDryRun, Candidates: candidates}
	}

	idx := 0
	if len(candidates) > 1 {
		if pick == nil {
			pick = RandomPick
		}
		idx = pick(len(candidates))
		if idx < 0 || idx >= len(candidates) {
			idx = 0
		}
	}
	return Decision{Action: ActionStop, Target: candidates[idx], Candidates: candidates}
}

// Remediator applies decisions through a Controller.
type Remediator struct {
	controller Controller
	logger     *slog.Logger
}

// NewRemediator constructs a Remediator.
func NewRemediator(controller Controller, logger *slog.Logger) *Remediator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remediator{controller: controller, logger: logger}
}

// Apply issues the stop call for stop decisions. Failures are returned, not retried.
func (r *Remediator) Apply(ctx context.Context, decision Decision) error {
	switch decision.Action {
	case ActionStop:
		if r.controller == nil {
			return fmt.Errorf("stop %s: no controller configured", decision.Target)
		}
		r.logger.Info("stopping worker", slog.String("worker", string(decision.Target)))
		if err := r.controller.StopWorker(ctx, decision.Target); err != nil {
			if code := utils.StatusCode(err); code != 0 {
				r.logger.Warn("platform rejected stop",
					slog.String("worker", string(decision.Target)),
					slog.Int("upstream_status", code))
			}
			return fmt.Errorf("stop %s: %w", decision.Target, err)
		}
		return nil
	case ActionDryRun:
		r.logger.Info("dry run, no worker stopped", slog.Int("candidates", len(decision.Candidates)))
		return nil
	default:
		return nil
	}
}
