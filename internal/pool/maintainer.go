package pool

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// Maintainer periodically reconciles the warm pool toward the baseline
// target. Cold starts are expensive, so drift is corrected ahead of
// demand rather than when a request arrives.
type Maintainer struct {
	manager *Manager
	cron    *cron.Cron
	entry   cron.EntryID
	logger  *log.Logger
}

// NewMaintainer creates a maintainer driving the given manager on a cron
// schedule (standard 5-field expression).
func NewMaintainer(m *Manager, schedule string, logger *log.Logger) (*Maintainer, error) {
	if logger == nil {
		logger = log.Default()
	}

	mt := &Maintainer{
		manager: m,
		cron:    cron.New(),
		logger:  logger,
	}

	entry, err := mt.cron.AddFunc(schedule, mt.reconcile)
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	mt.entry = entry

	return mt, nil
}

// Start begins periodic reconciliation
func (mt *Maintainer) Start() {
	mt.cron.Start()
}

// Stop halts the schedule. In-flight grow/shrink operations finish on
// their own.
func (mt *Maintainer) Stop() {
	mt.cron.Stop()
}

func (mt *Maintainer) reconcile() {
	targets := mt.manager.GetPoolTargets()
	status := mt.manager.GetPoolStatus()

	switch {
	case status.Warm < targets.Baseline:
		mt.logger.Debug("warm pool below baseline, growing", "warm", status.Warm, "baseline", targets.Baseline)
		mt.manager.EnsureWarmPool(targets.Baseline)
	case status.Warm > targets.Baseline:
		mt.logger.Debug("warm pool above baseline, shrinking", "warm", status.Warm, "baseline", targets.Baseline)
		mt.manager.ShrinkPool(targets.Baseline)
	}
}
