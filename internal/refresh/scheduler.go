package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/davidahmann/wpcd/internal/settings"
)

// DefaultInterval is the weekly refresh period.
const DefaultInterval = 7 * 24 * time.Hour

// Scheduler triggers a refresh every interval until its context ends.
type Scheduler struct {
	refresher  Refresher
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger
}

func NewScheduler(r Refresher, interval time.Duration, runOnStart bool, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{refresher: r, interval: interval, runOnStart: runOnStart, logger: logger}
}

// Run blocks until ctx is done. A tick that fires while a cycle is still
// running waits for it.
func (s *Scheduler) Run(ctx context.Context) {
	if s.runOnStart {
		s.tick(ctx, "start")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, "schedule")
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, reason string) {
	s.logger.Info("refresh triggered", "reason", reason)
	if _, err := s.refresher.RefreshAll(ctx); err != nil {
		s.logger.Warn("scheduled refresh not run", "reason", reason, "error", err)
	}
}

// Trigger runs refresh cycles in the background on behalf of request paths
// that must not block on a full cycle.
type Trigger struct {
	refresher Refresher
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewTrigger(r Refresher, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Trigger{refresher: r, logger: logger}
}

// Fire starts a cycle in the background. The cycle outlives ctx.
func (t *Trigger) Fire(ctx context.Context, reason string) {
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.logger.Info("refresh triggered", "reason", reason)
		if _, err := t.refresher.RefreshAll(ctx); err != nil {
			t.logger.Warn("background refresh not run", "reason", reason, "error", err)
		}
	}()
}

// Wait blocks until every fired cycle has finished.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// SettingsChanged fires a cycle when an update altered the global plugin list.
// It has the signature of settings.ChangeFunc.
func (t *Trigger) SettingsChanged(ctx context.Context, previous, current settings.Settings) {
	if settings.CorePluginsChanged(previous, current) {
		t.Fire(ctx, "settings")
	}
}
