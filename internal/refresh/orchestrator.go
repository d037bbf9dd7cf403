// Package refresh rebuilds every plugin archive the service can hand out:
// the globally required plugins plus those of every published package.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"golang.org/x/sync/semaphore"

	"github.com/davidahmann/wpcd/internal/content"
	"github.com/davidahmann/wpcd/internal/exporter"
	"github.com/davidahmann/wpcd/internal/plugins"
	"github.com/davidahmann/wpcd/internal/settings"
	"github.com/davidahmann/wpcd/pkg/types"
)

var ErrInProgress = platformerrors.New(platformerrors.CodeConflict, "a refresh is already running")

type ArchiveBuilder interface {
	Build(identity string) (exporter.Result, error)
}

type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// Refresher runs one refresh cycle.
type Refresher interface {
	RefreshAll(ctx context.Context) (types.RefreshReport, error)
}

// Orchestrator runs refresh cycles one at a time. Callers that arrive while a
// cycle is running queue behind it.
type Orchestrator struct {
	settings SettingsSource
	packages content.PackageStore
	builder  ArchiveBuilder
	guard    *semaphore.Weighted
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(src SettingsSource, packages content.PackageStore, builder ArchiveBuilder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		settings: src,
		packages: packages,
		builder:  builder,
		guard:    semaphore.NewWeighted(1),
		logger:   logger,
		now:      time.Now,
	}
}

// Collect returns the distinct plugin identities to build: global plugins
// first, then each published package's in catalog order. A failing source is
// reported but does not discard what the other source produced.
func (o *Orchestrator) Collect(ctx context.Context) ([]string, error) {
	var errs []error
	var lists [][]string

	s, err := o.settings.Get(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		lists = append(lists, s.CorePlugins)
	}

	pkgs, err := o.packages.ListPackages(ctx, content.StatusPublish)
	if err != nil {
		errs = append(errs, err)
	}
	for _, pkg := range pkgs {
		lists = append(lists, pkg.Plugins)
	}
	return plugins.Union(lists...), errors.Join(errs...)
}

// RefreshAll waits for any running cycle to finish and then runs one. Once
// started, a cycle ignores cancellation of ctx and runs to completion; ctx
// only bounds the wait.
func (o *Orchestrator) RefreshAll(ctx context.Context) (types.RefreshReport, error) {
	if err := o.guard.Acquire(ctx, 1); err != nil {
		return types.RefreshReport{}, platformerrors.Wrap(err, platformerrors.CodeUnavailable, "wait for running refresh")
	}
	defer o.guard.Release(1)
	return o.run(context.WithoutCancel(ctx)), nil
}

// TryRefreshAll runs a cycle only if none is running, and returns
// ErrInProgress otherwise.
func (o *Orchestrator) TryRefreshAll(ctx context.Context) (types.RefreshReport, error) {
	if !o.guard.TryAcquire(1) {
		return types.RefreshReport{}, ErrInProgress
	}
	defer o.guard.Release(1)
	return o.run(context.WithoutCancel(ctx)), nil
}

func (o *Orchestrator) run(ctx context.Context) types.RefreshReport {
	started := o.now()
	report := types.RefreshReport{
		StartedAt: started.UTC().Format(time.RFC3339),
		Built:     []types.BuiltArchive{},
		Failed:    []types.FailedArchive{},
	}

	identities, err := o.Collect(ctx)
	if err != nil {
		o.logger.Warn("refresh source unavailable, continuing with partial plugin set", "error", err)
	}
	report.Requested = len(identities)

	for _, identity := range identities {
		res, err := o.builder.Build(identity)
		if err != nil {
			o.logger.Warn("archive build failed", "identity", identity, "error", err)
			report.Failed = append(report.Failed, types.FailedArchive{Identity: identity, Error: err.Error()})
			continue
		}
		report.Built = append(report.Built, types.BuiltArchive{
			Identity:  res.Identity,
			URL:       res.URL,
			Entries:   res.Entries,
			SizeBytes: res.SizeBytes,
		})
	}

	finished := o.now()
	report.FinishedAt = finished.UTC().Format(time.RFC3339)
	o.logger.Info("refresh finished",
		"requested", report.Requested,
		"built", len(report.Built),
		"failed", len(report.Failed),
		"duration", finished.Sub(started),
	)
	return report
}

var _ Refresher = (*Orchestrator)(nil)
