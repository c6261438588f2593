package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/platform"
	"github.com/postlyhq/postly/internal/repository"
)

// Outcome classifies one refresh attempt. Skips and failures are ordinary
// results, not errors; the batch keeps going.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

type ItemResult struct {
	AssociationID int64
	Outcome       Outcome
	Reason        string
}

type BatchResult struct {
	Processed int
	Success   int
	Failed    int
	Skipped   int
}

func (b *BatchResult) add(item ItemResult) {
	b.Processed++
	switch item.Outcome {
	case OutcomeSuccess:
		b.Success++
	case OutcomeFailed:
		b.Failed++
	case OutcomeSkipped:
		b.Skipped++
	}
}

// RunResult is the aggregate of one full refresh run.
type RunResult struct {
	BatchResult
	Batches   int
	Remaining int
}

// FetcherRegistry resolves a platform name to its insights client.
type FetcherRegistry interface {
	FetcherFor(platformName string) (platform.InsightsFetcher, bool)
}

// RefreshEngine keeps analytics snapshots fresh without hammering the
// platform APIs: per-association cooldowns, capped batches, capped runs.
type RefreshEngine struct {
	analytics  repository.AnalyticsRepository
	registry   FetcherRegistry
	cooldown   time.Duration
	batchSize  int
	maxBatches int
}

func NewRefreshEngine(analytics repository.AnalyticsRepository, registry FetcherRegistry, cooldown time.Duration, batchSize, maxBatches int) *RefreshEngine {
	if batchSize < 1 {
		batchSize = 25
	}
	if maxBatches < 1 {
		maxBatches = 20
	}
	return &RefreshEngine{
		analytics:  analytics,
		registry:   registry,
		cooldown:   cooldown,
		batchSize:  batchSize,
		maxBatches: maxBatches,
	}
}

// RefreshBatch processes up to limit eligible associations, stalest first.
// Every attempted item advances its snapshot's last_updated, including
// failures, so repeated runs make forward progress.
func (e *RefreshEngine) RefreshBatch(ctx context.Context, scope models.JobScope, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = e.batchSize
	}
	staleBefore := time.Now().UTC().Add(-e.cooldown)

	candidates, err := e.analytics.ListEligible(ctx, scope, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("listing refresh candidates: %w", err)
	}

	result := &BatchResult{}
	for _, candidate := range candidates {
		item := e.refreshOne(ctx, candidate)
		result.add(item)

		if item.Outcome != OutcomeSuccess && item.Reason != "" {
			slog.Info("analytics refresh item not updated",
				"association_id", candidate.AssociationID,
				"outcome", item.Outcome,
				"reason", item.Reason)
		}
	}

	return result, nil
}

func (e *RefreshEngine) refreshOne(ctx context.Context, candidate *models.RefreshCandidate) ItemResult {
	now := time.Now().UTC()

	fetcher, ok := e.registry.FetcherFor(candidate.Platform)
	if !ok {
		e.touch(ctx, candidate.AssociationID, now)
		return ItemResult{candidate.AssociationID, OutcomeSkipped, fmt.Sprintf("platform %s not supported", candidate.Platform)}
	}
	if candidate.AccessToken == "" {
		e.touch(ctx, candidate.AssociationID, now)
		return ItemResult{candidate.AssociationID, OutcomeSkipped, "no access token"}
	}

	// The multi-call family verifies the post still exists before spending
	// insight calls on it; the single-call family has no checker.
	if checker, ok := fetcher.(platform.ExistenceChecker); ok {
		exists, err := checker.CheckExists(ctx, candidate.PlatformPostID, candidate.AccessToken)
		if err != nil {
			e.touch(ctx, candidate.AssociationID, now)
			return ItemResult{candidate.AssociationID, OutcomeFailed, err.Error()}
		}
		if !exists {
			e.touch(ctx, candidate.AssociationID, now)
			return ItemResult{candidate.AssociationID, OutcomeFailed, "post no longer exists on platform"}
		}
	}

	metrics, err := fetcher.FetchInsights(ctx, candidate.PlatformPostID, candidate.AccessToken)
	if err != nil {
		e.touch(ctx, candidate.AssociationID, now)
		return ItemResult{candidate.AssociationID, OutcomeFailed, err.Error()}
	}

	snapshot := &models.AnalyticsSnapshot{
		AssociationID: candidate.AssociationID,
		Impressions:   metrics.Impressions,
		Reach:         metrics.Reach,
		Clicks:        metrics.Clicks,
		Likes:         metrics.Likes,
		Comments:      metrics.Comments,
		Shares:        metrics.Shares,
		Saves:         metrics.Saves,
		VideoViews:    metrics.VideoViews,
		LastUpdated:   now,
	}
	if err := e.analytics.Upsert(ctx, snapshot); err != nil {
		return ItemResult{candidate.AssociationID, OutcomeFailed, err.Error()}
	}

	return ItemResult{AssociationID: candidate.AssociationID, Outcome: OutcomeSuccess}
}

func (e *RefreshEngine) touch(ctx context.Context, associationID int64, now time.Time) {
	if err := e.analytics.TouchLastUpdated(ctx, associationID, now); err != nil {
		slog.Info(err.Error())
	}
}

// RefreshAll drains the eligible set in batches. It stops when nothing is
// eligible, when a batch makes zero progress, or at the batch cap, whichever
// comes first, so a run is always bounded. progress, when set, fires after
// every batch with the running totals and the remaining eligible count.
func (e *RefreshEngine) RefreshAll(ctx context.Context, scope models.JobScope, progress func(totals BatchResult, remaining int)) (*RunResult, error) {
	run := &RunResult{}

	for run.Batches < e.maxBatches {
		batch, err := e.RefreshBatch(ctx, scope, e.batchSize)
		if err != nil {
			return run, err
		}
		run.Batches++
		run.Processed += batch.Processed
		run.Success += batch.Success
		run.Failed += batch.Failed
		run.Skipped += batch.Skipped

		staleBefore := time.Now().UTC().Add(-e.cooldown)
		remaining, err := e.analytics.CountEligible(ctx, scope, staleBefore)
		if err != nil {
			return run, err
		}
		run.Remaining = remaining

		if progress != nil {
			progress(run.BatchResult, remaining)
		}

		if batch.Processed == 0 || remaining == 0 {
			break
		}
	}

	return run, nil
}

// CountStale reports how many associations in scope currently need a refresh.
// The auto-refresh trigger compares this against its threshold.
func (e *RefreshEngine) CountStale(ctx context.Context, scope models.JobScope) (int, error) {
	staleBefore := time.Now().UTC().Add(-e.cooldown)
	return e.analytics.CountEligible(ctx, scope, staleBefore)
}
