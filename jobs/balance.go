package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tallyhq/tally/internal/inventory"
	jobmetrics "github.com/tallyhq/tally/internal/jobs"
	"github.com/tallyhq/tally/internal/shared"
)

// BalanceLedger is the slice of the inventory service the balance jobs use.
type BalanceLedger interface {
	RebuildCycle(ctx context.Context, req inventory.RebuildRequest) ([]inventory.Drift, error)
	Scopes(ctx context.Context) ([]inventory.RebuildRequest, error)
}

// BalanceJob replays ledgers against stored balances.
type BalanceJob struct {
	Ledger  BalanceLedger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBalanceJob initialises the balance handlers.
func NewBalanceJob(ledger BalanceLedger, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceJob {
	return &BalanceJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// HandleRebuild processes TaskBalanceRebuild.
func (j *BalanceJob) HandleRebuild(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("balance rebuild: handler not configured")
	}
	var req inventory.RebuildRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("balance rebuild: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskBalanceRebuild)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(
		slog.Int64("organization_id", req.OrganizationID),
		slog.Int64("project_id", req.ProjectID),
		slog.Int64("cycle_id", req.CycleID),
		slog.Bool("repair", req.Repair),
	)
	start := time.Now()
	drifts, err := j.Ledger.RebuildCycle(ctx, req)
	if err != nil {
		if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrCycleLocked) {
			logger.Warn("balance rebuild rejected", slog.Any("error", err))
			return fmt.Errorf("balance rebuild: %v: %w", err, asynq.SkipRetry)
		}
		logger.Error("balance rebuild failed", slog.Any("error", err))
		return err
	}
	j.report(logger, req, drifts)
	logger.Info("balance rebuild completed", slog.Int("drifted", len(drifts)), slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleVerify processes TaskBalanceVerify. Locked cycles are verified but
// never repaired.
func (j *BalanceJob) HandleVerify(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("balance verify: handler not configured")
	}
	var payload BalanceVerifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("balance verify: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskBalanceVerify)
	defer func() { err = tracker.End(err) }()

	scopes, err := j.Ledger.Scopes(ctx)
	if err != nil {
		return fmt.Errorf("balance verify: list scopes: %w", err)
	}
	start := time.Now()
	total := 0
	for _, scope := range scopes {
		scope.Repair = payload.Repair
		logger := j.logger().With(
			slog.Int64("organization_id", scope.OrganizationID),
			slog.Int64("project_id", scope.ProjectID),
			slog.Int64("cycle_id", scope.CycleID),
		)
		drifts, err := j.Ledger.RebuildCycle(ctx, scope)
		if errors.Is(err, shared.ErrCycleLocked) {
			scope.Repair = false
			drifts, err = j.Ledger.RebuildCycle(ctx, scope)
		}
		if err != nil {
			return fmt.Errorf("balance verify: cycle %d: %w", scope.CycleID, err)
		}
		j.report(logger, scope, drifts)
		total += len(drifts)
	}
	j.logger().Info("balance verify completed",
		slog.Int("scopes", len(scopes)),
		slog.Int("drifted", total),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *BalanceJob) report(logger *slog.Logger, scope inventory.RebuildRequest, drifts []inventory.Drift) {
	repaired := 0
	for _, d := range drifts {
		logger.Warn("balance drift detected",
			slog.Int64("variant_id", d.VariantID),
			slog.Int64("stored_quantity", d.StoredQuantity),
			slog.Int64("ledger_quantity", d.LedgerQuantity),
			slog.String("stored_avg_cost", d.StoredAvgCost.String()),
			slog.String("ledger_avg_cost", d.LedgerAvgCost.String()),
			slog.Bool("repaired", d.Repaired),
		)
		if d.Repaired {
			repaired++
		}
	}
	j.Metrics.AddDrift(scope.OrganizationID, true, repaired)
	j.Metrics.AddDrift(scope.OrganizationID, false, len(drifts)-repaired)
}

func (j *BalanceJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
