package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tallyhq/tally/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBalanceRebuild verifies, and optionally repairs, one project cycle.
	TaskBalanceRebuild = "inventory:balance_rebuild"
	// TaskBalanceVerify sweeps every project cycle holding balances.
	TaskBalanceVerify = "inventory:balance_verify"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// BalanceVerifyPayload configures a sweep.
type BalanceVerifyPayload struct {
	Repair bool `json:"repair"`
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewBalanceRebuildTask constructs a rebuild task for one project cycle.
func NewBalanceRebuildTask(req inventory.RebuildRequest) (*asynq.Task, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceRebuild, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewBalanceVerifyTask constructs the scheduled verify task.
func NewBalanceVerifyTask(repair bool) (*asynq.Task, error) {
	body, err := json.Marshal(BalanceVerifyPayload{Repair: repair})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceVerify, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the scheduled cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
