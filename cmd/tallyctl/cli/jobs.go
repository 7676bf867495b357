package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tallyhq/tally/internal/inventory"
	"github.com/tallyhq/tally/jobs"
)

// JobsCLI wraps manual management helpers for the background jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// TriggerOptions selects the job and its payload.
type TriggerOptions struct {
	Name           string
	OrganizationID int64
	ProjectID      int64
	CycleID        int64
	Repair         bool
	Retention      time.Duration
	JSONOutput     bool
	Stdout         io.Writer
	Stderr         io.Writer
}

// TriggerResult is printed after a successful enqueue.
type TriggerResult struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Queue string `json:"queue"`
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch opts.Name {
	case jobs.TaskBalanceRebuild:
		if opts.OrganizationID <= 0 || opts.ProjectID <= 0 || opts.CycleID <= 0 {
			return nil, errors.New("jobs cli: rebuild needs -org, -project and -cycle")
		}
		task, err = jobs.NewBalanceRebuildTask(inventory.RebuildRequest{
			OrganizationID: opts.OrganizationID,
			ProjectID:      opts.ProjectID,
			CycleID:        opts.CycleID,
			Repair:         opts.Repair,
		})
	case jobs.TaskBalanceVerify:
		task, err = jobs.NewBalanceVerifyTask(opts.Repair)
	case jobs.TaskIdempotencyCleanup:
		retention := opts.Retention
		if retention <= 0 {
			retention = jobs.DefaultIdempotencyRetention
		}
		task, err = jobs.NewIdempotencyCleanupTask(retention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %q", opts.Name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// TriggerCommand runs Trigger and reports on the given writers. It returns
// the process exit code.
func (c *JobsCLI) TriggerCommand(ctx context.Context, opts TriggerOptions) int {
	info, err := c.Trigger(ctx, opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "trigger %s: %v\n", opts.Name, err)
		return 1
	}
	result := TriggerResult{ID: info.ID, Type: info.Type, Queue: info.Queue}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(result); err != nil {
			fmt.Fprintf(opts.Stderr, "encode result: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(opts.Stdout, "enqueued %s on %s (id %s)\n", result.Type, result.Queue, result.ID)
	return 0
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}
