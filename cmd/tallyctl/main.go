package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tallyhq/tally/cmd/tallyctl/cli"
	"github.com/tallyhq/tally/internal/app"
	"github.com/tallyhq/tally/internal/platform/db"
)

const usage = `usage:
  tallyctl migrate up|down
  tallyctl jobs trigger -name <task> [-org N -project N -cycle N] [-repair] [-retention 72h] [-json]
  tallyctl jobs stats
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	switch args[0] {
	case "migrate":
		migrator, err := db.NewMigrator(cfg.PGDSN, logger)
		if err != nil {
			logger.Error("init migrator", slog.Any("error", err))
			return 1
		}
		defer func() {
			if err := migrator.Close(); err != nil {
				logger.Warn("migrator close", slog.Any("error", err))
			}
		}()
		return cli.MigrateCommand(migrator, args[1], stderr)
	case "jobs":
		jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
		}()
		return runJobs(ctx, jobsCLI, args[1:], stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}

func runJobs(ctx context.Context, jobsCLI *cli.JobsCLI, args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "trigger":
		opts := cli.TriggerOptions{Stdout: stdout, Stderr: stderr}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.StringVar(&opts.Name, "name", "", "task type to enqueue")
		fs.Int64Var(&opts.OrganizationID, "org", 0, "organization id (rebuild)")
		fs.Int64Var(&opts.ProjectID, "project", 0, "project id (rebuild)")
		fs.Int64Var(&opts.CycleID, "cycle", 0, "cycle id (rebuild)")
		fs.BoolVar(&opts.Repair, "repair", false, "repair drifted balances")
		fs.DurationVar(&opts.Retention, "retention", 0, "idempotency key retention (cleanup)")
		fs.BoolVar(&opts.JSONOutput, "json", false, "print the result as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return jobsCLI.TriggerCommand(ctx, opts)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "inspect queue: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "%s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}
