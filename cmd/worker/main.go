// Package main provides the background worker process (§5: "Background job
// execution (aggregate refresh, partition maintenance, derived-column
// backfills) is hosted by a separate worker process that pulls jobs from a
// queue and runs one at a time per job slot"). It consumes
// internal/workerqueue jobs one at a time, enforcing the 300s default job
// timeout (§5), and dispatches each to the Incremental Aggregate Engine or
// the partition maintainer. On SIGINT/SIGTERM the worker stops: the
// in-flight job's context is cancelled with it, and that job's uncommitted
// message is redelivered on the next start.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikuframedia/production-core/internal/aggregate"
	appconfig "github.com/nikuframedia/production-core/internal/config"
	"github.com/nikuframedia/production-core/internal/partition"
	"github.com/nikuframedia/production-core/internal/storage"
	"github.com/nikuframedia/production-core/internal/workerqueue"
)

//nolint:gochecknoglobals // build-time version injection via -ldflags -X
var (
	name    = "worker"
	version = "1.0.0-dev"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	windowDays := flag.Int("window-days", aggregate.DefaultWindowDays, "Trailing window, in days, an aggregate_refresh job revisits")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *windowDays); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, windowDays int) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := cfg.DB.Validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}

	conn, err := storage.NewConnection(cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer conn.Close()

	brokers := appconfig.ParseCommaSeparatedList(appconfig.GetEnvStr("KAFKA_BROKERS", "localhost:9092"))
	groupID := appconfig.GetEnvStr("WORKER_GROUP_ID", "production-core-worker")

	consumer := workerqueue.NewConsumer(brokers, groupID)
	defer consumer.Close()

	engine := aggregate.NewEngine(conn)
	maintainer := partition.New(conn)

	logger.Info("worker started", "brokers", brokers, "group_id", groupID, "topic", workerqueue.DefaultTopic)

	for {
		if ctx.Err() != nil {
			logger.Info("shutdown signal received; worker stopping")

			return nil
		}

		job, msg, err := consumer.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return fmt.Errorf("reading next job: %w", err)
		}

		if err := runJob(ctx, logger, engine, maintainer, job, windowDays); err != nil {
			logger.Error("job failed", "kind", job.Kind, "run_id", job.RunID, "error", err)

			continue // at-least-once delivery: leave the message uncommitted for redelivery
		}

		if err := consumer.Commit(ctx, msg); err != nil {
			logger.Error("committing job offset failed", "kind", job.Kind, "error", err)
		}
	}
}

// runJob dispatches one job under the default job timeout (§5), so a stuck
// aggregate cycle or partition-creation statement can never wedge the
// worker's single job slot indefinitely.
func runJob(
	ctx context.Context,
	logger *slog.Logger,
	engine *aggregate.Engine,
	maintainer *partition.Maintainer,
	job workerqueue.Job,
	windowDays int,
) error {
	jobCtx, cancel := context.WithTimeout(ctx, workerqueue.DefaultJobTimeout)
	defer cancel()

	switch job.Kind {
	case workerqueue.JobAggregateRefresh:
		report, err := engine.RunCycle(jobCtx, job.RunID, windowDays, time.Now())
		if err != nil {
			return fmt.Errorf("running aggregate cycle: %w", err)
		}

		logger.Info("aggregate refresh complete", "run_id", job.RunID, "per_table", report.PerTable, "wip_rows", report.WIPRows)

	case workerqueue.JobPartitionMaintenance:
		result, err := maintainer.EnsureAhead(jobCtx, time.Now())
		if err != nil {
			return fmt.Errorf("ensuring partitions ahead: %w", err)
		}

		logger.Info("partition maintenance complete", "created", result.CreatedPartitions, "horizon", result.Horizon)

	default:
		return fmt.Errorf("unknown job kind: %s", job.Kind)
	}

	return nil
}
