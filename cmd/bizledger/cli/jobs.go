package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/bizledger/jobs"
)

// Enqueuer is the asynq client surface used by the CLI.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Inspector is the asynq inspector surface used by the CLI.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name for one company or "all".
func (c *JobsCLI) Trigger(ctx context.Context, name, company string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var (
		task *asynq.Task
		opts = []asynq.Option{asynq.MaxRetry(3)}
		err  error
	)
	switch name {
	case jobs.TaskLedgerReconcile:
		task, err = jobs.NewReconcileTask(company)
	case jobs.TaskPayrollRollover:
		task, err = jobs.NewRolloverTask(company)
		// A second manual trigger within the hour would reset counters twice.
		opts = append(opts, asynq.Unique(time.Hour))
	case jobs.TaskIdempotencyPurge:
		task = jobs.NewPurgeTask()
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, opts...)
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

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
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

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// newJobsCmd builds the jobs command tree. A nil factory connects to the
// configured Redis.
func newJobsCmd(factory func() (*JobsCLI, error)) *cobra.Command {
	if factory == nil {
		factory = func() (*JobsCLI, error) {
			cfg, _, err := loadRuntime()
			if err != nil {
				return nil, err
			}
			return NewJobsCLI(cfg.RedisAddr), nil
		}
	}

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	var company string
	trigger := &cobra.Command{
		Use:       "trigger <job>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskLedgerReconcile, jobs.TaskPayrollRollover, jobs.TaskIdempotencyPurge},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := factory()
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.Trigger(cmd.Context(), args[0], company)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().StringVar(&company, "company", "all", "company id or \"all\"")

	var asJSON bool
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := factory()
			if err != nil {
				return err
			}
			defer c.Close()
			s, err := c.InspectQueue()
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			return nil
		},
	}
	stats.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := factory()
			if err != nil {
				return err
			}
			defer c.Close()
			infos, err := c.ListScheduled(size)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s next=%s\n", info.ID, info.Type, info.NextProcessAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	scheduled.Flags().IntVarP(&size, "size", "n", 10, "page size")

	cmd.AddCommand(trigger, stats, scheduled)
	return cmd
}
