package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/comchain/service/metrics"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}, nil
}

// UpsertSyncSchedule creates or updates the Temporal schedule that syncs a
// wallet. An existing schedule gets the new interval and account list.
func (c *Client) UpsertSyncSchedule(ctx context.Context, input SyncWalletInput, interval time.Duration) error {
	id := scheduleID(input.WalletID)

	c.logger.DebugContext(ctx, "upserting sync schedule",
		"wallet_id", input.WalletID,
		"schedule_id", id,
		"accounts", len(input.Accounts),
		"interval", interval,
	)

	action := c.workflowAction(input)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.DebugContext(ctx, "schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action: action,
			Memo: map[string]interface{}{
				"wallet_id":  input.WalletID,
				"created_by": "comchain",
			},
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to create schedule",
				"schedule_id", id,
				"error", err,
			)
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}
		c.logger.InfoContext(ctx, "sync schedule created",
			"wallet_id", input.WalletID,
			"schedule_id", id,
			"interval", interval,
		)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			in.Description.Schedule.Action = action
			return &client.ScheduleUpdate{
				Schedule: &in.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to update schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "sync schedule updated",
		"wallet_id", input.WalletID,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteSyncSchedule deletes the Temporal schedule for a wallet.
func (c *Client) DeleteSyncSchedule(ctx context.Context, walletID string) error {
	id := scheduleID(walletID)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to delete schedule",
			"wallet_id", walletID,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "sync schedule deleted",
		"wallet_id", walletID,
		"schedule_id", id,
	)
	return nil
}

// SyncNow runs one sync for a wallet outside its schedule and waits for the
// result.
func (c *Client) SyncNow(ctx context.Context, input SyncWalletInput) (*SyncWalletResult, error) {
	start := time.Now()
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("%s%s-manual-%d", ScheduleIDPrefix, input.WalletID, start.Unix()),
		TaskQueue: c.taskQueue,
	}, SyncWalletWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start sync workflow: %w", err)
	}

	var result SyncWalletResult
	err = run.Get(ctx, &result)
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordWorkflowDuration(input.WalletID, status, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("sync workflow failed: %w", err)
	}
	return &result, nil
}

func (c *Client) workflowAction(input SyncWalletInput) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        scheduleID(input.WalletID),
		Workflow:  SyncWalletWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
