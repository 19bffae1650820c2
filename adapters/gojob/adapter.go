package gojob

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDSyncUser = "storage.sync.user"
	JobIDSyncAll  = "storage.sync.all"

	paramUserID   = "user_id"
	paramProvider = "provider"
)

// SyncRunner is the sync surface the queue worker drives. *sync.Engine
// satisfies it.
type SyncRunner interface {
	SyncAll(ctx context.Context) error
	SyncUser(ctx context.Context, userID string, provider string) error
}

// NewSyncUserMessage builds the queue message for one user/provider sync
// pass. The idempotency key collapses duplicate enqueues for the same pair
// so a backlog never piles up redundant passes.
func NewSyncUserMessage(userID string, provider string) *job.ExecutionMessage {
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	return &job.ExecutionMessage{
		JobID: JobIDSyncUser,
		Parameters: map[string]any{
			paramUserID:   userID,
			paramProvider: provider,
		},
		IdempotencyKey: JobIDSyncUser + "::" + userID + "::" + provider,
	}
}

// NewSyncAllMessage builds the queue message for a full sweep across every
// active connection.
func NewSyncAllMessage() *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDSyncAll,
		IdempotencyKey: JobIDSyncAll,
	}
}

// SyncScheduler enqueues sync work onto a go-job queue.
type SyncScheduler struct {
	enqueuer queue.Enqueuer
}

func NewSyncScheduler(enqueuer queue.Enqueuer) *SyncScheduler {
	return &SyncScheduler{enqueuer: enqueuer}
}

func (s *SyncScheduler) EnqueueUserSync(ctx context.Context, userID string, provider string) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("gojob: user id is required")
	}
	if strings.TrimSpace(provider) == "" {
		return fmt.Errorf("gojob: provider is required")
	}
	_, err := s.enqueuer.Enqueue(ctx, NewSyncUserMessage(userID, provider))
	return err
}

func (s *SyncScheduler) EnqueueFullSweep(ctx context.Context) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	_, err := s.enqueuer.Enqueue(ctx, NewSyncAllMessage())
	return err
}

// SyncJobHandler executes dequeued sync messages against the engine.
type SyncJobHandler struct {
	runner SyncRunner
}

func NewSyncJobHandler(runner SyncRunner) *SyncJobHandler {
	return &SyncJobHandler{runner: runner}
}

func (h *SyncJobHandler) Handle(ctx context.Context, msg *job.ExecutionMessage) error {
	if h == nil || h.runner == nil {
		return fmt.Errorf("gojob: sync runner is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	switch msg.JobID {
	case JobIDSyncAll:
		return h.runner.SyncAll(ctx)
	case JobIDSyncUser:
		userID := stringParam(msg.Parameters, paramUserID)
		provider := stringParam(msg.Parameters, paramProvider)
		if userID == "" || provider == "" {
			return fmt.Errorf("gojob: sync message %q is missing user or provider", msg.JobID)
		}
		return h.runner.SyncUser(ctx, userID, provider)
	default:
		return fmt.Errorf("gojob: unknown job id %q", msg.JobID)
	}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

// LoggingWorkerHook reports worker lifecycle events through the module
// logger.
type LoggingWorkerHook struct {
	logger glog.Logger
}

func NewLoggingWorkerHook(logger glog.Logger) *LoggingWorkerHook {
	return &LoggingWorkerHook{logger: glog.Ensure(logger)}
}

func (h *LoggingWorkerHook) OnStart(_ context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.logger.Debug("sync job started", "job_id", eventJobID(event))
}

func (h *LoggingWorkerHook) OnSuccess(_ context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.logger.Info("sync job finished",
		"job_id", eventJobID(event),
		"duration", event.Duration,
	)
}

func (h *LoggingWorkerHook) OnFailure(_ context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.logger.Warn("sync job failed",
		"job_id", eventJobID(event),
		"attempt", event.Attempt,
		"error", event.Err,
	)
}

func (h *LoggingWorkerHook) OnRetry(_ context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.logger.Info("sync job retrying",
		"job_id", eventJobID(event),
		"attempt", event.Attempt,
		"delay", event.Delay,
	)
}

func eventJobID(event worker.Event) string {
	if event.Message != nil {
		return event.Message.JobID
	}
	if event.Delivery != nil {
		if msg := event.Delivery.Message(); msg != nil {
			return msg.JobID
		}
	}
	return ""
}

var _ worker.Hook = (*LoggingWorkerHook)(nil)
