package ports

import (
	"context"
	"time"

	"github.com/aescanero/dagflow/pkg/domain"
)

// EventHandler receives events delivered by an EventBus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers progress events by topic.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	// Subscribe registers handler until ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// RunStorage persists run state. GetRun returns domain.ErrRunNotFound for
// unknown ids.
type RunStorage interface {
	SaveRun(ctx context.Context, state *domain.RunState) error
	GetRun(ctx context.Context, runID string) (*domain.RunState, error)
	DeleteRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context) ([]*domain.RunState, error)
}

// ResultCache stores node outputs by content-addressed key.
type ResultCache interface {
	Get(ctx context.Context, key string) (map[string]any, bool, error)
	Set(ctx context.Context, key string, outputs map[string]any) error
}

// MetricsCollector records engine metrics.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordNodeExecuted(nodeType, status string, duration time.Duration)
	RecordCacheLookup(hit bool)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	ObserveQueueWaitTime(duration time.Duration)
	SetActiveRuns(count int)
	ObserveStandalone(pluginID, mode string, duration time.Duration, success bool)
}
