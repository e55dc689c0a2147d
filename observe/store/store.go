package store

import (
	"context"
	"time"

	"github.com/PipeOpsHQ/agent-web/observe"
)

type ListQuery struct {
	Limit  int
	Offset int
}

type MetricsQuery struct {
	Since *time.Time
}

type MetricsSummary struct {
	Requests         int64 `json:"requests"`
	RequestsFailed   int64 `json:"requestsFailed"`
	Throttled        int64 `json:"throttled"`
	RunsCompleted    int64 `json:"runsCompleted"`
	RunsFailed       int64 `json:"runsFailed"`
	ProviderCalls    int64 `json:"providerCalls"`
	ProviderFailures int64 `json:"providerFailures"`
}

type Store interface {
	SaveEvent(ctx context.Context, event observe.Event) error
	ListEventsByRequest(ctx context.Context, requestID uint64) ([]observe.Event, error)
	ListEventsByRun(ctx context.Context, runID string, query ListQuery) ([]observe.Event, error)
	ListRecent(ctx context.Context, query ListQuery) ([]observe.Event, error)
	AggregateMetrics(ctx context.Context, query MetricsQuery) (MetricsSummary, error)
	Close() error
}
