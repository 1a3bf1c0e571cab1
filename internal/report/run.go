package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/repeat-buyers/internal/aggregate"
)

// Run is the complete output of one pipeline execution.
type Run struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Batches        int
	MissingBatches int
	Orders         int
	Customers      int
	Reports        []Report
}

// Report holds the buckets of one granularity in emission order.
type Report struct {
	Granularity aggregate.Granularity
	Buckets     []aggregate.Stats
}

// NewRun returns an empty Run with a fresh ID.
func NewRun(now time.Time) *Run {
	return &Run{
		ID:        uuid.New(),
		CreatedAt: now.UTC(),
	}
}

// Repository persists pipeline runs.
type Repository interface {
	Save(ctx context.Context, run *Run) error
}
