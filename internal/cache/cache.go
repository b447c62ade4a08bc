package cache

import (
	"context"
	"time"

	"smartkasir/backend/internal/domain"
)

// ReportCache stores computed sales reports. Invalidate drops every entry
// written before the call.
//
// Get reports the generation it looked under. A report computed after a miss
// must be stored with that generation, so rows computed before an Invalidate
// are never visible after it.
type ReportCache interface {
	Get(ctx context.Context, key string) (rows []domain.SalesReportRow, gen int64, ok bool, err error)
	Set(ctx context.Context, key string, gen int64, rows []domain.SalesReportRow, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) ([]domain.SalesReportRow, int64, bool, error) {
	return nil, 0, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ int64, _ []domain.SalesReportRow, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
