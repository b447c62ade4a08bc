package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"smartkasir/backend/internal/cache"
	"smartkasir/backend/internal/domain"
	"smartkasir/backend/internal/store"
)

const DateLayout = "2006-01-02"

type CostBasis string

const (
	// CostBasisCurrent prices profit with the product's cost today.
	CostBasisCurrent CostBasis = "current"
	// CostBasisSnapshot uses the cost recorded on the item at sale time.
	CostBasisSnapshot CostBasis = "snapshot"
)

func ParseCostBasis(raw string) (CostBasis, error) {
	switch CostBasis(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CostBasisCurrent:
		return CostBasisCurrent, nil
	case CostBasisSnapshot:
		return CostBasisSnapshot, nil
	}
	return "", fmt.Errorf("unknown report cost basis %q", raw)
}

// Source is the read side of the store the aggregator needs.
type Source interface {
	ListTransactionsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}

type Options struct {
	CacheTTL  time.Duration
	Location  *time.Location
	CostBasis CostBasis
	Logger    zerolog.Logger
}

type Aggregator struct {
	source   Source
	cache    cache.ReportCache
	cacheTTL time.Duration
	loc      *time.Location
	basis    CostBasis
	logger   zerolog.Logger
}

func NewAggregator(source Source, cacheStore cache.ReportCache, opts Options) *Aggregator {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CostBasis == "" {
		opts.CostBasis = CostBasisCurrent
	}

	return &Aggregator{
		source:   source,
		cache:    cacheStore,
		cacheTTL: opts.CacheTTL,
		loc:      opts.Location,
		basis:    opts.CostBasis,
		logger:   opts.Logger.With().Str("component", "report").Logger(),
	}
}

func (a *Aggregator) Location() *time.Location { return a.loc }

// SalesReport returns one row per calendar date with sales, newest first.
// start and end are optional YYYY-MM-DD bounds, both inclusive.
func (a *Aggregator) SalesReport(ctx context.Context, start string, end string) ([]domain.SalesReportRow, error) {
	from, to, err := a.bounds(start, end)
	if err != nil {
		return nil, err
	}

	cacheKey := a.cacheKey(start, end)
	cached, gen, hit, cacheErr := a.cache.Get(ctx, cacheKey)
	if cacheErr != nil {
		a.logger.Warn().Err(cacheErr).Msg("report cache read failed")
	} else if hit {
		return cached, nil
	}

	txs, err := a.source.ListTransactionsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	costOf := snapshotCost
	if a.basis == CostBasisCurrent {
		products, err := a.source.GetProductsByIDs(ctx, itemProductIDs(txs))
		if err != nil {
			return nil, fmt.Errorf("load product costs: %w", err)
		}
		costOf = currentCost(products)
	}

	rows, err := Aggregate(txs, a.loc, costOf)
	if err != nil {
		return nil, err
	}
	// Without a generation the write could outlive an invalidation.
	if cacheErr == nil {
		if err := a.cache.Set(ctx, cacheKey, gen, rows, a.cacheTTL); err != nil {
			a.logger.Warn().Err(err).Msg("report cache write failed")
		}
	}
	return rows, nil
}

// Invalidate drops cached reports after a write that changes sales or costs.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if err := a.cache.Invalidate(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("report cache invalidate failed")
	}
}

// Aggregate groups item revenue and profit by the transaction's calendar
// date in loc. Dates without sales are omitted.
func Aggregate(txs []domain.Transaction, loc *time.Location, costOf func(domain.TransactionItem) int64) ([]domain.SalesReportRow, error) {
	byDate := make(map[string]*domain.SalesReportRow)
	for _, tx := range txs {
		key := tx.Date.In(loc).Format(DateLayout)
		row, ok := byDate[key]
		if !ok {
			row = &domain.SalesReportRow{Date: key}
			byDate[key] = row
		}
		for _, item := range tx.Items {
			qty := int64(item.Qty)
			revenue, ok1 := store.MulAmount(qty, item.SellPrice)
			cost, ok2 := store.MulAmount(qty, costOf(item))
			total, ok3 := store.AddAmount(row.Total, revenue)
			profit, ok4 := store.AddAmount(row.Profit, revenue-cost)
			if !ok1 || !ok2 || !ok3 || !ok4 {
				return nil, fmt.Errorf("sales on %s overflow the amount range", key)
			}
			row.Total, row.Profit = total, profit
		}
	}

	rows := make([]domain.SalesReportRow, 0, len(byDate))
	for _, row := range byDate {
		rows = append(rows, *row)
	}
	slices.SortFunc(rows, func(a, b domain.SalesReportRow) int {
		return strings.Compare(b.Date, a.Date)
	})
	return rows, nil
}

func snapshotCost(item domain.TransactionItem) int64 {
	return item.CostPrice
}

// currentCost falls back to zero for deleted products or unknown costs.
func currentCost(products map[int64]domain.Product) func(domain.TransactionItem) int64 {
	return func(item domain.TransactionItem) int64 {
		p, ok := products[item.ProductID]
		if !ok || p.CostPrice == nil {
			return 0
		}
		return *p.CostPrice
	}
}

func (a *Aggregator) bounds(start string, end string) (time.Time, time.Time, error) {
	var from, to time.Time
	var startDay, endDay time.Time

	if start = strings.TrimSpace(start); start != "" {
		day, err := time.ParseInLocation(DateLayout, start, a.loc)
		if err != nil {
			return from, to, store.Invalid("start", "start must be a date in YYYY-MM-DD format")
		}
		startDay, from = day, day
	}
	if end = strings.TrimSpace(end); end != "" {
		day, err := time.ParseInLocation(DateLayout, end, a.loc)
		if err != nil {
			return from, to, store.Invalid("end", "end must be a date in YYYY-MM-DD format")
		}
		endDay, to = day, day.AddDate(0, 0, 1)
	}
	if !startDay.IsZero() && !endDay.IsZero() && startDay.After(endDay) {
		return from, to, store.Invalid("start", "start must not be after end")
	}
	return from, to, nil
}

func (a *Aggregator) cacheKey(start string, end string) string {
	raw := strings.Join([]string{
		strings.TrimSpace(start),
		strings.TrimSpace(end),
		string(a.basis),
		a.loc.String(),
	}, "|")
	hash := sha1.Sum([]byte(raw))
	return "sales:" + hex.EncodeToString(hash[:])
}

func itemProductIDs(txs []domain.Transaction) []int64 {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for _, tx := range txs {
		for _, item := range tx.Items {
			if _, ok := seen[item.ProductID]; ok {
				continue
			}
			seen[item.ProductID] = struct{}{}
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}
