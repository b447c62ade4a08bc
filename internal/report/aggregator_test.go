package report

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"smartkasir/backend/internal/domain"
	"smartkasir/backend/internal/store"
	"smartkasir/backend/internal/store/memory"
)

// mapCache is an in-process ReportCache that counts hits. Invalidate bumps
// the generation like the redis implementation.
type mapCache struct {
	entries map[string][]domain.SalesReportRow
	gen     int64
	hits    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]domain.SalesReportRow{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]domain.SalesReportRow, int64, bool, error) {
	rows, ok := c.entries[fmt.Sprintf("%d:%s", c.gen, key)]
	if ok {
		c.hits++
	}
	return rows, c.gen, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, gen int64, rows []domain.SalesReportRow, _ time.Duration) error {
	c.entries[fmt.Sprintf("%d:%s", gen, key)] = rows
	return nil
}

func (c *mapCache) Invalidate(_ context.Context) error {
	c.gen++
	return nil
}

func newTestAggregator(src Source, c *mapCache, basis CostBasis) *Aggregator {
	return NewAggregator(src, c, Options{
		Location:  time.UTC,
		CostBasis: basis,
		Logger:    zerolog.Nop(),
	})
}

func TestSalesReportOverSeed(t *testing.T) {
	agg := newTestAggregator(memory.NewSeeded(), newMapCache(), CostBasisCurrent)

	rows, err := agg.SalesReport(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// 14000 + 12000 + 21000; profit 4000 + 2000 + 6000
	assert.Equal(t, domain.SalesReportRow{Date: "2024-01-15", Total: 47000, Profit: 12000}, rows[0])
}

func TestSalesReportIncludesNewSale(t *testing.T) {
	ctx := context.Background()
	s := memory.NewSeeded()
	agg := newTestAggregator(s, newMapCache(), CostBasisCurrent)

	_, err := s.RecordTransaction(ctx, domain.Transaction{
		Date:  time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC),
		Items: []domain.TransactionItem{{ProductID: 1, Qty: 2, SellPrice: 7000}},
	})
	require.NoError(t, err)

	rows, err := agg.SalesReport(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.SalesReportRow{Date: "2024-01-16", Total: 14000, Profit: 4000}, rows[0])
	assert.Equal(t, "2024-01-15", rows[1].Date)
}

func TestSalesReportBoundsAreInclusive(t *testing.T) {
	ctx := context.Background()
	s := memory.NewSeeded()
	for _, day := range []int{14, 16, 17} {
		_, err := s.RecordTransaction(ctx, domain.Transaction{
			Date:  time.Date(2024, 1, day, 23, 59, 0, 0, time.UTC),
			Items: []domain.TransactionItem{{ProductID: 3, Qty: 1}},
		})
		require.NoError(t, err)
	}
	agg := newTestAggregator(s, newMapCache(), CostBasisCurrent)

	rows, err := agg.SalesReport(ctx, "2024-01-15", "2024-01-16")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-16", rows[0].Date)
	assert.Equal(t, "2024-01-15", rows[1].Date)

	rows, err = agg.SalesReport(ctx, "2024-01-17", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7000), rows[0].Total)

	rows, err = agg.SalesReport(ctx, "2030-01-01", "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSalesReportRejectsBadBounds(t *testing.T) {
	agg := newTestAggregator(memory.NewSeeded(), newMapCache(), CostBasisCurrent)

	_, err := agg.SalesReport(context.Background(), "15-01-2024", "")
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = agg.SalesReport(context.Background(), "2024-01-16", "2024-01-15")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestSalesReportBucketsInLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	agg := NewAggregator(memory.NewSeeded(), nil, Options{Location: jakarta, Logger: zerolog.Nop()})

	// 2024-01-15 22:00 UTC is already the 16th in WIB.
	txs := []domain.Transaction{
		{Date: time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC), Items: []domain.TransactionItem{{ProductID: 1, Qty: 1, SellPrice: 7000}}},
	}
	rows, err := Aggregate(txs, agg.Location(), snapshotCost)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-16", rows[0].Date)
}

func TestCostBasis(t *testing.T) {
	ctx := context.Background()
	s := memory.NewSeeded()

	cost := int64(6000)
	_, err := s.UpdateProduct(ctx, domain.Product{ID: 1, Name: "Teh Botol", SellPrice: 7000, CostPrice: &cost})
	require.NoError(t, err)

	current, err := newTestAggregator(s, newMapCache(), CostBasisCurrent).SalesReport(ctx, "", "")
	require.NoError(t, err)
	snapshot, err := newTestAggregator(s, newMapCache(), CostBasisSnapshot).SalesReport(ctx, "", "")
	require.NoError(t, err)

	// Teh Botol sold 2: current cost takes 2000 off the 12000 profit.
	assert.Equal(t, int64(10000), current[0].Profit)
	assert.Equal(t, int64(12000), snapshot[0].Profit)
	assert.Equal(t, current[0].Total, snapshot[0].Total)
}

func TestDeletedProductCostsZero(t *testing.T) {
	ctx := context.Background()
	s := memory.NewSeeded()
	require.NoError(t, s.DeleteProduct(ctx, 2))

	rows, err := newTestAggregator(s, newMapCache(), CostBasisCurrent).SalesReport(ctx, "", "")
	require.NoError(t, err)
	// Roti Tawar profit becomes the full 12000 sale.
	assert.Equal(t, int64(4000+12000+6000), rows[0].Profit)
}

func TestSalesReportIsCachedAndReproducible(t *testing.T) {
	ctx := context.Background()
	c := newMapCache()
	agg := newTestAggregator(memory.NewSeeded(), c, CostBasisCurrent)

	first, err := agg.SalesReport(ctx, "", "")
	require.NoError(t, err)
	second, err := agg.SalesReport(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.hits)

	agg.Invalidate(ctx)
	_, err = agg.SalesReport(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, c.hits)
}

func TestParseCostBasis(t *testing.T) {
	basis, err := ParseCostBasis("")
	require.NoError(t, err)
	assert.Equal(t, CostBasisCurrent, basis)

	basis, err = ParseCostBasis(" Snapshot ")
	require.NoError(t, err)
	assert.Equal(t, CostBasisSnapshot, basis)

	_, err = ParseCostBasis("average")
	assert.Error(t, err)
}

func TestExports(t *testing.T) {
	rows := []domain.SalesReportRow{
		{Date: "2024-01-16", Total: 14000, Profit: 4000},
		{Date: "2024-01-15", Total: 47000, Profit: 12000},
	}

	var csvBuf bytes.Buffer
	require.NoError(t, WriteCSV(&csvBuf, rows))
	assert.Equal(t, "date,total,profit\n2024-01-16,14000,4000\n2024-01-15,47000,12000\n", csvBuf.String())

	var xlsxBuf bytes.Buffer
	require.NoError(t, WriteXLSX(&xlsxBuf, rows))
	f, err := excelize.OpenReader(&xlsxBuf)
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"date", "total", "profit"},
		{"2024-01-16", "14000", "4000"},
		{"2024-01-15", "47000", "12000"},
	}, got)
}

// saleDuringRead records a sale and invalidates the report cache while the
// first report is still reading transactions.
type saleDuringRead struct {
	*memory.Store
	agg  *Aggregator
	done bool
}

func (s *saleDuringRead) ListTransactionsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	txs, err := s.Store.ListTransactionsBetween(ctx, from, to)
	if err != nil || s.done {
		return txs, err
	}
	s.done = true
	if _, err := s.Store.RecordTransaction(ctx, domain.Transaction{
		Date:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		Items: []domain.TransactionItem{{ProductID: 1, Qty: 1, SellPrice: 7000}},
	}); err != nil {
		return nil, err
	}
	s.agg.Invalidate(ctx)
	return txs, nil
}

func TestSalesReportComputedBeforeInvalidateIsNotServedAfter(t *testing.T) {
	ctx := context.Background()
	src := &saleDuringRead{Store: memory.NewSeeded()}
	c := newMapCache()
	agg := newTestAggregator(src, c, CostBasisCurrent)
	src.agg = agg

	stale, err := agg.SalesReport(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(47000), stale[0].Total)

	fresh, err := agg.SalesReport(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, domain.SalesReportRow{Date: "2024-01-15", Total: 54000, Profit: 14000}, fresh[0])
	assert.Equal(t, 0, c.hits)
}

func TestAggregateRejectsOverflow(t *testing.T) {
	txs := []domain.Transaction{
		{Date: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), Items: []domain.TransactionItem{{ProductID: 1, Qty: 1, SellPrice: math.MaxInt64}}},
		{Date: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), Items: []domain.TransactionItem{{ProductID: 1, Qty: 1, SellPrice: 1}}},
	}
	_, err := Aggregate(txs, time.UTC, snapshotCost)
	assert.Error(t, err)
}
