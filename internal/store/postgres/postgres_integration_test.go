package postgres

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"smartkasir/backend/internal/domain"
	"smartkasir/backend/internal/store"
)

var testDatabaseURL string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("smartkasir"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	testDatabaseURL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

var seededAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestStore returns a migrated, empty store holding two categories and
// the three demo products (ids 1..3).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testDatabaseURL == "" {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	s, err := New(ctx, testDatabaseURL, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	_, err = s.pool.Exec(ctx, `TRUNCATE transaction_items, transactions, products, categories RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	for _, name := range []string{"Minuman", "Makanan"} {
		_, err := s.CreateCategory(ctx, domain.Category{Name: name, CreatedAt: seededAt, UpdatedAt: seededAt})
		require.NoError(t, err)
	}
	for _, p := range []struct {
		category int64
		name     string
		cost     int64
		sell     int64
		stock    int
	}{
		{1, "Teh Botol", 5000, 7000, 12},
		{2, "Roti Tawar", 10000, 12000, 8},
		{1, "Kopi Sachet", 5000, 7000, 20},
	} {
		categoryID, cost := p.category, p.cost
		_, err := s.CreateProduct(ctx, domain.Product{
			CategoryID: &categoryID,
			Name:       p.name,
			CostPrice:  &cost,
			SellPrice:  p.sell,
			Stock:      p.stock,
			CreatedAt:  seededAt,
			UpdatedAt:  seededAt,
		})
		require.NoError(t, err)
	}
	return s
}

func sale(at time.Time, productID int64, qty int) domain.Transaction {
	return domain.Transaction{
		Date:      at,
		CreatedAt: at,
		Items:     []domain.TransactionItem{{ProductID: productID, Qty: qty}},
	}
}

func TestCategoryNamesAreUniqueIgnoringCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCategory(ctx, domain.Category{Name: "MINUMAN"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrValidation)
	assert.Equal(t, store.MsgCategoryNameExists, err.Error())

	// Renaming to its own name in another case is allowed.
	updated, err := s.UpdateCategory(ctx, domain.Category{ID: 1, Name: "minuman", UpdatedAt: seededAt})
	require.NoError(t, err)
	assert.Equal(t, "minuman", updated.Name)

	_, err = s.UpdateCategory(ctx, domain.Category{ID: 99, Name: "Baru"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProductWritesCheckCategoryAndName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing := int64(42)
	_, err := s.CreateProduct(ctx, domain.Product{CategoryID: &missing, Name: "Susu", SellPrice: 9000})
	require.Error(t, err)
	assert.Equal(t, store.MsgInvalidCategoryID, err.Error())

	_, err = s.CreateProduct(ctx, domain.Product{Name: " teh botol ", SellPrice: 9000})
	require.Error(t, err)
	assert.Equal(t, store.MsgProductNameExists, err.Error())

	found, err := s.FindProductByName(ctx, "KOPI sachet")
	require.NoError(t, err)
	assert.Equal(t, int64(3), found.ID)

	_, err = s.FindProductByName(ctx, "Susu")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateProductKeepsStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cost := int64(5500)
	updated, err := s.UpdateProduct(ctx, domain.Product{ID: 1, Name: "Teh Botol", CostPrice: &cost, SellPrice: 7500, Stock: 999})
	require.NoError(t, err)
	assert.Equal(t, 12, updated.Stock)
	assert.Equal(t, int64(7500), updated.SellPrice)
	assert.Nil(t, updated.CategoryID)
}

func TestDeleteCategoryInUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.DeleteCategory(ctx, 2)
	require.Error(t, err)
	assert.Equal(t, store.MsgCategoryInUse, err.Error())

	require.NoError(t, s.DeleteProduct(ctx, 2))
	require.NoError(t, s.DeleteCategory(ctx, 2))
	assert.ErrorIs(t, s.DeleteCategory(ctx, 2), store.ErrNotFound)
}

func TestRecordTransactionDecrementsStockAndSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)

	tx := domain.Transaction{
		Date:      at,
		CreatedAt: at,
		Discount:  1000,
		Items: []domain.TransactionItem{
			{ProductID: 1, Qty: 2, SellPrice: 7000},
			{ProductID: 2, Qty: 1},
		},
	}
	recorded, err := s.RecordTransaction(ctx, tx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), recorded.ID)
	assert.Equal(t, int64(26000), recorded.Total)
	assert.Equal(t, int64(25000), recorded.FinalAmount)
	assert.Equal(t, domain.PaymentMethodCash, recorded.PaymentMethod)
	require.Len(t, recorded.Items, 2)
	assert.Equal(t, int64(12000), recorded.Items[1].SellPrice)
	assert.Equal(t, int64(10000), recorded.Items[1].CostPrice)

	products, err := s.GetProductsByIDs(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 10, products[1].Stock)
	assert.Equal(t, 7, products[2].Stock)

	require.NoError(t, s.DeleteProduct(ctx, 1))
	loaded, err := s.GetTransaction(ctx, recorded.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 2)
	assert.Equal(t, "Teh Botol", loaded.Items[0].Product.Name)
	assert.Equal(t, int64(5000), loaded.Items[0].CostPrice)
	assert.True(t, at.Equal(loaded.Date))
}

func TestRecordTransactionRejectsWithoutPartialCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)

	_, err := s.RecordTransaction(ctx, domain.Transaction{
		Date: at,
		Items: []domain.TransactionItem{
			{ProductID: 1, Qty: 1},
			{ProductID: 2, Qty: 5},
			{ProductID: 2, Qty: 4},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, "Insufficient stock for Roti Tawar. Available: 8, Requested: 9", err.Error())

	_, err = s.RecordTransaction(ctx, sale(at, 77, 1))
	require.Error(t, err)
	assert.Equal(t, store.MsgProductMissing(77), err.Error())

	product, err := s.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 12, product.Stock)

	txs, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordTransaction(ctx, sale(at, 2, 1))
			if err != nil && !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, succeeded)
	product, err := s.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock)
}

func TestListTransactionsBetween(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, tx := range []domain.Transaction{
		sale(day.Add(9*time.Hour), 1, 1),
		sale(day.Add(9*time.Hour), 3, 1),
		sale(day.Add(33*time.Hour), 2, 1),
	} {
		_, err := s.RecordTransaction(ctx, tx)
		require.NoError(t, err)
	}

	all, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{all[0].ID, all[1].ID, all[2].ID})

	firstDay, err := s.ListTransactionsBetween(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, firstDay, 2)
	assert.Len(t, firstDay[0].Items, 1)

	empty, err := s.ListTransactionsBetween(ctx, day.AddDate(0, 1, 0), time.Time{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSetStockReturnsPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	previous, err := s.SetStock(ctx, 3, 15, seededAt)
	require.NoError(t, err)
	assert.Equal(t, 20, previous)

	_, err = s.SetStock(ctx, 3, -1, seededAt)
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = s.SetStock(ctx, 404, 1, seededAt)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
