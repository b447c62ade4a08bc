package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"smartkasir/backend/internal/domain"
	"smartkasir/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func New(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = 30
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "postgres").Logger(),
	}, nil
}

// Migrate creates the tables and indexes when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const categoryColumns = `id, name, description, created_at, updated_at`

func scanCategory(row rowScanner) (domain.Category, error) {
	var c domain.Category
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	c, err := scanCategory(s.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound("Category", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	c, err := scanCategory(s.pool.QueryRow(ctx, `
		INSERT INTO categories (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+categoryColumns,
		category.Name, category.Description, category.CreatedAt, category.UpdatedAt,
	))
	if err != nil {
		return nil, categoryWriteError(err)
	}
	return &c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	c, err := scanCategory(s.pool.QueryRow(ctx, `
		UPDATE categories
		SET name = $2, description = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+categoryColumns,
		category.ID, category.Name, category.Description, category.UpdatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound("Category", category.ID)
	}
	if err != nil {
		return nil, categoryWriteError(err)
	}
	return &c, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
			return store.Invalid("category_id", store.MsgCategoryInUse)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("Category", id)
	}
	return nil
}

const productColumns = `id, category_id, name, cost_price, sell_price, stock, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.CostPrice, &p.SellPrice, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound("Product", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE lower(name) = $1`, store.NameKey(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound("Product", 0)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		INSERT INTO products (category_id, name, cost_price, sell_price, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+productColumns,
		product.CategoryID, product.Name, product.CostPrice, product.SellPrice, product.Stock,
		product.CreatedAt, product.UpdatedAt,
	))
	if err != nil {
		return nil, productWriteError(err)
	}
	return &p, nil
}

// UpdateProduct leaves stock and created_at untouched.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products
		SET category_id = $2, name = $3, cost_price = $4, sell_price = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.CategoryID, product.Name, product.CostPrice, product.SellPrice, product.UpdatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound("Product", product.ID)
	}
	if err != nil {
		return nil, productWriteError(err)
	}
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("Product", id)
	}
	return nil
}

func (s *Store) SetStock(ctx context.Context, id int64, qty int, at time.Time) (int, error) {
	if qty < 0 {
		return 0, store.Invalid("counted_qty", "Counted quantity must not be negative")
	}

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, err
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	var previous int
	err = pgTx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.NotFound("Product", id)
	}
	if err != nil {
		return 0, err
	}
	if _, err := pgTx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`, id, qty, at); err != nil {
		return 0, err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return 0, err
	}
	return previous, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.ListTransactionsBetween(ctx, time.Time{}, time.Time{})
}

func (s *Store) ListTransactionsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, date, total, discount, final_amount, payment_method, status, created_at
		FROM transactions
		WHERE ($1::timestamptz IS NULL OR date >= $1)
		  AND ($2::timestamptz IS NULL OR date < $2)
		ORDER BY date DESC, id ASC
	`, optionalTime(from), optionalTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 64)
	index := make(map[int64]int)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		index[tx.ID] = len(txs)
		ids = append(ids, tx.ID)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return txs, nil
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		i := index[item.TransactionID]
		txs[i].Items = append(txs[i].Items, item)
	}
	return txs, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx, `
		SELECT id, date, total, discount, final_amount, payment_method, status, created_at
		FROM transactions
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound("Transaction", id)
	}
	if err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	tx.Items = items
	return &tx, nil
}

// RecordTransaction locks the referenced product rows in id order, so
// concurrent sales of the same products serialize and never deadlock.
func (s *Store) RecordTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	products := make(map[int64]domain.Product)
	if ids := store.ProductIDs(tx); len(ids) > 0 {
		rows, err := pgTx.Query(ctx, `
			SELECT `+productColumns+`
			FROM products
			WHERE id = ANY($1)
			ORDER BY id
			FOR UPDATE
		`, ids)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			products[p.ID] = p
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	prepared, adjustments, err := store.PrepareTransaction(tx, products)
	if err != nil {
		return nil, err
	}

	for _, adj := range adjustments {
		if _, err := pgTx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1
		`, adj.ProductID, adj.Qty, prepared.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to decrement stock for product %d: %w", adj.ProductID, err)
		}
	}

	err = pgTx.QueryRow(ctx, `
		INSERT INTO transactions (date, total, discount, final_amount, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, prepared.Date, prepared.Total, prepared.Discount, prepared.FinalAmount,
		prepared.PaymentMethod, prepared.Status, prepared.CreatedAt,
	).Scan(&prepared.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range prepared.Items {
		batch.Queue(`
			INSERT INTO transaction_items (
				transaction_id, product_id, product_name, product_category_id,
				qty, sell_price, cost_price, subtotal
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, prepared.ID, item.ProductID, item.Product.Name, item.Product.CategoryID,
			item.Qty, item.SellPrice, item.CostPrice, item.Subtotal)
	}
	results := pgTx.SendBatch(ctx, batch)
	for i := range prepared.Items {
		if err := results.QueryRow().Scan(&prepared.Items[i].ID); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("failed to insert transaction item: %w", err)
		}
		prepared.Items[i].TransactionID = prepared.ID
	}
	if err := results.Close(); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Int64("transaction_id", prepared.ID).Msg("commit failed")
		return nil, err
	}
	return &prepared, nil
}

func (s *Store) loadItems(ctx context.Context, txIDs []int64) ([]domain.TransactionItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, product_id, product_name, product_category_id,
		       qty, sell_price, cost_price, subtotal
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY id
	`, txIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionItem, 0, len(txIDs)*2)
	for rows.Next() {
		var item domain.TransactionItem
		snapshot := &domain.ProductSnapshot{}
		if err := rows.Scan(
			&item.ID, &item.TransactionID, &item.ProductID, &snapshot.Name, &snapshot.CategoryID,
			&item.Qty, &item.SellPrice, &item.CostPrice, &item.Subtotal,
		); err != nil {
			return nil, err
		}
		snapshot.ID = item.ProductID
		item.Product = snapshot
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(&tx.ID, &tx.Date, &tx.Total, &tx.Discount, &tx.FinalAmount, &tx.PaymentMethod, &tx.Status, &tx.CreatedAt)
	if err != nil {
		return tx, err
	}
	tx.Date = tx.Date.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.Items = []domain.TransactionItem{}
	return tx, nil
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func categoryWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return store.Invalid("name", store.MsgCategoryNameExists)
	}
	return err
}

func productWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return store.Invalid("name", store.MsgProductNameExists)
	case codeForeignKeyViolation:
		return store.Invalid("category_id", store.MsgInvalidCategoryID)
	}
	return err
}
