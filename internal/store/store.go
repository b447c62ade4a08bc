package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartkasir/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ValidationError is a rejected input. Message is safe to show to clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string { return e.Entity + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError matches both ErrInsufficientStock and ErrValidation.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s. Available: %d, Requested: %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == ErrValidation
}

// Messages shared by every Repository implementation.
const (
	MsgCategoryNameExists = "Category name already exists"
	MsgCategoryInUse      = "Category is still used by products"
	MsgProductNameExists  = "Product name already exists"
	MsgInvalidCategoryID  = "Invalid category_id"
	MsgDiscountRange      = "Discount must be between 0 and total"
)

func MsgProductMissing(id int64) string {
	return fmt.Sprintf("Product with id %d not found", id)
}

// Repository is the shared catalog, stock ledger and transaction log.
// Implementations enforce name uniqueness and category references at write
// time, and record transactions as one critical section: every line is
// validated against current stock before any stock is decremented.
type Repository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	FindProductByName(ctx context.Context, name string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	// SetStock overwrites the stock counter after a physical count (stock
	// opname) and returns the previous value. It is the only stock change
	// outside RecordTransaction.
	SetStock(ctx context.Context, id int64, qty int, at time.Time) (int, error)

	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	// ListTransactionsBetween returns transactions with from <= date < to.
	// A zero bound is open.
	ListTransactionsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	// RecordTransaction resolves each line against the catalog, checks stock
	// aggregated per product, then decrements stock and appends the
	// transaction. Item sell_price 0 means the current catalog price.
	RecordTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
}

// NameKey is the comparison key for case-insensitive name uniqueness.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PrepareTransaction resolves tx lines against products (the locked view of
// the catalog) and returns the priced transaction plus the stock decrements
// it implies. Nothing is mutated; callers apply the adjustments only when
// err is nil. A zero CreatedAt takes the transaction date.
func PrepareTransaction(tx domain.Transaction, products map[int64]domain.Product) (domain.Transaction, []domain.StockAdjustment, error) {
	if len(tx.Items) == 0 {
		return tx, nil, Invalid("items", "Transaction must have at least one item")
	}

	requested := make(map[int64]int, len(tx.Items))
	order := make([]int64, 0, len(tx.Items))
	items := make([]domain.TransactionItem, 0, len(tx.Items))
	total := int64(0)

	for _, line := range tx.Items {
		if line.ProductID < 1 || line.Qty < 1 || line.SellPrice < 0 {
			return tx, nil, Invalid("items", "Each item must have product_id, qty, and sell_price")
		}
		product, ok := products[line.ProductID]
		if !ok {
			return tx, nil, Invalid("product_id", "%s", MsgProductMissing(line.ProductID))
		}
		if _, seen := requested[product.ID]; !seen {
			order = append(order, product.ID)
		}
		requested[product.ID] += line.Qty
		if requested[product.ID] > product.Stock {
			return tx, nil, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   requested[product.ID],
			}
		}

		sellPrice := line.SellPrice
		if sellPrice == 0 {
			sellPrice = product.SellPrice
		}
		costPrice := int64(0)
		if product.CostPrice != nil {
			costPrice = *product.CostPrice
		}
		if sellPrice > MaxAmount {
			return tx, nil, Invalid("sell_price", MsgAmountTooLarge)
		}
		subtotal, ok := MulAmount(int64(line.Qty), sellPrice)
		if !ok {
			return tx, nil, Invalid("items", MsgAmountTooLarge)
		}
		if total, ok = AddAmount(total, subtotal); !ok {
			return tx, nil, Invalid("items", MsgAmountTooLarge)
		}

		items = append(items, domain.TransactionItem{
			ProductID: product.ID,
			Qty:       line.Qty,
			SellPrice: sellPrice,
			CostPrice: costPrice,
			Subtotal:  subtotal,
			Product: &domain.ProductSnapshot{
				ID:         product.ID,
				Name:       product.Name,
				CategoryID: cloneID(product.CategoryID),
			},
		})
	}

	if tx.Discount < 0 || tx.Discount > total {
		return tx, nil, Invalid("discount", MsgDiscountRange)
	}

	adjustments := make([]domain.StockAdjustment, 0, len(order))
	for _, id := range order {
		adjustments = append(adjustments, domain.StockAdjustment{ProductID: id, Qty: requested[id]})
	}

	tx.Items = items
	tx.Total = total
	tx.FinalAmount = total - tx.Discount
	if tx.PaymentMethod == "" {
		tx.PaymentMethod = domain.PaymentMethodCash
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = tx.Date
	}
	return tx, adjustments, nil
}

// ProductIDs lists the distinct product ids referenced by tx lines.
func ProductIDs(tx domain.Transaction) []int64 {
	seen := make(map[int64]struct{}, len(tx.Items))
	ids := make([]int64, 0, len(tx.Items))
	for _, item := range tx.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
