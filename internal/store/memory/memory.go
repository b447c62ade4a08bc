package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"smartkasir/backend/internal/domain"
	"smartkasir/backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	categories   map[int64]domain.Category
	products     map[int64]domain.Product
	transactions []*domain.Transaction
	txIndex      map[int64]int

	// case-insensitive name -> id
	categoryNames map[string]int64
	productNames  map[string]int64

	nextCategoryID int64
	nextProductID  int64
	nextTxID       int64
	nextItemID     int64
}

func New() *Store {
	return &Store{
		categories:     make(map[int64]domain.Category),
		products:       make(map[int64]domain.Product),
		txIndex:        make(map[int64]int),
		categoryNames:  make(map[string]int64),
		productNames:   make(map[string]int64),
		nextCategoryID: 1,
		nextProductID:  1,
		nextTxID:       1,
		nextItemID:     1,
	}
}

// NewSeeded returns a store holding the demo catalog and three sales on
// 2024-01-15. Seed sales do not consume seed stock.
func NewSeeded() *Store {
	s := New()
	seededAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, c := range []struct {
		name string
		desc string
	}{
		{"Minuman", "Produk minuman kemasan dan sachet"},
		{"Makanan", "Produk makanan siap saji dan roti"},
	} {
		desc := c.desc
		s.insertCategory(domain.Category{Name: c.name, Description: &desc, CreatedAt: seededAt, UpdatedAt: seededAt})
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
		s.insertProduct(domain.Product{
			CategoryID: &categoryID,
			Name:       p.name,
			CostPrice:  &cost,
			SellPrice:  p.sell,
			Stock:      p.stock,
			CreatedAt:  seededAt,
			UpdatedAt:  seededAt,
		})
	}

	for _, sale := range []struct {
		at        time.Time
		productID int64
		qty       int
	}{
		{time.Date(2024, 1, 15, 9, 10, 0, 0, time.UTC), 1, 2},
		{time.Date(2024, 1, 15, 9, 25, 0, 0, time.UTC), 2, 1},
		{time.Date(2024, 1, 15, 10, 2, 0, 0, time.UTC), 3, 3},
	} {
		tx := domain.Transaction{
			Date:      sale.at,
			CreatedAt: sale.at,
			Items:     []domain.TransactionItem{{ProductID: sale.productID, Qty: sale.qty}},
		}
		prepared, _, err := store.PrepareTransaction(tx, s.products)
		if err != nil {
			panic("memory: invalid seed transaction: " + err.Error())
		}
		s.appendTransaction(prepared)
	}

	return s
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, cloneCategory(c))
	}
	slices.SortFunc(categories, func(a, b domain.Category) int { return cmp.Compare(a.ID, b.ID) })
	return categories, nil
}

func (s *Store) GetCategory(_ context.Context, id int64) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.categories[id]
	if !ok {
		return nil, store.NotFound("Category", id)
	}
	found := cloneCategory(category)
	return &found, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.categoryNames[store.NameKey(category.Name)]; taken {
		return nil, store.Invalid("name", store.MsgCategoryNameExists)
	}
	created := s.insertCategory(category)
	return &created, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.categories[category.ID]
	if !ok {
		return nil, store.NotFound("Category", category.ID)
	}
	key := store.NameKey(category.Name)
	if owner, taken := s.categoryNames[key]; taken && owner != category.ID {
		return nil, store.Invalid("name", store.MsgCategoryNameExists)
	}

	delete(s.categoryNames, store.NameKey(existing.Name))
	s.categoryNames[key] = category.ID
	category.CreatedAt = existing.CreatedAt
	s.categories[category.ID] = cloneCategory(category)
	updated := cloneCategory(category)
	return &updated, nil
}

func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, ok := s.categories[id]
	if !ok {
		return store.NotFound("Category", id)
	}
	for _, p := range s.products {
		if p.CategoryID != nil && *p.CategoryID == id {
			return store.Invalid("category_id", store.MsgCategoryInUse)
		}
	}
	delete(s.categoryNames, store.NameKey(category.Name))
	delete(s.categories, id)
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.NotFound("Product", id)
	}
	found := cloneProduct(product)
	return &found, nil
}

func (s *Store) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productNames[store.NameKey(name)]
	if !ok {
		return nil, store.NotFound("Product", 0)
	}
	found := cloneProduct(s.products[id])
	return &found, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = cloneProduct(p)
		}
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkProductLocked(product); err != nil {
		return nil, err
	}
	created := s.insertProduct(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.NotFound("Product", product.ID)
	}
	if err := s.checkProductLocked(product); err != nil {
		return nil, err
	}

	delete(s.productNames, store.NameKey(existing.Name))
	s.productNames[store.NameKey(product.Name)] = product.ID
	product.CreatedAt = existing.CreatedAt
	product.Stock = existing.Stock
	s.products[product.ID] = cloneProduct(product)
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return store.NotFound("Product", id)
	}
	delete(s.productNames, store.NameKey(product.Name))
	delete(s.products, id)
	return nil
}

func (s *Store) SetStock(_ context.Context, id int64, qty int, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return 0, store.NotFound("Product", id)
	}
	if qty < 0 {
		return 0, store.Invalid("counted_qty", "Counted quantity must not be negative")
	}
	previous := product.Stock
	product.Stock = qty
	product.UpdatedAt = at
	s.products[id] = product
	return previous, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.ListTransactionsBetween(ctx, time.Time{}, time.Time{})
}

func (s *Store) ListTransactionsBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.Date.Before(to) {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	// s.transactions is in insertion order, so the stable sort keeps ties that way.
	slices.SortStableFunc(out, func(a, b domain.Transaction) int {
		return b.Date.Compare(a.Date)
	})
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.txIndex[id]
	if !ok {
		return nil, store.NotFound("Transaction", id)
	}
	return cloneTransaction(s.transactions[idx]), nil
}

func (s *Store) RecordTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepared, adjustments, err := store.PrepareTransaction(tx, s.products)
	if err != nil {
		return nil, err
	}

	for _, adj := range adjustments {
		product := s.products[adj.ProductID]
		product.Stock -= adj.Qty
		s.products[adj.ProductID] = product
	}
	return cloneTransaction(s.appendTransaction(prepared)), nil
}

func (s *Store) checkProductLocked(product domain.Product) error {
	if owner, taken := s.productNames[store.NameKey(product.Name)]; taken && owner != product.ID {
		return store.Invalid("name", store.MsgProductNameExists)
	}
	if product.CategoryID != nil {
		if _, ok := s.categories[*product.CategoryID]; !ok {
			return store.Invalid("category_id", store.MsgInvalidCategoryID)
		}
	}
	return nil
}

func (s *Store) insertCategory(category domain.Category) domain.Category {
	category.ID = s.nextCategoryID
	s.nextCategoryID++
	s.categories[category.ID] = cloneCategory(category)
	s.categoryNames[store.NameKey(category.Name)] = category.ID
	return cloneCategory(category)
}

func (s *Store) insertProduct(product domain.Product) domain.Product {
	product.ID = s.nextProductID
	s.nextProductID++
	s.products[product.ID] = cloneProduct(product)
	s.productNames[store.NameKey(product.Name)] = product.ID
	return cloneProduct(product)
}

func (s *Store) appendTransaction(tx domain.Transaction) *domain.Transaction {
	tx.ID = s.nextTxID
	s.nextTxID++
	for i := range tx.Items {
		tx.Items[i].ID = s.nextItemID
		tx.Items[i].TransactionID = tx.ID
		s.nextItemID++
	}
	stored := cloneTransaction(&tx)
	s.txIndex[tx.ID] = len(s.transactions)
	s.transactions = append(s.transactions, stored)
	return stored
}

func cloneCategory(src domain.Category) domain.Category {
	if src.Description != nil {
		desc := *src.Description
		src.Description = &desc
	}
	return src
}

func cloneProduct(src domain.Product) domain.Product {
	if src.CategoryID != nil {
		id := *src.CategoryID
		src.CategoryID = &id
	}
	if src.CostPrice != nil {
		cost := *src.CostPrice
		src.CostPrice = &cost
	}
	return src
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = make([]domain.TransactionItem, len(src.Items))
	for i, item := range src.Items {
		if item.Product != nil {
			snapshot := *item.Product
			if snapshot.CategoryID != nil {
				id := *snapshot.CategoryID
				snapshot.CategoryID = &id
			}
			item.Product = &snapshot
		}
		dup.Items[i] = item
	}
	return &dup
}
