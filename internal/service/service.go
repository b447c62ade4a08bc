package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"smartkasir/backend/internal/clock"
	"smartkasir/backend/internal/domain"
	"smartkasir/backend/internal/report"
	"smartkasir/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	reports *report.Aggregator
	clock   clock.Clock
	logger  zerolog.Logger
}

func New(repo store.Repository, reports *report.Aggregator, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}

	return &Service{
		repo:    repo,
		reports: reports,
		clock:   clk,
		logger:  logger.With().Str("component", "service").Logger(),
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	category, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	return *category, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	name, description, err := normalizeCategory(req)
	if err != nil {
		return domain.Category{}, err
	}

	now := s.now()
	created, err := s.repo.CreateCategory(ctx, domain.Category{
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Category{}, err
	}

	s.logWrite(ctx, "category_create").Int64("category_id", created.ID).Str("name", created.Name).Send()
	return *created, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id int64, req domain.CategoryRequest) (domain.Category, error) {
	if _, err := s.repo.GetCategory(ctx, id); err != nil {
		return domain.Category{}, err
	}
	name, description, err := normalizeCategory(req)
	if err != nil {
		return domain.Category{}, err
	}

	updated, err := s.repo.UpdateCategory(ctx, domain.Category{
		ID:          id,
		Name:        name,
		Description: description,
		UpdatedAt:   s.now(),
	})
	if err != nil {
		return domain.Category{}, err
	}

	s.logWrite(ctx, "category_update").Int64("category_id", id).Str("name", updated.Name).Send()
	return *updated, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logWrite(ctx, "category_delete").Int64("category_id", id).Send()
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.ProductView, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := s.categoryIndex(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]domain.ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, withCategory(p, categories))
	}
	return views, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.ProductView, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductView{}, err
	}
	return s.view(ctx, *product)
}

func (s *Service) FindProductByName(ctx context.Context, name string) (domain.ProductView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ProductView{}, store.Invalid("name", "Product name is required")
	}
	product, err := s.repo.FindProductByName(ctx, name)
	if err != nil {
		return domain.ProductView{}, err
	}
	return s.view(ctx, *product)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductView, error) {
	stock := 0
	if req.Stock != nil {
		stock = *req.Stock
	}
	now := s.now()
	product := domain.Product{
		CategoryID: normalizeCategoryID(req.CategoryID),
		Name:       strings.TrimSpace(req.Name),
		CostPrice:  req.CostPrice,
		SellPrice:  req.SellPrice,
		Stock:      stock,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := validateProduct(product); err != nil {
		return domain.ProductView{}, err
	}
	if product.Stock < 0 {
		return domain.ProductView{}, store.Invalid("stock", "Stock must not be negative")
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.ProductView{}, err
	}

	s.logWrite(ctx, "product_create").Int64("product_id", created.ID).Str("name", created.Name).Int("stock", created.Stock).Send()
	return s.view(ctx, *created)
}

// UpdateProduct merges req over the stored product. Stock is only accepted
// unchanged; it moves through sales and stock opname.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.ProductView, error) {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductView{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.CategoryID != nil {
		updated.CategoryID = normalizeCategoryID(req.CategoryID)
	}
	if req.CostPrice != nil {
		cost := *req.CostPrice
		updated.CostPrice = &cost
	}
	if req.SellPrice != nil {
		updated.SellPrice = *req.SellPrice
	}
	if req.Stock != nil && *req.Stock != existing.Stock {
		return domain.ProductView{}, store.Invalid("stock", "Stock can only be changed through transactions or stock opname")
	}
	if err := validateProduct(updated); err != nil {
		return domain.ProductView{}, err
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.ProductView{}, err
	}

	// cost changes move profit under the current cost basis
	s.invalidateReports(ctx)
	s.logWrite(ctx, "product_update").Int64("product_id", id).Str("name", saved.Name).Send()
	return s.view(ctx, *saved)
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidateReports(ctx)
	s.logWrite(ctx, "product_delete").Int64("product_id", id).Send()
	return nil
}

func (s *Service) StockOpname(ctx context.Context, productID int64, req domain.StockOpnameRequest) (domain.StockOpnameResponse, error) {
	if req.CountedQty < 0 {
		return domain.StockOpnameResponse{}, store.Invalid("counted_qty", "Counted quantity must not be negative")
	}

	now := s.now()
	systemQty, err := s.repo.SetStock(ctx, productID, req.CountedQty, now)
	if err != nil {
		return domain.StockOpnameResponse{}, err
	}

	delta := req.CountedQty - systemQty
	s.invalidateReports(ctx)
	s.logWrite(ctx, "stock_opname").Int64("product_id", productID).Int("system_qty", systemQty).Int("counted_qty", req.CountedQty).Int("delta_qty", delta).Send()

	return domain.StockOpnameResponse{
		ProductID:  productID,
		SystemQty:  systemQty,
		CountedQty: req.CountedQty,
		DeltaQty:   delta,
		Notes:      strings.TrimSpace(req.Notes),
		CreatedAt:  now.Format(time.RFC3339),
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx)
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// CreateTransaction records a sale. Totals in the request are ignored and
// recomputed from the items.
func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	date, err := ParseTransactionDate(req.Date)
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(req.Items) == 0 {
		return domain.Transaction{}, store.Invalid("items", "Transaction must have at least one item")
	}

	items := make([]domain.TransactionItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID < 1 || item.Qty < 1 || item.SellPrice < 0 {
			return domain.Transaction{}, store.Invalid("items", "Each item must have product_id, qty, and sell_price")
		}
		if item.SellPrice > store.MaxAmount {
			return domain.Transaction{}, store.Invalid("sell_price", store.MsgAmountTooLarge)
		}
		items = append(items, domain.TransactionItem{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			SellPrice: item.SellPrice,
		})
	}

	tx := domain.Transaction{
		Date:          date,
		Discount:      req.Discount,
		PaymentMethod: strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		Status:        strings.ToLower(strings.TrimSpace(req.Status)),
		CreatedAt:     s.now(),
		Items:         items,
	}

	recorded, err := s.repo.RecordTransaction(ctx, tx)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			s.logger.Info().Err(err).Msg("transaction rejected")
		}
		return domain.Transaction{}, err
	}

	if req.Total != nil && *req.Total != recorded.Total {
		s.logger.Debug().Int64("client_total", *req.Total).Int64("total", recorded.Total).Msg("client total differs from recomputed total")
	}

	s.invalidateReports(ctx)
	s.logWrite(ctx, "transaction_create").
		Int64("transaction_id", recorded.ID).
		Int("items", len(recorded.Items)).
		Int64("final_amount", recorded.FinalAmount).
		Send()
	return *recorded, nil
}

func (s *Service) SalesReport(ctx context.Context, query domain.SalesReportQuery) ([]domain.SalesReportRow, error) {
	return s.reports.SalesReport(ctx, query.Start, query.End)
}

// ParseTransactionDate accepts RFC3339 timestamps and bare YYYY-MM-DD dates
// (midnight UTC).
func ParseTransactionDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, store.Invalid("date", "Transaction date is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(report.DateLayout, raw); err == nil {
		return t, nil
	}
	return time.Time{}, store.Invalid("date", "Transaction date must be an RFC3339 timestamp or YYYY-MM-DD")
}

func (s *Service) view(ctx context.Context, p domain.Product) (domain.ProductView, error) {
	view := domain.ProductView{Product: p}
	if p.CategoryID == nil {
		return view, nil
	}
	category, err := s.repo.GetCategory(ctx, *p.CategoryID)
	if errors.Is(err, store.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return domain.ProductView{}, fmt.Errorf("resolve category %d: %w", *p.CategoryID, err)
	}
	view.Category = category
	return view, nil
}

func (s *Service) categoryIndex(ctx context.Context) (map[int64]domain.Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]domain.Category, len(categories))
	for _, c := range categories {
		index[c.ID] = c
	}
	return index, nil
}

func (s *Service) invalidateReports(ctx context.Context) {
	if s.reports != nil {
		s.reports.Invalidate(ctx)
	}
}

func (s *Service) logWrite(ctx context.Context, action string) *zerolog.Event {
	event := s.logger.Info().Str("action", action)
	if actor, ok := ActorFromContext(ctx); ok {
		event = event.Str("actor", actor.Username)
	}
	return event
}

func withCategory(p domain.Product, categories map[int64]domain.Category) domain.ProductView {
	view := domain.ProductView{Product: p}
	if p.CategoryID == nil {
		return view
	}
	if c, ok := categories[*p.CategoryID]; ok {
		view.Category = &c
	}
	return view
}

func normalizeCategory(req domain.CategoryRequest) (string, *string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", nil, store.Invalid("name", "Category name is required")
	}
	var description *string
	if req.Description != nil {
		if trimmed := strings.TrimSpace(*req.Description); trimmed != "" {
			description = &trimmed
		}
	}
	return name, description, nil
}

func normalizeCategoryID(id *int64) *int64 {
	if id == nil || *id == 0 {
		return nil
	}
	v := *id
	return &v
}

func validateProduct(p domain.Product) error {
	if p.Name == "" {
		return store.Invalid("name", "Product name is required")
	}
	if p.SellPrice <= 0 {
		return store.Invalid("sell_price", "Sell price must be greater than 0")
	}
	if p.CostPrice != nil && *p.CostPrice < 0 {
		return store.Invalid("cost_price", "Cost price must not be negative")
	}
	if p.SellPrice > store.MaxAmount || (p.CostPrice != nil && *p.CostPrice > store.MaxAmount) {
		return store.Invalid("sell_price", store.MsgAmountTooLarge)
	}
	if p.CategoryID != nil && *p.CategoryID < 0 {
		return store.Invalid("category_id", store.MsgInvalidCategoryID)
	}
	return nil
}
