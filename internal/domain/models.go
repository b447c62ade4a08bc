package domain

import "time"

type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CategoryRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type Product struct {
	ID         int64     `json:"id"`
	CategoryID *int64    `json:"category_id"`
	Name       string    `json:"name"`
	CostPrice  *int64    `json:"cost_price"`
	SellPrice  int64     `json:"sell_price"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProductView is a product with its category resolved for list/get responses.
type ProductView struct {
	Product
	Category *Category `json:"category"`
}

type ProductCreateRequest struct {
	CategoryID *int64 `json:"category_id,omitempty"`
	Name       string `json:"name"`
	CostPrice  *int64 `json:"cost_price,omitempty"`
	SellPrice  int64  `json:"sell_price"`
	Stock      *int   `json:"stock,omitempty"`
}

// ProductUpdateRequest leaves a field untouched when it is nil.
type ProductUpdateRequest struct {
	CategoryID *int64  `json:"category_id,omitempty"`
	Name       *string `json:"name,omitempty"`
	CostPrice  *int64  `json:"cost_price,omitempty"`
	SellPrice  *int64  `json:"sell_price,omitempty"`
	Stock      *int    `json:"stock,omitempty"`
}

type StockOpnameRequest struct {
	CountedQty int    `json:"counted_qty"`
	Notes      string `json:"notes,omitempty"`
}

type StockOpnameResponse struct {
	ProductID  int64  `json:"product_id"`
	SystemQty  int    `json:"system_qty"`
	CountedQty int    `json:"counted_qty"`
	DeltaQty   int    `json:"delta_qty"`
	Notes      string `json:"notes,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// StockAdjustment is a requested stock decrement for one product.
type StockAdjustment struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type ProductSnapshot struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CategoryID *int64 `json:"category_id"`
}

type TransactionItem struct {
	ID            int64            `json:"id"`
	TransactionID int64            `json:"transaction_id"`
	ProductID     int64            `json:"product_id"`
	Qty           int              `json:"qty"`
	SellPrice     int64            `json:"sell_price"`
	CostPrice     int64            `json:"cost_price"`
	Subtotal      int64            `json:"subtotal"`
	Product       *ProductSnapshot `json:"product"`
}

type Transaction struct {
	ID            int64             `json:"id"`
	Date          time.Time         `json:"date"`
	Total         int64             `json:"total"`
	Discount      int64             `json:"discount"`
	FinalAmount   int64             `json:"final_amount"`
	PaymentMethod string            `json:"payment_method"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []TransactionItem `json:"items"`
}

type TransactionItemRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
	SellPrice int64 `json:"sell_price"`
}

// TransactionCreateRequest carries total and final_amount for compatibility
// with existing clients; both are recomputed from the items.
type TransactionCreateRequest struct {
	Date          string                   `json:"date"`
	Total         *int64                   `json:"total,omitempty"`
	Discount      int64                    `json:"discount"`
	FinalAmount   *int64                   `json:"final_amount,omitempty"`
	PaymentMethod string                   `json:"payment_method"`
	Status        string                   `json:"status"`
	Items         []TransactionItemRequest `json:"items"`
}

type SalesReportRow struct {
	Date   string `json:"date"`
	Total  int64  `json:"total"`
	Profit int64  `json:"profit"`
}

type SalesReportQuery struct {
	Start string
	End   string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type Actor struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// UserAccount is an internal credential record for the demo login.
type UserAccount struct {
	ID           int64
	Username     string
	PasswordHash string
}

const (
	PaymentMethodCash = "tunai"
	TxStatusCompleted = "completed"
)
