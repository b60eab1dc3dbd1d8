// Package remote is the client side of the authoritative store. The engine
// only needs a handful of insert, upsert and select calls against it.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrItemsWrite = errors.New("order items write failed")
	ErrInvalid    = errors.New("invalid remote record")
)

type Order struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	CustomerID    *string         `json:"customer_id,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Subtotal      int64           `json:"subtotal"`
	Tax           int64           `json:"tax"`
	Discount      int64           `json:"discount"`
	Total         int64           `json:"total"`
	Status        string          `json:"status"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ReceivedAt    time.Time       `json:"received_at,omitempty"`
}

type OrderItem struct {
	OrderID   string  `json:"order_id"`
	LineNo    int     `json:"line_no"`
	ProductID string  `json:"product_id"`
	VariantID string  `json:"variant_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
	LineTotal int64   `json:"line_total"`
	TaxRate   float64 `json:"tax_rate"`
}

type Customer struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// InventoryFilter narrows SelectInventory. An empty LocationID selects all
// locations.
type InventoryFilter struct {
	LocationID string
}

type InventoryRow struct {
	ProductID     string    `json:"product_id"`
	VariantID     string    `json:"variant_id"`
	LocationID    string    `json:"location_id"`
	SKU           string    `json:"sku"`
	Title         string    `json:"title"`
	CurrentStock  int64     `json:"current_stock"`
	ReservedStock int64     `json:"reserved_stock"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CustomerRow struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository is everything the sync engine asks of the remote store. Every
// call is an upsert or a read, so retrying after a partial failure is safe.
type Repository interface {
	InsertOrder(ctx context.Context, order Order) (Order, error)
	InsertOrderItems(ctx context.Context, items []OrderItem) error
	UpsertCustomer(ctx context.Context, customer Customer) error
	SelectInventory(ctx context.Context, filter InventoryFilter) ([]InventoryRow, error)
	SelectRecentCustomers(ctx context.Context, since time.Time) ([]CustomerRow, error)
}
