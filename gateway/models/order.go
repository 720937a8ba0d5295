package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderStatus mirrors the host shop's order status slugs.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusOnHold     OrderStatus = "on-hold"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// AwaitingPayment reports whether a confirmed payment may still move the order forward.
func (s OrderStatus) AwaitingPayment() bool {
	return s == OrderStatusPending || s == OrderStatusOnHold
}

type Order struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Currency      string          `json:"currency"`
	Total         decimal.Decimal `json:"total"`
	Items         []LineItem      `json:"items"`
	Status        OrderStatus     `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         []Note          `json:"notes,omitempty"`
}

type LineItem struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ImageURL    string          `json:"image_url,omitempty"`
	Total       decimal.Decimal `json:"total"`
}

// Note is an entry of the order's audit trail.
type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
