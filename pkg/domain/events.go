package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Exchanges map one-to-one onto Kafka topics.
const (
	ExchangeProduct = "product.events"
	ExchangeOrder   = "order.events"
	ExchangeUser    = "user.events"
)

const (
	RoutingOrderCreated           = "order.created"
	RoutingOrderCancelled         = "order.cancelled"
	RoutingUserRegistered         = "user.registered"
	RoutingPasswordResetRequested = "password.reset.requested"
	RoutingProductUpdated         = "product.updated"
	RoutingStockChanged           = "product.stock.changed"
)

const DefaultCancellationReason = "As requested"

type OrderLine struct {
	LineID      int64           `json:"line_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	BuyerID     string          `json:"buyer_id"`
	Email       string          `json:"email"`
	UserName    string          `json:"user_name"`
	PhoneNumber string          `json:"phone_number,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
	Items       []OrderLine     `json:"items"`
	OrderDate   time.Time       `json:"order_date"`
}

type OrderCancelledEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	BuyerID     string          `json:"buyer_id"`
	Email       string          `json:"email"`
	UserName    string          `json:"user_name"`
	PhoneNumber string          `json:"phone_number,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Reason      string          `json:"reason"`
	Items       []OrderLine     `json:"items"`
	CancelledAt time.Time       `json:"cancelled_at"`
}

type UserRegisteredEvent struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	UserName     string    `json:"user_name"`
	RegisteredAt time.Time `json:"registered_at"`
}

type PasswordResetRequestedEvent struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	UserName    string    `json:"user_name"`
	ResetToken  string    `json:"reset_token"`
	RequestedAt time.Time `json:"requested_at"`
}

type StockChangedEvent struct {
	ProductID string    `json:"product_id"`
	OldStock  int       `json:"old_stock"`
	NewStock  int       `json:"new_stock"`
	Quantity  int       `json:"quantity"`
	ChangedAt time.Time `json:"changed_at"`
}

type ProductUpdatedEvent struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Deleted       bool            `json:"deleted,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
