package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Category      string          `json:"category"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// StockChange describes a single committed stock mutation.
type StockChange struct {
	ProductID string
	OldStock  int
	NewStock  int
	Delta     int
}

func (c StockChange) Applied() bool {
	return c.OldStock != c.NewStock
}
