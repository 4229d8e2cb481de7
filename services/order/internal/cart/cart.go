package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemNotInCart     = errors.New("item not in cart")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrCartConflict      = errors.New("cart was modified concurrently")
)

type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Cart is a cached snapshot. Version grows by one on every successful write.
type Cart struct {
	BuyerID   string          `json:"buyer_id"`
	Items     []Item          `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newCart(buyerID string) *Cart {
	return &Cart{
		BuyerID: buyerID,
		Items:   []Item{},
		Total:   decimal.Zero,
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}

	return -1
}

func (c *Cart) remove(productID string) bool {
	idx := c.find(productID)
	if idx < 0 {
		return false
	}

	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return true
}

// Recalculate refreshes every subtotal and the cart total.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for i := range c.Items {
		item := &c.Items[i]
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		total = total.Add(item.Subtotal)
	}
	c.Total = total
}
