package models

import "time"

// CartItem carries the unit price snapshotted when the item was added, so
// order materialization never re-reads live product pricing.
type CartItem struct {
	ItemID    string  `json:"item_id"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     int     `json:"price"` // VND at add-to-cart time
	Quantity  int     `json:"quantity"`
	Size      float64 `json:"size"`
}

type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TotalPrice sums line price x quantity over the cart.
func (c *Cart) TotalPrice() int {
	total := 0
	for _, item := range c.Items {
		total += item.Price * item.Quantity
	}
	return total
}
