package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Customer struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Document     string    `json:"document"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

type Order struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Status     Status          `json:"status"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
}

type OrderLine struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// LineDetail is an order line joined with the product it references.
type LineDetail struct {
	OrderLine
	ProductName     string `json:"product_name"`
	ProductCategory string `json:"product_category"`
}

// OrderDetail is the read model served by the list/get endpoints.
type OrderDetail struct {
	Order
	Customer Customer     `json:"customer"`
	Lines    []LineDetail `json:"lines"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type InventoryItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineValue decimal.Decimal `json:"line_value"`
}

type InventoryReport struct {
	Items      []InventoryItem `json:"items"`
	TotalValue decimal.Decimal `json:"total_value"`
}
