package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Tx is the set of store operations available inside one transaction.
// Reads that precede a mutation take exclusive row locks, so concurrent
// workflows serialize on the rows they touch instead of losing updates.
type Tx interface {
	CustomerExists(ctx context.Context, customerID string) (bool, error)

	// ProductForUpdate reads a product under an exclusive row lock.
	// A second call for the same product within the transaction observes
	// earlier in-transaction adjustments, not a stale snapshot.
	ProductForUpdate(ctx context.Context, productID string) (Product, error)

	// AdjustProductQuantity applies a signed delta to stock on hand.
	AdjustProductQuantity(ctx context.Context, productID string, delta int) error

	InsertOrder(ctx context.Context, o Order) error
	InsertOrderLine(ctx context.Context, l OrderLine) error
	UpdateOrderTotal(ctx context.Context, orderID string, total decimal.Decimal) error

	// OrderForUpdate reads an order under an exclusive row lock.
	OrderForUpdate(ctx context.Context, orderID string) (Order, error)
	OrderLines(ctx context.Context, orderID string) ([]OrderLine, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status Status) error
}

// TxStore runs a function inside a single transaction. A nil return commits;
// any error rolls the whole transaction back, so partial writes from earlier
// steps never survive a mid-loop failure.
type TxStore interface {
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
