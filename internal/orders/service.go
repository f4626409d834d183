package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordena-app/backend/internal/metrics"
)

// Service implements the order workflow: creation with stock debit, and
// status transitions with their inventory side effects. All decisions and
// mutations for one call happen inside a single store transaction.
type Service struct {
	Store TxStore
}

type LineInput struct {
	ProductID string
	Quantity  int
	// UnitPrice overrides the product's current price when set. It is
	// trusted once it passes positivity validation.
	UnitPrice *decimal.Decimal
}

type CreateOrderInput struct {
	CustomerID string
	Lines      []LineInput
}

type CreateOrderResult struct {
	OrderID string
	Total   decimal.Decimal
}

func (in CreateOrderInput) validate() error {
	if err := uuid.Validate(in.CustomerID); err != nil {
		return &ValidationError{Field: "customer_id", Reason: "must be a valid UUID"}
	}
	if len(in.Lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "at least one line is required"}
	}
	for i, ln := range in.Lines {
		if err := uuid.Validate(ln.ProductID); err != nil {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].product_id", i), Reason: "must be a valid UUID"}
		}
		if ln.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Reason: "must be a positive integer"}
		}
		if ln.UnitPrice != nil && !ln.UnitPrice.IsPositive() {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].unit_price", i), Reason: "must be positive"}
		}
	}
	return nil
}

// CreateOrder inserts a pending order, debits stock for every line in input
// order, and finalizes the total, all in one transaction. Any failure
// (unknown customer or product, insufficient stock on any line) rolls the
// whole thing back.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	if err := in.validate(); err != nil {
		return CreateOrderResult{}, err
	}

	var res CreateOrderResult
	err := s.Store.Transact(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.CustomerExists(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("customer %s: %w", in.CustomerID, ErrNotFound)
		}

		ord := Order{
			ID:         uuid.NewString(),
			CustomerID: in.CustomerID,
			Status:     StatusPending,
			Total:      decimal.Zero,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.InsertOrder(ctx, ord); err != nil {
			return err
		}

		total := decimal.Zero
		for _, ln := range in.Lines {
			p, err := tx.ProductForUpdate(ctx, ln.ProductID)
			if err != nil {
				return err
			}
			if p.Quantity < ln.Quantity {
				metrics.StockRejections.Inc()
				return &StockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Requested:   ln.Quantity,
					Available:   p.Quantity,
				}
			}

			price := p.UnitPrice
			if ln.UnitPrice != nil {
				price = *ln.UnitPrice
			}
			if err := tx.AdjustProductQuantity(ctx, ln.ProductID, -ln.Quantity); err != nil {
				return err
			}

			sub := price.Mul(decimal.NewFromInt(int64(ln.Quantity)))
			line := OrderLine{
				ID:        uuid.NewString(),
				OrderID:   ord.ID,
				ProductID: ln.ProductID,
				Quantity:  ln.Quantity,
				UnitPrice: price,
				Subtotal:  sub,
			}
			if err := tx.InsertOrderLine(ctx, line); err != nil {
				return err
			}
			total = total.Add(sub)
		}

		if err := tx.UpdateOrderTotal(ctx, ord.ID, total); err != nil {
			return err
		}
		res = CreateOrderResult{OrderID: ord.ID, Total: total}
		return nil
	})
	if err != nil {
		return CreateOrderResult{}, err
	}

	metrics.OrdersCreated.Inc()
	return res, nil
}

// SetStatus transitions an order and applies the inventory effect of
// crossing the cancelled boundary. Setting the current status again is a
// no-op that reports success with changed=false. A reactivation verifies
// stock for every product before debiting anything; on any shortfall the
// order stays cancelled.
func (s *Service) SetStatus(ctx context.Context, orderID string, target Status) (Status, bool, error) {
	if err := uuid.Validate(orderID); err != nil {
		return "", false, &ValidationError{Field: "order_id", Reason: "must be a valid UUID"}
	}
	if !target.Valid() {
		return "", false, ErrInvalidStatus
	}

	changed := false
	err := s.Store.Transact(ctx, func(ctx context.Context, tx Tx) error {
		ord, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if ord.Status == target {
			return nil
		}
		changed = true

		switch {
		case creditsStock(ord.Status, target):
			lines, err := tx.OrderLines(ctx, orderID)
			if err != nil {
				return err
			}
			for _, l := range lines {
				// Lock before crediting so a concurrent creation on the
				// same product serializes with this transition.
				if _, err := tx.ProductForUpdate(ctx, l.ProductID); err != nil {
					return err
				}
				if err := tx.AdjustProductQuantity(ctx, l.ProductID, l.Quantity); err != nil {
					return err
				}
			}

		case debitsStock(ord.Status, target):
			lines, err := tx.OrderLines(ctx, orderID)
			if err != nil {
				return err
			}
			// An order may carry several lines for one product, so demand
			// is aggregated per product before verification. Products are
			// locked and checked in first-appearance order; nothing is
			// debited until every product passes.
			need := make(map[string]int, len(lines))
			var productIDs []string
			for _, l := range lines {
				if _, seen := need[l.ProductID]; !seen {
					productIDs = append(productIDs, l.ProductID)
				}
				need[l.ProductID] += l.Quantity
			}
			for _, id := range productIDs {
				p, err := tx.ProductForUpdate(ctx, id)
				if err != nil {
					return err
				}
				if p.Quantity < need[id] {
					metrics.StockRejections.Inc()
					return &StockError{
						ProductID:   p.ID,
						ProductName: p.Name,
						Requested:   need[id],
						Available:   p.Quantity,
					}
				}
			}
			for _, id := range productIDs {
				if err := tx.AdjustProductQuantity(ctx, id, -need[id]); err != nil {
					return err
				}
			}
		}

		return tx.UpdateOrderStatus(ctx, orderID, target)
	})
	if err != nil {
		return "", false, err
	}

	if changed {
		metrics.StatusTransitions.WithLabelValues(string(target)).Inc()
	}
	return target, changed, nil
}
