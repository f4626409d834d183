package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory TxStore. A mutex plays the role of the row
// locks: transactions serialize, and a failed transaction restores the
// pre-transaction snapshot, so rollback semantics match the real store.
type memStore struct {
	mu        sync.Mutex
	customers map[string]bool
	products  map[string]Product
	orders    map[string]Order
	lines     map[string][]OrderLine
}

func newMemStore() *memStore {
	return &memStore{
		customers: map[string]bool{},
		products:  map[string]Product{},
		orders:    map[string]Order{},
		lines:     map[string][]OrderLine{},
	}
}

func (m *memStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := make(map[string]Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	ords := make(map[string]Order, len(m.orders))
	for k, v := range m.orders {
		ords[k] = v
	}
	lines := make(map[string][]OrderLine, len(m.lines))
	for k, v := range m.lines {
		lines[k] = append([]OrderLine(nil), v...)
	}

	if err := fn(ctx, &memTx{s: m}); err != nil {
		m.products = products
		m.orders = ords
		m.lines = lines
		return err
	}
	return nil
}

type memTx struct{ s *memStore }

func (t *memTx) CustomerExists(_ context.Context, id string) (bool, error) {
	return t.s.customers[id], nil
}

func (t *memTx) ProductForUpdate(_ context.Context, id string) (Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (t *memTx) AdjustProductQuantity(_ context.Context, id string, delta int) error {
	p, ok := t.s.products[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	p.Quantity += delta
	t.s.products[id] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o Order) error {
	if !t.s.customers[o.CustomerID] {
		return fmt.Errorf("customer %s: %w", o.CustomerID, ErrNotFound)
	}
	t.s.orders[o.ID] = o
	return nil
}

func (t *memTx) InsertOrderLine(_ context.Context, l OrderLine) error {
	t.s.lines[l.OrderID] = append(t.s.lines[l.OrderID], l)
	return nil
}

func (t *memTx) UpdateOrderTotal(_ context.Context, orderID string, total decimal.Decimal) error {
	o := t.s.orders[orderID]
	o.Total = total
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, orderID string) (Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return o, nil
}

func (t *memTx) OrderLines(_ context.Context, orderID string) ([]OrderLine, error) {
	return append([]OrderLine(nil), t.s.lines[orderID]...), nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID string, status Status) error {
	o := t.s.orders[orderID]
	o.Status = status
	t.s.orders[orderID] = o
	return nil
}

// ---- helpers ----

func (m *memStore) addCustomer() string {
	id := uuid.NewString()
	m.customers[id] = true
	return id
}

func (m *memStore) addProduct(name string, qty int, price string) string {
	id := uuid.NewString()
	m.products[id] = Product{
		ID:        id,
		Name:      name,
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
	}
	return id
}

// committed stock plus stock on hand must always equal the stocked total.
func assertConservation(t *testing.T, m *memStore, productID string, stocked int) {
	t.Helper()
	committed := 0
	for orderID, lines := range m.lines {
		if m.orders[orderID].Status == StatusCancelled {
			continue
		}
		for _, l := range lines {
			if l.ProductID == productID {
				committed += l.Quantity
			}
		}
	}
	assert.Equal(t, stocked, m.products[productID].Quantity+committed,
		"stock conservation violated for product %s", productID)
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// ---- creation ----

func TestCreateOrderComputesTotal(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p1 := m.addProduct("café molido", 10, "4.50")
	p2 := m.addProduct("azúcar", 10, "2.00")
	svc := &Service{Store: m}

	res, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: cust,
		Lines: []LineInput{
			{ProductID: p1, Quantity: 2, UnitPrice: dec("10")},
			{ProductID: p2, Quantity: 1, UnitPrice: dec("5")},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(decimal.NewFromInt(25)), "total = %s", res.Total)

	assert.Equal(t, 8, m.products[p1].Quantity)
	assert.Equal(t, 9, m.products[p2].Quantity)
	assert.Equal(t, StatusPending, m.orders[res.OrderID].Status)
	assert.True(t, m.orders[res.OrderID].Total.Equal(decimal.NewFromInt(25)))
}

func TestCreateOrderDefaultsToProductPrice(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("harina", 5, "3.25")
	svc := &Service{Store: m}

	res, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: cust,
		Lines:      []LineInput{{ProductID: p, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(decimal.RequireFromString("6.50")), "total = %s", res.Total)

	line := m.lines[res.OrderID][0]
	assert.True(t, line.UnitPrice.Equal(decimal.RequireFromString("3.25")))
	assert.True(t, line.Subtotal.Equal(decimal.RequireFromString("6.50")))
}

func TestCreateOrderValidation(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("arroz", 5, "1.00")
	svc := &Service{Store: m}
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateOrderInput
	}{
		{"malformed customer id", CreateOrderInput{CustomerID: "nope", Lines: []LineInput{{ProductID: p, Quantity: 1}}}},
		{"empty lines", CreateOrderInput{CustomerID: cust}},
		{"malformed product id", CreateOrderInput{CustomerID: cust, Lines: []LineInput{{ProductID: "nope", Quantity: 1}}}},
		{"zero quantity", CreateOrderInput{CustomerID: cust, Lines: []LineInput{{ProductID: p, Quantity: 0}}}},
		{"negative quantity", CreateOrderInput{CustomerID: cust, Lines: []LineInput{{ProductID: p, Quantity: -2}}}},
		{"non-positive price", CreateOrderInput{CustomerID: cust, Lines: []LineInput{{ProductID: p, Quantity: 1, UnitPrice: dec("0")}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateOrder(ctx, tc.in)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.Empty(t, m.orders, "validation failures must not reach the store")
		})
	}
}

func TestCreateOrderUnknownReferences(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("sal", 5, "1.00")
	svc := &Service{Store: m}
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, CreateOrderInput{
		CustomerID: uuid.NewString(),
		Lines:      []LineInput{{ProductID: p, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.CreateOrder(ctx, CreateOrderInput{
		CustomerID: cust,
		Lines:      []LineInput{{ProductID: uuid.NewString(), Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 5, m.products[p].Quantity)
	assert.Empty(t, m.orders)
}

func TestCreateOrderInsufficientStockRollsBack(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p1 := m.addProduct("aceite", 10, "8.00")
	p2 := m.addProduct("atún", 10, "2.50")
	p3 := m.addProduct("leche", 2, "1.80")
	p4 := m.addProduct("pan", 10, "0.90")
	svc := &Service{Store: m}

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: cust,
		Lines: []LineInput{
			{ProductID: p1, Quantity: 1},
			{ProductID: p2, Quantity: 2},
			{ProductID: p3, Quantity: 5}, // only 2 available
			{ProductID: p4, Quantity: 1},
		},
	})

	var se *StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, p3, se.ProductID)
	assert.Equal(t, "leche", se.ProductName)
	assert.Equal(t, 5, se.Requested)
	assert.Equal(t, 2, se.Available)

	// Earlier lines in the same call must not survive.
	assert.Equal(t, 10, m.products[p1].Quantity)
	assert.Equal(t, 10, m.products[p2].Quantity)
	assert.Equal(t, 2, m.products[p3].Quantity)
	assert.Empty(t, m.orders)
	assert.Empty(t, m.lines)
}

func TestCreateOrderSameProductTwice(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("huevos", 5, "0.30")
	svc := &Service{Store: m}
	ctx := context.Background()

	// The second line must observe the first line's decrement.
	_, err := svc.CreateOrder(ctx, CreateOrderInput{
		CustomerID: cust,
		Lines: []LineInput{
			{ProductID: p, Quantity: 3},
			{ProductID: p, Quantity: 3},
		},
	})
	var se *StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Available)
	assert.Equal(t, 5, m.products[p].Quantity)

	res, err := svc.CreateOrder(ctx, CreateOrderInput{
		CustomerID: cust,
		Lines: []LineInput{
			{ProductID: p, Quantity: 3},
			{ProductID: p, Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, m.products[p].Quantity)
	assert.Len(t, m.lines[res.OrderID], 2)
}

func TestConcurrentCreateSerializes(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("último", 1, "9.99")
	svc := &Service{Store: m}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateOrder(context.Background(), CreateOrderInput{
				CustomerID: cust,
				Lines:      []LineInput{{ProductID: p, Quantity: 1}},
			})
		}(i)
	}
	wg.Wait()

	var se *StockError
	switch {
	case errs[0] == nil:
		require.ErrorAs(t, errs[1], &se)
	case errs[1] == nil:
		require.ErrorAs(t, errs[0], &se)
	default:
		t.Fatalf("expected exactly one failure, got %v and %v", errs[0], errs[1])
	}
	assert.Equal(t, 0, m.products[p].Quantity)
	assert.Len(t, m.orders, 1)
}

// ---- transitions ----

func mustCreate(t *testing.T, svc *Service, cust string, lines ...LineInput) string {
	t.Helper()
	res, err := svc.CreateOrder(context.Background(), CreateOrderInput{CustomerID: cust, Lines: lines})
	require.NoError(t, err)
	return res.OrderID
}

func TestSetStatusNoOp(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("queso", 10, "5.00")
	svc := &Service{Store: m}
	id := mustCreate(t, svc, cust, LineInput{ProductID: p, Quantity: 4})

	st, changed, err := svc.SetStatus(context.Background(), id, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
	assert.False(t, changed, "setting the current status is not a transition")
	assert.Equal(t, 6, m.products[p].Quantity, "no-op transition must not touch stock")
}

func TestSetStatusAmongActiveNoStockEffect(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("yogur", 10, "1.20")
	svc := &Service{Store: m}
	id := mustCreate(t, svc, cust, LineInput{ProductID: p, Quantity: 3})
	ctx := context.Background()

	st, changed, err := svc.SetStatus(ctx, id, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st)
	assert.True(t, changed)
	assert.Equal(t, 7, m.products[p].Quantity)

	// reopen
	st, _, err = svc.SetStatus(ctx, id, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
	assert.Equal(t, 7, m.products[p].Quantity)
}

func TestSetStatusCancelCredits(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p1 := m.addProduct("jamón", 10, "7.00")
	p2 := m.addProduct("pavo", 10, "6.00")
	svc := &Service{Store: m}
	id := mustCreate(t, svc, cust,
		LineInput{ProductID: p1, Quantity: 3},
		LineInput{ProductID: p2, Quantity: 2},
	)
	ctx := context.Background()

	// complete first, then cancel: completed orders credit back too
	_, _, err := svc.SetStatus(ctx, id, StatusCompleted)
	require.NoError(t, err)

	st, _, err := svc.SetStatus(ctx, id, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st)
	assert.Equal(t, 10, m.products[p1].Quantity)
	assert.Equal(t, 10, m.products[p2].Quantity)
}

func TestCancelReactivateInverse(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p1 := m.addProduct("lentejas", 10, "2.10")
	p2 := m.addProduct("garbanzos", 10, "2.40")
	svc := &Service{Store: m}
	id := mustCreate(t, svc, cust,
		LineInput{ProductID: p1, Quantity: 3},
		LineInput{ProductID: p2, Quantity: 2},
	)
	ctx := context.Background()

	before1, before2 := m.products[p1].Quantity, m.products[p2].Quantity

	_, _, err := svc.SetStatus(ctx, id, StatusCancelled)
	require.NoError(t, err)
	_, _, err = svc.SetStatus(ctx, id, StatusPending)
	require.NoError(t, err)

	assert.Equal(t, before1, m.products[p1].Quantity)
	assert.Equal(t, before2, m.products[p2].Quantity)
	assert.Equal(t, StatusPending, m.orders[id].Status)
}

func TestReactivationInsufficientLeavesStateUntouched(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("mantequilla", 3, "4.00")
	svc := &Service{Store: m}
	id := mustCreate(t, svc, cust, LineInput{ProductID: p, Quantity: 3})
	ctx := context.Background()

	_, _, err := svc.SetStatus(ctx, id, StatusCancelled)
	require.NoError(t, err)

	// someone else consumes the credited stock
	prod := m.products[p]
	prod.Quantity = 1
	m.products[p] = prod

	_, _, err = svc.SetStatus(ctx, id, StatusCompleted)
	var se *StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Requested)
	assert.Equal(t, 1, se.Available)
	assert.Equal(t, StatusCancelled, m.orders[id].Status, "order must remain cancelled")
	assert.Equal(t, 1, m.products[p].Quantity)
}

func TestReactivationPartialShortfallDebitsNothing(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p1 := m.addProduct("tomate", 5, "1.00")
	p2 := m.addProduct("cebolla", 5, "0.80")
	svc := &Service{Store: m}
	id := mustCreate(t, svc, cust,
		LineInput{ProductID: p1, Quantity: 2},
		LineInput{ProductID: p2, Quantity: 2},
	)
	ctx := context.Background()

	_, _, err := svc.SetStatus(ctx, id, StatusCancelled)
	require.NoError(t, err)

	// drain only the second product below the required quantity
	prod := m.products[p2]
	prod.Quantity = 1
	m.products[p2] = prod

	_, _, err = svc.SetStatus(ctx, id, StatusPending)
	var se *StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, p2, se.ProductID)
	assert.Equal(t, 5, m.products[p1].Quantity, "first line must not be debited")
	assert.Equal(t, StatusCancelled, m.orders[id].Status)
}

func TestReactivationAggregatesDuplicateLines(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("naranjas", 10, "0.60")
	svc := &Service{Store: m}
	id := mustCreate(t, svc, cust,
		LineInput{ProductID: p, Quantity: 3},
		LineInput{ProductID: p, Quantity: 2},
	)
	ctx := context.Background()

	_, _, err := svc.SetStatus(ctx, id, StatusCancelled)
	require.NoError(t, err)

	// each line alone fits, the combined demand does not
	prod := m.products[p]
	prod.Quantity = 4
	m.products[p] = prod

	_, _, err = svc.SetStatus(ctx, id, StatusPending)
	var se *StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 5, se.Requested)
	assert.Equal(t, 4, se.Available)
	assert.Equal(t, 4, m.products[p].Quantity, "stock must never go negative")
	assert.Equal(t, StatusCancelled, m.orders[id].Status)

	// with the combined demand available, reactivation succeeds
	prod.Quantity = 5
	m.products[p] = prod
	_, _, err = svc.SetStatus(ctx, id, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 0, m.products[p].Quantity)
}

func TestSetStatusErrors(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p := m.addProduct("vino", 5, "12.00")
	svc := &Service{Store: m}
	id := mustCreate(t, svc, cust, LineInput{ProductID: p, Quantity: 1})
	ctx := context.Background()

	_, _, err := svc.SetStatus(ctx, "not-a-uuid", StatusPending)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, _, err = svc.SetStatus(ctx, id, Status("shipped"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, _, err = svc.SetStatus(ctx, uuid.NewString(), StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)

	// a line whose product was deleted degenerates to NotFound
	delete(m.products, p)
	_, _, err = svc.SetStatus(ctx, id, StatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StatusPending, m.orders[id].Status)
}

func TestStockConservation(t *testing.T) {
	m := newMemStore()
	cust := m.addCustomer()
	p1 := m.addProduct("papel", 20, "1.50")
	p2 := m.addProduct("jabón", 15, "2.20")
	svc := &Service{Store: m}
	ctx := context.Background()

	check := func() {
		assertConservation(t, m, p1, 20)
		assertConservation(t, m, p2, 15)
	}

	o1 := mustCreate(t, svc, cust,
		LineInput{ProductID: p1, Quantity: 4},
		LineInput{ProductID: p2, Quantity: 3},
	)
	check()
	o2 := mustCreate(t, svc, cust, LineInput{ProductID: p1, Quantity: 6})
	check()

	_, _, err := svc.SetStatus(ctx, o1, StatusCompleted)
	require.NoError(t, err)
	check()

	_, _, err = svc.SetStatus(ctx, o1, StatusCancelled)
	require.NoError(t, err)
	check()

	_, _, err = svc.SetStatus(ctx, o2, StatusCancelled)
	require.NoError(t, err)
	check()

	_, _, err = svc.SetStatus(ctx, o1, StatusPending)
	require.NoError(t, err)
	check()

	// failed operations must not disturb the invariant either
	_, err = svc.CreateOrder(ctx, CreateOrderInput{
		CustomerID: cust,
		Lines:      []LineInput{{ProductID: p2, Quantity: 1000}},
	})
	assert.Error(t, err)
	check()
}

func TestTransactRollbackRestoresEverything(t *testing.T) {
	m := newMemStore()
	p := m.addProduct("x", 7, "1.00")

	boom := errors.New("boom")
	err := m.Transact(context.Background(), func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.AdjustProductQuantity(ctx, p, -5))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 7, m.products[p].Quantity)
}
