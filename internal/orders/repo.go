package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ordena-app/backend/internal/postgres"
)

// Repo is the Postgres store. Workflow mutations go through Transact; the
// remaining methods are plain reads and peripheral CRUD.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM customers WHERE id=$1)`, customerID).Scan(&ok)
	return ok, err
}

func (t *pgTx) ProductForUpdate(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, category, unit_price, quantity
		FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &p.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return p, err
}

func (t *pgTx) AdjustProductQuantity(ctx context.Context, productID string, delta int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET quantity = quantity + $2, updated_at = now()
		WHERE id=$1`, productID, delta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, status, total, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.CustomerID, o.Status, o.Total, o.CreatedAt)
	return mapPgError(err)
}

func (t *pgTx) InsertOrderLine(ctx context.Context, l OrderLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_lines(id, order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.OrderID, l.ProductID, l.Quantity, l.UnitPrice, l.Subtotal)
	return mapPgError(err)
}

func (t *pgTx) UpdateOrderTotal(ctx context.Context, orderID string, total decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET total=$2 WHERE id=$1`, orderID, total)
	return err
}

func (t *pgTx) OrderForUpdate(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := t.tx.QueryRow(ctx, `
		SELECT id, customer_id, status, total, created_at
		FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return o, err
}

func (t *pgTx) OrderLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal
		FROM order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID string, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE id=$1`, orderID, status)
	return err
}

// ---- read side ----

func (r *Repo) OrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (OrderDetail, error) {
	var d OrderDetail
	err := r.DB.QueryRow(ctx, `
		SELECT o.id, o.customer_id, o.status, o.total, o.created_at,
		       c.id, c.first_name, c.last_name, c.document, c.active, c.registered_at
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE o.id=$1`, orderID).
		Scan(&d.ID, &d.CustomerID, &d.Status, &d.Total, &d.CreatedAt,
			&d.Customer.ID, &d.Customer.FirstName, &d.Customer.LastName,
			&d.Customer.Document, &d.Customer.Active, &d.Customer.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderDetail{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return OrderDetail{}, err
	}

	lines, err := r.linesFor(ctx, []string{orderID})
	if err != nil {
		return OrderDetail{}, err
	}
	d.Lines = lines[orderID]
	return d, nil
}

// OrderFilter narrows ListOrders. Zero value lists non-cancelled orders,
// newest first (the default view of the order list page).
type OrderFilter struct {
	Status           *Status
	CustomerName     string
	CustomerDocument string
	ProductName      string
	IncludeCancelled bool
}

func (r *Repo) ListOrders(ctx context.Context, f OrderFilter) ([]OrderDetail, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != nil {
		where = append(where, `o.status = `+arg(string(*f.Status)))
	} else if !f.IncludeCancelled {
		where = append(where, `o.status <> `+arg(string(StatusCancelled)))
	}
	if f.CustomerName != "" {
		where = append(where, `(c.first_name || ' ' || c.last_name) ILIKE `+arg("%"+f.CustomerName+"%"))
	}
	if f.CustomerDocument != "" {
		where = append(where, `c.document ILIKE `+arg("%"+f.CustomerDocument+"%"))
	}
	if f.ProductName != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM order_lines l
			JOIN products p ON p.id = l.product_id
			WHERE l.order_id = o.id AND p.name ILIKE `+arg("%"+f.ProductName+"%")+`)`)
	}

	q := `
		SELECT o.id, o.customer_id, o.status, o.total, o.created_at,
		       c.id, c.first_name, c.last_name, c.document, c.active, c.registered_at
		FROM orders o
		JOIN customers c ON c.id = o.customer_id`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY o.created_at DESC LIMIT 100`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderDetail
	var ids []string
	for rows.Next() {
		var d OrderDetail
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.Status, &d.Total, &d.CreatedAt,
			&d.Customer.ID, &d.Customer.FirstName, &d.Customer.LastName,
			&d.Customer.Document, &d.Customer.Active, &d.Customer.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (r *Repo) linesFor(ctx context.Context, orderIDs []string) (map[string][]LineDetail, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT l.id, l.order_id, l.product_id, l.quantity, l.unit_price, l.subtotal,
		       p.name, p.category
		FROM order_lines l
		JOIN products p ON p.id = l.product_id
		WHERE l.order_id = ANY($1::uuid[])
		ORDER BY l.id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]LineDetail, len(orderIDs))
	for rows.Next() {
		var l LineDetail
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice,
			&l.Subtotal, &l.ProductName, &l.ProductCategory); err != nil {
			return nil, err
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}

func (r *Repo) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := r.DB.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{StatusPending: 0, StatusCompleted: 0, StatusCancelled: 0}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[Status(s)] = n
	}
	return counts, rows.Err()
}

// ---- products ----

func (r *Repo) ListProducts(ctx context.Context, onlyAvailable bool) ([]Product, error) {
	q := `SELECT id, name, category, unit_price, quantity, created_at, updated_at
	      FROM products ORDER BY name`
	if onlyAvailable {
		q = `SELECT id, name, category, unit_price, quantity, created_at, updated_at
		     FROM products WHERE quantity > 0 ORDER BY name`
	}
	rows, err := r.DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &p.Quantity,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type ProductIntake struct {
	Name      string
	Category  string
	UnitPrice decimal.Decimal
	Quantity  int
}

// IntakeProduct registers incoming stock. An existing name (locked for the
// duration of the transaction) gets its quantity topped up and price
// refreshed; an unknown name becomes a new product.
func (r *Repo) IntakeProduct(ctx context.Context, in ProductIntake) (id string, created bool, err error) {
	err = postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT id FROM products WHERE name=$1 FOR UPDATE`, in.Name)
		scanErr := row.Scan(&id)
		switch {
		case scanErr == nil:
			_, err := tx.Exec(ctx, `
				UPDATE products
				SET quantity = quantity + $2, unit_price = $3, updated_at = now()
				WHERE id=$1`, id, in.Quantity, in.UnitPrice)
			return err
		case errors.Is(scanErr, pgx.ErrNoRows):
			id = uuid.NewString()
			created = true
			now := time.Now().UTC()
			_, err := tx.Exec(ctx, `
				INSERT INTO products(id, name, category, unit_price, quantity, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $6)`,
				id, in.Name, in.Category, in.UnitPrice, in.Quantity, now)
			return mapPgError(err)
		default:
			return scanErr
		}
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

func (r *Repo) InventoryReport(ctx context.Context) (InventoryReport, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, category, quantity, unit_price
		FROM products ORDER BY name`)
	if err != nil {
		return InventoryReport{}, err
	}
	defer rows.Close()

	rep := InventoryReport{TotalValue: decimal.Zero}
	for rows.Next() {
		var it InventoryItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Category, &it.Quantity, &it.UnitPrice); err != nil {
			return InventoryReport{}, err
		}
		it.LineValue = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		rep.TotalValue = rep.TotalValue.Add(it.LineValue)
		rep.Items = append(rep.Items, it)
	}
	return rep, rows.Err()
}

// ---- customers ----

func (r *Repo) CreateCustomer(ctx context.Context, firstName, lastName, document string) (Customer, error) {
	c := Customer{
		ID:           uuid.NewString(),
		FirstName:    firstName,
		LastName:     lastName,
		Document:     document,
		Active:       true,
		RegisteredAt: time.Now().UTC(),
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO customers(id, first_name, last_name, document, active, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.FirstName, c.LastName, c.Document, c.Active, c.RegisteredAt)
	if err != nil {
		return Customer{}, mapPgError(err)
	}
	return c, nil
}

func (r *Repo) ListCustomers(ctx context.Context, onlyActive bool) ([]Customer, error) {
	q := `SELECT id, first_name, last_name, document, active, registered_at
	      FROM customers ORDER BY registered_at DESC`
	if onlyActive {
		q = `SELECT id, first_name, last_name, document, active, registered_at
		     FROM customers WHERE active ORDER BY registered_at DESC`
	}
	rows, err := r.DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Document, &c.Active, &c.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- users ----

func (r *Repo) UserByCredentials(ctx context.Context, username, password string) (User, error) {
	var u User
	err := r.DB.QueryRow(ctx, `
		SELECT id, username, role FROM users
		WHERE username=$1 AND password=$2`, username, password).
		Scan(&u.ID, &u.Username, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user: %w", ErrNotFound)
	}
	return u, err
}

func (r *Repo) CreateUser(ctx context.Context, username, password, role string) (User, error) {
	u := User{ID: uuid.NewString(), Username: username, Role: role}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO users(id, username, password, role)
		VALUES ($1, $2, $3, $4)`, u.ID, username, password, role)
	if err != nil {
		return User{}, mapPgError(err)
	}
	return u, nil
}
