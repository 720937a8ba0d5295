package gateway

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/kreezus/yengapay-bridge/gateway/models"
	"github.com/kreezus/yengapay-bridge/internal/currency"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = models.ErrOrderNotFound
	ErrConflict = errors.New("conflict")
)

//go:embed schema.sql
var schemaSQL string

// Repository is the bridge's view of the shop database: orders, carts and exchange
// rates. It runs against Postgres, or in memory for tests.
type Repository struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	carts  map[string]map[string]int
	rates  map[string]decimal.Decimal

	db  *sql.DB
	now func() time.Time
}

func NewRepository() *Repository {
	return &Repository{
		orders: make(map[string]*models.Order),
		carts:  make(map[string]map[string]int),
		rates:  make(map[string]decimal.Decimal),
		now:    time.Now,
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Migrate creates the shop schema when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, schemaSQL)
	return err
}

func (r *Repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.orders[order.ID]; ok {
			return fmt.Errorf("order %s exists: %w", order.ID, ErrConflict)
		}
		stored := cloneOrder(order)
		if stored.Status == "" {
			stored.Status = models.OrderStatusPending
		}
		r.orders[order.ID] = stored
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `set local statement_timeout = '3s'`); err != nil {
		return err
	}
	status := order.Status
	if status == "" {
		status = models.OrderStatusPending
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO shop.orders(order_id, customer_id, currency, total, status)
        VALUES ($1,$2,$3,$4,$5)
    `, order.ID, nullable(order.CustomerID), currency.Code(order.Currency), order.Total, string(status))
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s exists: %w", order.ID, ErrConflict)
	}
	if err != nil {
		return err
	}
	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO shop.order_items(order_id, position, product_id, name, description, image_url, total)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
        `, order.ID, i, item.ProductID, item.Name, item.Description, nullable(item.ImageURL), item.Total)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		order, ok := r.orders[id]
		if !ok {
			return nil, ErrNotFound
		}
		return cloneOrder(order), nil
	}

	var o models.Order
	var customerID, txnID sql.NullString
	var status string
	err := r.db.QueryRowContext(ctx, `
        SELECT order_id, customer_id, currency, total, status, transaction_id
          FROM shop.orders WHERE order_id=$1
    `, id).Scan(&o.ID, &customerID, &o.Currency, &o.Total, &status, &txnID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.CustomerID = customerID.String
	o.TransactionID = txnID.String
	o.Status = models.OrderStatus(status)
	o.Currency = strings.TrimSpace(o.Currency)

	rows, err := r.db.QueryContext(ctx, `
        SELECT product_id, name, description, image_url, total
          FROM shop.order_items WHERE order_id=$1 ORDER BY position
    `, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item models.LineItem
		var image sql.NullString
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Description, &image, &item.Total); err != nil {
			return nil, err
		}
		item.ImageURL = image.String
		o.Items = append(o.Items, item)
	}
	return &o, rows.Err()
}

// UpdateStatus sets the order status and records note, if any, in one step.
// Setting the status an order already has is not an error.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, note string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		order, ok := r.orders[id]
		if !ok {
			return ErrNotFound
		}
		order.Status = status
		if note != "" {
			order.Notes = append(order.Notes, r.newNote(note))
		}
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `set local statement_timeout = '3s'`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
        UPDATE shop.orders SET status=$2, updated_at=now() WHERE order_id=$1
    `, id, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if note != "" {
		if err := insertNote(ctx, tx, id, note); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) AddNote(ctx context.Context, id, note string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		order, ok := r.orders[id]
		if !ok {
			return ErrNotFound
		}
		order.Notes = append(order.Notes, r.newNote(note))
		return nil
	}
	err := insertNote(ctx, r.db, id, note)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrNotFound
	}
	return err
}

func (r *Repository) ListNotes(ctx context.Context, id string) ([]models.Note, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		order, ok := r.orders[id]
		if !ok {
			return nil, ErrNotFound
		}
		return append([]models.Note(nil), order.Notes...), nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT note_id, body, created_at FROM shop.order_notes WHERE order_id=$1 ORDER BY created_at, note_id
    `, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Note
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) SetTransactionID(ctx context.Context, id, transactionID string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		order, ok := r.orders[id]
		if !ok {
			return ErrNotFound
		}
		order.TransactionID = transactionID
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE shop.orders SET transaction_id=$2, updated_at=now() WHERE order_id=$1
    `, id, transactionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddToCart puts quantity units of a product in the customer's active cart.
func (r *Repository) AddToCart(ctx context.Context, customerID, productID string, quantity int) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		cart, ok := r.carts[customerID]
		if !ok {
			cart = make(map[string]int)
			r.carts[customerID] = cart
		}
		cart[productID] += quantity
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO shop.cart_items(customer_id, product_id, quantity) VALUES ($1,$2,$3)
        ON CONFLICT (customer_id, product_id) DO UPDATE SET quantity = shop.cart_items.quantity + EXCLUDED.quantity
    `, customerID, productID, quantity)
	return err
}

// CartItems returns product ids in the customer's cart, sorted.
func (r *Repository) CartItems(ctx context.Context, customerID string) ([]string, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []string
		for p := range r.carts[customerID] {
			out = append(out, p)
		}
		sort.Strings(out)
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT product_id FROM shop.cart_items WHERE customer_id=$1 ORDER BY product_id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) EmptyCart(ctx context.Context, customerID string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.carts, customerID)
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM shop.cart_items WHERE customer_id=$1`, customerID)
	return err
}

// SetRate stores the rate converting one unit of from into to.
func (r *Repository) SetRate(ctx context.Context, from, to string, rate decimal.Decimal) error {
	from, to = currency.Code(from), currency.Code(to)
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rates[from+"/"+to] = rate
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO shop.exchange_rates(from_currency, to_currency, rate) VALUES ($1,$2,$3)
        ON CONFLICT (from_currency, to_currency) DO UPDATE SET rate=EXCLUDED.rate, updated_at=now()
    `, from, to, rate)
	return err
}

// Rate implements currency.RateSource.
func (r *Repository) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = currency.Code(from), currency.Code(to)
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		rate, ok := r.rates[from+"/"+to]
		if !ok {
			return decimal.Zero, fmt.Errorf("%s to %s: %w", from, to, currency.ErrRateUnavailable)
		}
		return rate, nil
	}
	var rate decimal.Decimal
	err := r.db.QueryRowContext(ctx, `
        SELECT rate FROM shop.exchange_rates WHERE from_currency=$1 AND to_currency=$2
    `, from, to).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%s to %s: %w", from, to, currency.ErrRateUnavailable)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func (r *Repository) newNote(text string) models.Note {
	return models.Note{ID: uuid.NewString(), Text: text, CreatedAt: r.now().UTC()}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertNote(ctx context.Context, db execer, orderID, note string) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO shop.order_notes(note_id, order_id, body) VALUES ($1,$2,$3)
    `, uuid.New(), orderID, note)
	return err
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.LineItem(nil), o.Items...)
	cp.Notes = append([]models.Note(nil), o.Notes...)
	return &cp
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
