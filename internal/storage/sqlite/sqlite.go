// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/shopbook/ledger/internal/models"
	"github.com/shopbook/ledger/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite. Optimistic
// concurrency is expressed as conditional updates on the rev column
// inside one SQL transaction, so the bill and its owning customer
// commit together or not at all.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Wait out writer contention inside SQLite instead of surfacing
	// SQLITE_BUSY; revision conflicts stay the only retry signal the
	// processor sees.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateCustomer persists a new customer, assigning ID, CreatedAt, and
// the initial revision.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if customer.ID == "" {
		customer.ID = uuid.New().String()
	}
	if customer.CreatedAt == 0 {
		customer.CreatedAt = time.Now().Unix()
	}
	customer.Rev = 1

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, phone, total_credit, total_paid, rev, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		customer.ID, customer.Name, customer.Phone,
		customer.TotalCredit, customer.TotalPaid, customer.Rev, customer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (s *SQLiteStore) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	customer := &models.Customer{}
	var phone sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, total_credit, total_paid, rev, created_at
		 FROM customers WHERE id = ?`,
		customerID,
	).Scan(&customer.ID, &customer.Name, &phone,
		&customer.TotalCredit, &customer.TotalPaid, &customer.Rev, &customer.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer %s: %w", customerID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	if phone.Valid {
		customer.Phone = phone.String
	}
	return customer, nil
}

// ListCustomers retrieves all customers ordered by creation time.
func (s *SQLiteStore) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, total_credit, total_paid, rev, created_at
		 FROM customers ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		customer := &models.Customer{}
		var phone sql.NullString
		if err := rows.Scan(&customer.ID, &customer.Name, &phone,
			&customer.TotalCredit, &customer.TotalPaid, &customer.Rev, &customer.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		if phone.Valid {
			customer.Phone = phone.String
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}
	return customers, nil
}

// GetBill retrieves a bill by ID, including all items and payments.
func (s *SQLiteStore) GetBill(ctx context.Context, billID string) (*models.Bill, error) {
	bill := &models.Bill{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, previous_balance, items_total, grand_total,
		        total_paid, remaining, status, rev, created_at
		 FROM bills WHERE id = ?`,
		billID,
	).Scan(&bill.ID, &bill.CustomerID, &bill.PreviousBalance, &bill.ItemsTotal,
		&bill.GrandTotal, &bill.TotalPaid, &bill.Remaining, &bill.Status,
		&bill.Rev, &bill.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bill %s: %w", billID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}

	if err := s.loadBillChildren(ctx, bill); err != nil {
		return nil, err
	}
	return bill, nil
}

// ListBillsByCustomer retrieves all bills owned by a customer, oldest first.
func (s *SQLiteStore) ListBillsByCustomer(ctx context.Context, customerID string) ([]*models.Bill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, previous_balance, items_total, grand_total,
		        total_paid, remaining, status, rev, created_at
		 FROM bills WHERE customer_id = ? ORDER BY created_at, id`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	var bills []*models.Bill
	for rows.Next() {
		bill := &models.Bill{}
		if err := rows.Scan(&bill.ID, &bill.CustomerID, &bill.PreviousBalance, &bill.ItemsTotal,
			&bill.GrandTotal, &bill.TotalPaid, &bill.Remaining, &bill.Status,
			&bill.Rev, &bill.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bills: %w", err)
	}

	for _, bill := range bills {
		if err := s.loadBillChildren(ctx, bill); err != nil {
			return nil, err
		}
	}
	return bills, nil
}

// CommitBill atomically writes the bill and its owning customer,
// conditioned on the revisions the caller read.
func (s *SQLiteStore) CommitBill(ctx context.Context, bill *models.Bill, customer *models.Customer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if bill.Rev == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO bills (id, customer_id, previous_balance, items_total, grand_total,
			                    total_paid, remaining, status, rev, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bill.ID, bill.CustomerID, bill.PreviousBalance, bill.ItemsTotal, bill.GrandTotal,
			bill.TotalPaid, bill.Remaining, bill.Status, bill.Rev+1, bill.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bill: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE bills SET items_total = ?, grand_total = ?, total_paid = ?,
			                  remaining = ?, status = ?, rev = rev + 1
			 WHERE id = ? AND rev = ?`,
			bill.ItemsTotal, bill.GrandTotal, bill.TotalPaid,
			bill.Remaining, bill.Status, bill.ID, bill.Rev,
		)
		if err != nil {
			return fmt.Errorf("failed to update bill: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return storage.ErrRevisionConflict
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE customers SET total_credit = ?, total_paid = ?, rev = rev + 1
		 WHERE id = ? AND rev = ?`,
		customer.TotalCredit, customer.TotalPaid, customer.ID, customer.Rev,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM customers WHERE id = ?", customer.ID,
		).Scan(&exists); err == sql.ErrNoRows {
			return fmt.Errorf("customer %s: %w", customer.ID, storage.ErrNotFound)
		}
		return storage.ErrRevisionConflict
	}

	// Items are replace-on-write: line items may legitimately be updated.
	if _, err := tx.ExecContext(ctx, "DELETE FROM bill_items WHERE bill_id = ?", bill.ID); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	for _, item := range bill.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bill_items (id, bill_id, name, qty, rate, discount, total)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, bill.ID, item.Name, item.Qty, item.Rate, item.Discount, item.Total,
		)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}

	// Payments are append-only: rows already committed are never
	// touched, the retried slice may carry them again.
	for _, p := range bill.Payments {
		var reversal int
		if p.Reversal {
			reversal = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO bill_payments (id, bill_id, amount, method, reversal, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, bill.ID, p.Amount, p.Method, reversal, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	bill.Rev++
	customer.Rev++
	return nil
}

// UpdateCustomer writes a customer's rollups alone, conditioned on its
// revision.
func (s *SQLiteStore) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE customers SET total_credit = ?, total_paid = ?, rev = rev + 1
		 WHERE id = ? AND rev = ?`,
		customer.TotalCredit, customer.TotalPaid, customer.ID, customer.Rev,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM customers WHERE id = ?", customer.ID,
		).Scan(&exists); err == sql.ErrNoRows {
			return fmt.Errorf("customer %s: %w", customer.ID, storage.ErrNotFound)
		}
		return storage.ErrRevisionConflict
	}

	customer.Rev++
	return nil
}

// loadBillChildren fills in a bill's items and payments.
func (s *SQLiteStore) loadBillChildren(ctx context.Context, bill *models.Bill) error {
	itemRows, err := s.db.QueryContext(ctx,
		`SELECT id, name, qty, rate, discount, total
		 FROM bill_items WHERE bill_id = ? ORDER BY id`,
		bill.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item models.BillItem
		if err := itemRows.Scan(&item.ID, &item.Name, &item.Qty,
			&item.Rate, &item.Discount, &item.Total); err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		bill.Items = append(bill.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate items: %w", err)
	}

	paymentRows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, method, reversal, created_at
		 FROM bill_payments WHERE bill_id = ? ORDER BY created_at, id`,
		bill.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get payments: %w", err)
	}
	defer paymentRows.Close()

	for paymentRows.Next() {
		var p models.BillPayment
		var method sql.NullString
		var reversal int
		if err := paymentRows.Scan(&p.ID, &p.Amount, &method, &reversal, &p.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan payment: %w", err)
		}
		if method.Valid {
			p.Method = method.String
		}
		p.Reversal = reversal != 0
		bill.Payments = append(bill.Payments, p)
	}
	if err := paymentRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate payments: %w", err)
	}
	return nil
}
