// Package storage provides abstractions for persistent ledger storage.
package storage

import (
	"context"
	"errors"

	"github.com/shopbook/ledger/internal/models"
)

// ErrNotFound is returned when a referenced customer or bill does not
// exist. Callers must create the document first.
var ErrNotFound = errors.New("not found")

// ErrRevisionConflict is returned by CommitBill and UpdateCustomer when
// another writer committed since the documents were read. The caller
// re-reads, recomputes, and retries; partial state is never merged.
var ErrRevisionConflict = errors.New("revision conflict")

// Store defines the interface for ledger storage operations.
// This abstraction allows swapping storage backends (SQLite, in-memory)
// without changing the ledger processor.
//
// Consistency contract: CommitBill writes the bill and its owning
// customer as one atomic unit, conditioned on the revisions the caller
// read. Either both documents are written and both revisions advance,
// or nothing is written at all. Reads always observe a committed state.
type Store interface {
	// CreateCustomer persists a new customer. The ID, CreatedAt, and
	// Rev fields are populated by the store.
	CreateCustomer(ctx context.Context, customer *models.Customer) error

	// GetCustomer retrieves a customer by ID.
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)

	// ListCustomers retrieves all customers. Used by the drift checker,
	// never on the hot path.
	ListCustomers(ctx context.Context) ([]*models.Customer, error)

	// GetBill retrieves a bill by ID including its items and payments.
	GetBill(ctx context.Context, billID string) (*models.Bill, error)

	// ListBillsByCustomer retrieves all bills owned by a customer.
	ListBillsByCustomer(ctx context.Context, customerID string) ([]*models.Bill, error)

	// CommitBill atomically writes a bill together with its owning
	// customer's rollups. A bill with Rev == 0 is inserted; otherwise
	// the write is conditioned on both documents still carrying the
	// revisions the caller read, failing with ErrRevisionConflict if
	// either moved. On success both Rev fields are advanced in place.
	//
	// Payments are append-only: entries already committed are left
	// untouched, new entries are appended.
	CommitBill(ctx context.Context, bill *models.Bill, customer *models.Customer) error

	// UpdateCustomer writes a customer's rollups alone, conditioned on
	// its revision. Used by the repair path when recomputing from a
	// full rescan.
	UpdateCustomer(ctx context.Context, customer *models.Customer) error

	// Close releases any resources held by the store.
	Close() error
}
