// Package memory provides an in-memory implementation of the
// storage.Store interface. It backs tests and dev mode (no DB_PATH set)
// and mirrors the SQLite store's revision semantics exactly.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopbook/ledger/internal/models"
	"github.com/shopbook/ledger/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store with plain maps behind one mutex.
// All values are deep-copied on the way in and out so callers can
// never alias committed state.
type Store struct {
	mu        sync.RWMutex
	customers map[string]*models.Customer
	bills     map[string]*models.Bill
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		customers: make(map[string]*models.Customer),
		bills:     make(map[string]*models.Bill),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// CreateCustomer persists a new customer, assigning ID, CreatedAt, and
// the initial revision.
func (s *Store) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if customer.ID == "" {
		customer.ID = uuid.New().String()
	}
	if customer.CreatedAt == 0 {
		customer.CreatedAt = time.Now().Unix()
	}
	customer.Rev = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = copyCustomer(customer)
	return nil
}

// GetCustomer retrieves a customer by ID.
func (s *Store) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[customerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCustomer(customer), nil
}

// ListCustomers retrieves all customers ordered by creation time.
func (s *Store) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]*models.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, copyCustomer(c))
	}
	sort.Slice(customers, func(i, j int) bool {
		if customers[i].CreatedAt != customers[j].CreatedAt {
			return customers[i].CreatedAt < customers[j].CreatedAt
		}
		return customers[i].ID < customers[j].ID
	})
	return customers, nil
}

// GetBill retrieves a bill by ID including items and payments.
func (s *Store) GetBill(ctx context.Context, billID string) (*models.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.bills[billID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyBill(bill), nil
}

// ListBillsByCustomer retrieves all bills owned by a customer, oldest
// first.
func (s *Store) ListBillsByCustomer(ctx context.Context, customerID string) ([]*models.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bills []*models.Bill
	for _, b := range s.bills {
		if b.CustomerID == customerID {
			bills = append(bills, copyBill(b))
		}
	}
	sort.Slice(bills, func(i, j int) bool {
		if bills[i].CreatedAt != bills[j].CreatedAt {
			return bills[i].CreatedAt < bills[j].CreatedAt
		}
		return bills[i].ID < bills[j].ID
	})
	return bills, nil
}

// CommitBill atomically writes the bill and its owning customer,
// conditioned on the revisions the caller read.
func (s *Store) CommitBill(ctx context.Context, bill *models.Bill, customer *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.customers[customer.ID]
	if !exists {
		return storage.ErrNotFound
	}
	if current.Rev != customer.Rev {
		return storage.ErrRevisionConflict
	}

	if bill.Rev == 0 {
		if _, dup := s.bills[bill.ID]; dup {
			return storage.ErrRevisionConflict
		}
	} else {
		stored, ok := s.bills[bill.ID]
		if !ok {
			return storage.ErrNotFound
		}
		if stored.Rev != bill.Rev {
			return storage.ErrRevisionConflict
		}
	}

	bill.Rev++
	customer.Rev++
	s.bills[bill.ID] = copyBill(bill)
	s.customers[customer.ID] = copyCustomer(customer)
	return nil
}

// UpdateCustomer writes a customer's rollups alone, conditioned on its
// revision.
func (s *Store) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.customers[customer.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if current.Rev != customer.Rev {
		return storage.ErrRevisionConflict
	}

	customer.Rev++
	s.customers[customer.ID] = copyCustomer(customer)
	return nil
}

func copyCustomer(c *models.Customer) *models.Customer {
	out := *c
	return &out
}

func copyBill(b *models.Bill) *models.Bill {
	out := *b
	out.Items = append([]models.BillItem(nil), b.Items...)
	out.Payments = append([]models.BillPayment(nil), b.Payments...)
	return &out
}
