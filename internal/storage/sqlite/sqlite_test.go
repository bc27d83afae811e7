package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopbook/ledger/internal/models"
	"github.com/shopbook/ledger/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	customer := &models.Customer{Name: "Ramesh", Phone: "9876500000"}

	t.Run("CreateCustomer assigns ID and revision", func(t *testing.T) {
		if err := store.CreateCustomer(ctx, customer); err != nil {
			t.Fatalf("CreateCustomer failed: %v", err)
		}
		if customer.ID == "" || customer.Rev != 1 || customer.CreatedAt == 0 {
			t.Errorf("customer not initialized: %+v", customer)
		}
	})

	t.Run("GetCustomer roundtrips", func(t *testing.T) {
		got, err := store.GetCustomer(ctx, customer.ID)
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if got.Name != "Ramesh" || got.Phone != "9876500000" || got.Rev != 1 {
			t.Errorf("got %+v", got)
		}
	})

	bill := &models.Bill{
		ID:              "bill-1",
		CustomerID:      customer.ID,
		PreviousBalance: 0,
		ItemsTotal:      10000,
		GrandTotal:      10000,
		Remaining:       10000,
		Status:          models.BillStatusOpen,
		CreatedAt:       100,
		Items: []models.BillItem{
			{ID: "i1", Name: "Rice", Qty: 2, Rate: 5000, Total: 10000},
		},
	}

	t.Run("CommitBill inserts new bill and bumps both revisions", func(t *testing.T) {
		customer.TotalCredit = 10000
		if err := store.CommitBill(ctx, bill, customer); err != nil {
			t.Fatalf("CommitBill failed: %v", err)
		}
		if bill.Rev != 1 || customer.Rev != 2 {
			t.Errorf("revs = %d/%d, want 1/2", bill.Rev, customer.Rev)
		}
	})

	t.Run("GetBill retrieves items and payments", func(t *testing.T) {
		got, err := store.GetBill(ctx, bill.ID)
		if err != nil {
			t.Fatalf("GetBill failed: %v", err)
		}
		if got.GrandTotal != 10000 || got.Status != models.BillStatusOpen || got.Rev != 1 {
			t.Errorf("got %+v", got)
		}
		if len(got.Items) != 1 || got.Items[0].Name != "Rice" {
			t.Errorf("items = %+v", got.Items)
		}
	})

	t.Run("CommitBill update appends payments and replaces items", func(t *testing.T) {
		bill.TotalPaid = 4000
		bill.Remaining = 6000
		bill.Payments = []models.BillPayment{
			{ID: "p1", Amount: 4000, Method: "cash", CreatedAt: 110},
		}
		bill.Items = append(bill.Items, models.BillItem{ID: "i2", Name: "Oil", Qty: 1, Rate: 2000, Total: 2000})
		bill.ItemsTotal = 12000
		bill.GrandTotal = 12000
		bill.Remaining = 8000
		customer.TotalCredit = 12000
		customer.TotalPaid = 4000

		if err := store.CommitBill(ctx, bill, customer); err != nil {
			t.Fatalf("CommitBill failed: %v", err)
		}

		got, err := store.GetBill(ctx, bill.ID)
		if err != nil {
			t.Fatalf("GetBill failed: %v", err)
		}
		if len(got.Items) != 2 || len(got.Payments) != 1 {
			t.Errorf("items/payments = %d/%d, want 2/1", len(got.Items), len(got.Payments))
		}
		if got.Payments[0].Method != "cash" || got.Payments[0].Amount != 4000 {
			t.Errorf("payment = %+v", got.Payments[0])
		}
	})

	t.Run("replayed payment row is not duplicated", func(t *testing.T) {
		// A retried commit legitimately carries already-persisted
		// payment entries; they must be ignored, not doubled.
		bill.Payments = append(bill.Payments, models.BillPayment{ID: "p2", Amount: 1000, CreatedAt: 120})
		bill.TotalPaid = 5000
		bill.Remaining = 7000
		customer.TotalPaid = 5000
		if err := store.CommitBill(ctx, bill, customer); err != nil {
			t.Fatalf("CommitBill failed: %v", err)
		}

		got, err := store.GetBill(ctx, bill.ID)
		if err != nil {
			t.Fatalf("GetBill failed: %v", err)
		}
		if len(got.Payments) != 2 {
			t.Errorf("payments = %d, want 2", len(got.Payments))
		}
	})

	t.Run("stale bill revision conflicts and writes nothing", func(t *testing.T) {
		stale := *bill
		stale.Rev = 1
		stale.TotalPaid = 99999
		staleCustomer := *customer
		if err := store.CommitBill(ctx, &stale, &staleCustomer); !errors.Is(err, storage.ErrRevisionConflict) {
			t.Fatalf("CommitBill error = %v, want ErrRevisionConflict", err)
		}

		got, err := store.GetBill(ctx, bill.ID)
		if err != nil {
			t.Fatalf("GetBill failed: %v", err)
		}
		if got.TotalPaid != 5000 {
			t.Errorf("totalPaid = %d, want 5000 (partial write)", got.TotalPaid)
		}
		gotCustomer, err := store.GetCustomer(ctx, customer.ID)
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if gotCustomer.Rev != customer.Rev {
			t.Errorf("customer rev = %d, want %d (partial write)", gotCustomer.Rev, customer.Rev)
		}
	})

	t.Run("stale customer revision conflicts", func(t *testing.T) {
		staleCustomer := *customer
		staleCustomer.Rev--
		fresh := *bill
		if err := store.CommitBill(ctx, &fresh, &staleCustomer); !errors.Is(err, storage.ErrRevisionConflict) {
			t.Errorf("CommitBill error = %v, want ErrRevisionConflict", err)
		}
	})

	t.Run("UpdateCustomer CAS", func(t *testing.T) {
		customer.TotalPaid = 6000
		if err := store.UpdateCustomer(ctx, customer); err != nil {
			t.Fatalf("UpdateCustomer failed: %v", err)
		}

		stale := *customer
		stale.Rev -= 2
		if err := store.UpdateCustomer(ctx, &stale); !errors.Is(err, storage.ErrRevisionConflict) {
			t.Errorf("UpdateCustomer error = %v, want ErrRevisionConflict", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := store.GetCustomer(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetCustomer error = %v, want ErrNotFound", err)
		}
		if _, err := store.GetBill(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetBill error = %v, want ErrNotFound", err)
		}
		ghost := &models.Customer{ID: "missing", Rev: 1}
		if err := store.UpdateCustomer(ctx, ghost); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("UpdateCustomer error = %v, want ErrNotFound", err)
		}
	})
}

func TestNew_ConfiguresBusyTimeout(t *testing.T) {
	store := newTestStore(t)

	var ms int
	if err := store.db.QueryRow("PRAGMA busy_timeout").Scan(&ms); err != nil {
		t.Fatalf("querying busy_timeout failed: %v", err)
	}
	if ms < 1000 {
		t.Errorf("busy_timeout = %dms, want at least 1000", ms)
	}
}

func TestSQLiteStore_ListCustomersAndBills(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := &models.Customer{Name: "A", CreatedAt: 10}
	b := &models.Customer{Name: "B", CreatedAt: 20}
	for _, c := range []*models.Customer{a, b} {
		if err := store.CreateCustomer(ctx, c); err != nil {
			t.Fatalf("CreateCustomer failed: %v", err)
		}
	}

	customers, err := store.ListCustomers(ctx)
	if err != nil {
		t.Fatalf("ListCustomers failed: %v", err)
	}
	if len(customers) != 2 || customers[0].Name != "A" {
		t.Errorf("customers = %+v", customers)
	}

	for i, tc := range []struct {
		id        string
		owner     *models.Customer
		createdAt int64
	}{
		{"b1", a, 10},
		{"b2", a, 20},
		{"bx", b, 15},
	} {
		bill := &models.Bill{ID: tc.id, CustomerID: tc.owner.ID, Status: models.BillStatusClosed, CreatedAt: tc.createdAt}
		if err := store.CommitBill(ctx, bill, tc.owner); err != nil {
			t.Fatalf("CommitBill %d failed: %v", i, err)
		}
	}

	bills, err := store.ListBillsByCustomer(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListBillsByCustomer failed: %v", err)
	}
	if len(bills) != 2 || bills[0].ID != "b1" || bills[1].ID != "b2" {
		t.Errorf("bills = %+v, want [b1 b2]", bills)
	}

	// Persistence across reopen.
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	persist, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	c := &models.Customer{Name: "C"}
	if err := persist.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	persist.Close()

	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetCustomer(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCustomer after reopen failed: %v", err)
	}
	if got.Name != "C" {
		t.Errorf("got %+v", got)
	}
	_ = os.Remove(dbPath)
}
