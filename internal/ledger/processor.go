// Package ledger implements the transactional core of the customer
// ledger: the only component authorized to mutate bill and customer
// state.
//
// Every mutation is one atomic unit spanning the target bill and its
// owning customer: read both with their revisions, recompute totals
// purely via the aggregator, apply the customer rollup delta, and
// commit both conditioned on the revisions read. On a revision conflict
// the whole read-compute-write cycle is retried with exponential
// backoff up to a bound; partial state is never merged.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopbook/ledger/internal/aggregator"
	"github.com/shopbook/ledger/internal/metrics"
	"github.com/shopbook/ledger/internal/models"
	"github.com/shopbook/ledger/internal/notify"
	"github.com/shopbook/ledger/internal/storage"
)

// Config controls the optimistic retry loop.
type Config struct {
	// MaxAttempts bounds read-compute-write cycles per operation.
	MaxAttempts int
	// BackoffBase is the sleep before the first retry; it doubles per
	// attempt (with jitter) up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the retry settings used when a field is unset.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 8,
		BackoffBase: 2 * time.Millisecond,
		BackoffMax:  250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaults.BackoffMax
	}
	return c
}

// Processor applies item and payment events to bills and keeps the
// owning customer's rollups consistent. All methods are safe for
// concurrent use; operations on different bills proceed in parallel,
// operations on the same bill or customer serialize through the
// store's revision checks.
type Processor struct {
	store    storage.Store
	notifier *notify.Notifier
	cfg      Config

	// commitLocks serializes commit+publish per customer so bill and
	// customer subscribers see snapshots in commit order. Entries are
	// refcounted and pruned once released. Correctness of the data
	// itself rests on the store's revision checks, not on these locks.
	commitMu    sync.Mutex
	commitLocks map[string]*commitLock
}

type commitLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Processor on top of the given store and notifier.
func New(store storage.Store, notifier *notify.Notifier, cfg Config) *Processor {
	return &Processor{
		store:       store,
		notifier:    notifier,
		cfg:         cfg.withDefaults(),
		commitLocks: make(map[string]*commitLock),
	}
}

// CreateCustomer registers a new customer with zeroed rollups.
func (p *Processor) CreateCustomer(ctx context.Context, name, phone string) (*models.Customer, error) {
	customer := &models.Customer{Name: name, Phone: phone}
	if err := p.store.CreateCustomer(ctx, customer); err != nil {
		metrics.Operations.WithLabelValues("create_customer", "error").Inc()
		return nil, fmt.Errorf("create customer: %w", err)
	}
	metrics.Operations.WithLabelValues("create_customer", "ok").Inc()
	slog.Info("customer created", "customer_id", customer.ID)
	return customer, nil
}

// GetCustomer retrieves a customer by ID.
func (p *Processor) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	customer, err := p.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return customer, nil
}

// GetBill retrieves a bill by ID.
func (p *Processor) GetBill(ctx context.Context, billID string) (*models.Bill, error) {
	bill, err := p.store.GetBill(ctx, billID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return bill, nil
}

// ListCustomers retrieves all customers.
func (p *Processor) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	return p.store.ListCustomers(ctx)
}

// ListBills retrieves all bills owned by a customer.
func (p *Processor) ListBills(ctx context.Context, customerID string) ([]*models.Bill, error) {
	if _, err := p.store.GetCustomer(ctx, customerID); err != nil {
		return nil, mapStoreErr(err)
	}
	return p.store.ListBillsByCustomer(ctx, customerID)
}

// CreateBill opens a new bill for a customer, freezing the customer's
// current outstanding balance into PreviousBalance. The customer's
// TotalCredit grows by that balance in the same commit, keeping the
// per-customer invariant intact.
func (p *Processor) CreateBill(ctx context.Context, customerID string) (*models.Bill, error) {
	var bill *models.Bill
	err := p.withRetries(ctx, "create_bill", func(ctx context.Context) error {
		customer, err := p.store.GetCustomer(ctx, customerID)
		if err != nil {
			return mapStoreErr(err)
		}

		bill = &models.Bill{
			ID:              uuid.New().String(),
			CustomerID:      customerID,
			PreviousBalance: customer.Outstanding(),
			CreatedAt:       time.Now().Unix(),
		}
		aggregator.Apply(bill)

		// GrandTotal of the fresh bill equals PreviousBalance.
		customer.TotalCredit += bill.GrandTotal

		return p.commitAndPublish(ctx, bill, customer)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("bill created",
		"bill_id", bill.ID,
		"customer_id", customerID,
		"previous_balance", bill.PreviousBalance,
	)
	return bill, nil
}

// AddItem appends or updates a line item on a bill, recomputes its
// totals, and folds the delta into the customer rollups. Replaying the
// same item (same ID, same fields) is a no-op returning the current
// snapshot.
func (p *Processor) AddItem(ctx context.Context, billID string, item models.BillItem) (*models.Bill, error) {
	if err := validateItem(item); err != nil {
		metrics.Operations.WithLabelValues("add_item", "invalid").Inc()
		return nil, err
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.Total = aggregator.ItemTotal(item)

	return p.mutateBill(ctx, "add_item", billID, func(bill *models.Bill) (bool, error) {
		for i := range bill.Items {
			if bill.Items[i].ID == item.ID {
				if bill.Items[i] == item {
					return false, nil // replay of a committed change
				}
				bill.Items[i] = item
				return true, nil
			}
		}
		bill.Items = append(bill.Items, item)
		return true, nil
	})
}

// ApplyPayment appends a payment to a bill, recomputes its totals, and
// folds the delta into the customer rollups. A replay carrying the ID
// of an already-committed payment is a no-op, so retries can never
// double-count.
func (p *Processor) ApplyPayment(ctx context.Context, billID string, payment models.BillPayment) (*models.Bill, error) {
	if err := validatePayment(payment); err != nil {
		metrics.Operations.WithLabelValues("apply_payment", "invalid").Inc()
		return nil, err
	}
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if payment.CreatedAt == 0 {
		payment.CreatedAt = time.Now().Unix()
	}

	return p.mutateBill(ctx, "apply_payment", billID, func(bill *models.Bill) (bool, error) {
		for i := range bill.Payments {
			if bill.Payments[i].ID == payment.ID {
				return false, nil // exactly-once under retry
			}
		}
		bill.Payments = append(bill.Payments, payment)
		return true, nil
	})
}

// RecomputeCustomer performs a full rescan of a customer's bills and
// overwrites the rollups. Repair path only; the hot path always
// applies deltas.
func (p *Processor) RecomputeCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	var customer *models.Customer
	err := p.withRetries(ctx, "recompute_customer", func(ctx context.Context) error {
		var err error
		customer, err = p.store.GetCustomer(ctx, customerID)
		if err != nil {
			return mapStoreErr(err)
		}
		bills, err := p.store.ListBillsByCustomer(ctx, customerID)
		if err != nil {
			return err
		}

		var totalCredit, totalPaid models.Money
		for _, bill := range bills {
			totalCredit += bill.GrandTotal
			totalPaid += bill.TotalPaid
		}
		if customer.TotalCredit == totalCredit && customer.TotalPaid == totalPaid {
			return nil // already consistent
		}

		customer.TotalCredit = totalCredit
		customer.TotalPaid = totalPaid

		// Same lock as the hot path: the repair write must not let its
		// snapshot overtake or trail a concurrent commit's.
		release := p.lockCustomer(customerID)
		defer release()
		if err := p.store.UpdateCustomer(ctx, customer); err != nil {
			return err
		}
		p.notifier.Publish(notify.Event{
			Topic:    notify.CustomerTopic(customerID),
			Customer: customer,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

// mutateBill runs one read-compute-write cycle per attempt: load the
// bill and its customer, let apply mutate the bill's sub-ledger,
// recompute totals, fold the delta into the rollups, and commit both.
func (p *Processor) mutateBill(ctx context.Context, op, billID string, apply func(*models.Bill) (bool, error)) (*models.Bill, error) {
	var bill *models.Bill
	err := p.withRetries(ctx, op, func(ctx context.Context) error {
		var err error
		bill, err = p.store.GetBill(ctx, billID)
		if err != nil {
			return mapStoreErr(err)
		}
		customer, err := p.store.GetCustomer(ctx, bill.CustomerID)
		if err != nil {
			return mapStoreErr(err)
		}

		changed, err := apply(bill)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		oldGrandTotal := bill.GrandTotal
		oldTotalPaid := bill.TotalPaid
		oldStatus := bill.Status

		aggregator.Apply(bill)

		customer.TotalCredit += bill.GrandTotal - oldGrandTotal
		customer.TotalPaid += bill.TotalPaid - oldTotalPaid

		if err := p.commitAndPublish(ctx, bill, customer); err != nil {
			return err
		}

		switch {
		case oldStatus == models.BillStatusClosed && bill.Status == models.BillStatusOpen:
			metrics.BillsReopened.Inc()
			slog.Info("bill reopened",
				"bill_id", bill.ID,
				"customer_id", bill.CustomerID,
				"remaining", bill.Remaining,
			)
		case oldStatus == models.BillStatusOpen && bill.Status == models.BillStatusClosed:
			slog.Info("bill closed",
				"bill_id", bill.ID,
				"customer_id", bill.CustomerID,
				"remaining", bill.Remaining,
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// commitAndPublish commits the atomic bill+customer unit and, on
// success, publishes post-commit snapshots. The lock is keyed by
// customer and spans commit and publish: customer-topic events come
// from commits to different bills of the same customer, so a per-bill
// lock would let a newer rollup overtake an older one. Commits to one
// customer's bills already serialize through its revision, so the
// wider key adds no new contention.
func (p *Processor) commitAndPublish(ctx context.Context, bill *models.Bill, customer *models.Customer) error {
	release := p.lockCustomer(customer.ID)
	defer release()

	if err := p.store.CommitBill(ctx, bill, customer); err != nil {
		return err
	}
	p.notifier.Publish(notify.Event{
		Topic:    notify.BillTopic(bill.ID),
		Bill:     bill,
		Customer: customer,
	})
	p.notifier.Publish(notify.Event{
		Topic:    notify.CustomerTopic(customer.ID),
		Customer: customer,
	})
	return nil
}

// withRetries runs attempt until it succeeds, fails with a non-conflict
// error, or the bound is hit. Cancellation is honored between attempts;
// an in-flight commit runs to completion or fails entirely.
func (p *Processor) withRetries(ctx context.Context, op string, attempt func(context.Context) error) error {
	backoff := p.cfg.BackoffBase
	for i := 0; i < p.cfg.MaxAttempts; i++ {
		if i > 0 {
			sleep := backoff + time.Duration(rand.Int63n(int64(backoff)))
			backoff *= 2
			if backoff > p.cfg.BackoffMax {
				backoff = p.cfg.BackoffMax
			}
			select {
			case <-ctx.Done():
				metrics.Operations.WithLabelValues(op, "cancelled").Inc()
				return ctx.Err()
			case <-time.After(sleep):
			}
		}

		err := attempt(ctx)
		if err == nil {
			metrics.Operations.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if errors.Is(err, storage.ErrRevisionConflict) {
			metrics.CommitConflicts.Inc()
			slog.Debug("commit conflict, retrying", "op", op, "attempt", i+1)
			continue
		}
		metrics.Operations.WithLabelValues(op, "error").Inc()
		return err
	}

	metrics.RetriesExhausted.Inc()
	metrics.Operations.WithLabelValues(op, "exhausted").Inc()
	slog.Warn("optimistic retries exhausted", "op", op, "attempts", p.cfg.MaxAttempts)
	return fmt.Errorf("%s after %d attempts: %w", op, p.cfg.MaxAttempts, ErrConcurrencyExhausted)
}

// lockCustomer acquires the commit+publish lock for one customer's
// bills. The returned release func unlocks and deletes the entry once
// no other writer holds or awaits it, so the map stays bounded by the
// number of in-flight operations.
func (p *Processor) lockCustomer(customerID string) func() {
	p.commitMu.Lock()
	lock, ok := p.commitLocks[customerID]
	if !ok {
		lock = &commitLock{}
		p.commitLocks[customerID] = lock
	}
	lock.refs++
	p.commitMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		p.commitMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(p.commitLocks, customerID)
		}
		p.commitMu.Unlock()
	}
}

func validatePayment(payment models.BillPayment) error {
	switch {
	case payment.Amount == 0:
		return fmt.Errorf("amount must be non-zero: %w", ErrInvalidPayment)
	case payment.Amount < 0 && !payment.Reversal:
		return fmt.Errorf("negative amount requires the reversal flag: %w", ErrInvalidPayment)
	case payment.Amount > 0 && payment.Reversal:
		return fmt.Errorf("reversal amount must be negative: %w", ErrInvalidPayment)
	}
	return nil
}

func validateItem(item models.BillItem) error {
	switch {
	case item.Qty <= 0:
		return fmt.Errorf("qty must be positive: %w", ErrInvalidItem)
	case item.Rate < 0:
		return fmt.Errorf("rate must not be negative: %w", ErrInvalidItem)
	case item.Discount < 0:
		return fmt.Errorf("discount must not be negative: %w", ErrInvalidItem)
	case item.Discount > models.Money(item.Qty)*item.Rate:
		return fmt.Errorf("discount exceeds line amount: %w", ErrInvalidItem)
	}
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	return err
}
