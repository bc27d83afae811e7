package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopbook/ledger/internal/metrics"
	"github.com/shopbook/ledger/internal/models"
)

// DriftChecker is the background consistency check: it compares each
// customer's rollups against the fold over that customer's bills and
// repairs mismatches via a full recompute. Drift is logged and counted,
// never surfaced to user-facing operations.
type DriftChecker struct {
	processor *Processor
	interval  time.Duration
}

// NewDriftChecker creates a checker that scans every interval.
func NewDriftChecker(processor *Processor, interval time.Duration) *DriftChecker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DriftChecker{processor: processor, interval: interval}
}

// RunForever scans on a ticker until the context is cancelled.
func (d *DriftChecker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("drift check run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce scans all customers and repairs any drifted rollups. Returns
// the first scan error; individual repair failures are logged and do
// not stop the sweep.
func (d *DriftChecker) RunOnce(ctx context.Context) error {
	customers, err := d.processor.store.ListCustomers(ctx)
	if err != nil {
		return err
	}

	for _, customer := range customers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.checkCustomer(ctx, customer); err != nil {
			slog.Warn("drift repair failed", "customer_id", customer.ID, "error", err)
		}
	}
	return nil
}

func (d *DriftChecker) checkCustomer(ctx context.Context, customer *models.Customer) error {
	bills, err := d.processor.store.ListBillsByCustomer(ctx, customer.ID)
	if err != nil {
		return err
	}

	var sumRemaining models.Money
	for _, bill := range bills {
		sumRemaining += bill.Remaining
	}
	if customer.Outstanding() == sumRemaining {
		return nil
	}

	metrics.DriftDetected.Inc()
	slog.Error("aggregate drift detected",
		"customer_id", customer.ID,
		"total_credit", customer.TotalCredit,
		"total_paid", customer.TotalPaid,
		"sum_remaining", sumRemaining,
	)

	if _, err := d.processor.RecomputeCustomer(ctx, customer.ID); err != nil {
		return err
	}
	metrics.DriftRepaired.Inc()
	slog.Info("customer rollups repaired", "customer_id", customer.ID)
	return nil
}
