// Package aggregator computes a bill's derived totals and lifecycle
// status from its immutable previous balance, line items, and payment
// history.
//
// Everything here is a pure function: no I/O, no clock, no shared
// state. The ledger processor calls Recompute on every mutation and
// relies on it being idempotent for safe retries.
package aggregator

import "github.com/shopbook/ledger/internal/models"

// Totals is the derived monetary state of a bill.
type Totals struct {
	ItemsTotal models.Money
	GrandTotal models.Money
	TotalPaid  models.Money
	Remaining  models.Money
	Status     models.BillStatus
}

// ItemTotal computes a single line's contribution: qty*rate - discount.
func ItemTotal(item models.BillItem) models.Money {
	return models.Money(item.Qty)*item.Rate - item.Discount
}

// Recompute folds a bill's items and payments into its derived totals.
//
//	itemsTotal = sum of item totals
//	grandTotal = previousBalance + itemsTotal
//	totalPaid  = sum of payment amounts (reversals are negative entries)
//	remaining  = grandTotal - totalPaid
//	status     = CLOSED exactly when remaining <= 0
//
// The fold is order-independent over payments and items, so two
// concurrent mutations that both eventually commit produce the same
// totals regardless of commit order.
func Recompute(previousBalance models.Money, items []models.BillItem, payments []models.BillPayment) Totals {
	var itemsTotal models.Money
	for _, item := range items {
		itemsTotal += ItemTotal(item)
	}

	var totalPaid models.Money
	for _, p := range payments {
		totalPaid += p.Amount
	}

	grandTotal := previousBalance + itemsTotal
	remaining := grandTotal - totalPaid

	return Totals{
		ItemsTotal: itemsTotal,
		GrandTotal: grandTotal,
		TotalPaid:  totalPaid,
		Remaining:  remaining,
		Status:     statusFor(remaining),
	}
}

// Apply writes freshly computed totals onto the bill. The item totals
// are normalized first so a caller-supplied Total can never disagree
// with qty*rate - discount.
func Apply(bill *models.Bill) Totals {
	for i := range bill.Items {
		bill.Items[i].Total = ItemTotal(bill.Items[i])
	}
	totals := Recompute(bill.PreviousBalance, bill.Items, bill.Payments)
	bill.ItemsTotal = totals.ItemsTotal
	bill.GrandTotal = totals.GrandTotal
	bill.TotalPaid = totals.TotalPaid
	bill.Remaining = totals.Remaining
	bill.Status = totals.Status
	return totals
}

func statusFor(remaining models.Money) models.BillStatus {
	if remaining <= 0 {
		return models.BillStatusClosed
	}
	return models.BillStatusOpen
}
