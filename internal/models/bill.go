package models

// BillStatus is the lifecycle state of a bill. It is always derived
// from the bill's monetary state (Remaining <= 0 means closed), never
// set directly.
type BillStatus string

const (
	BillStatusOpen   BillStatus = "OPEN"
	BillStatusClosed BillStatus = "CLOSED"
)

// Bill represents a per-transaction invoice for a customer.
//
// PreviousBalance is the customer's outstanding balance frozen at
// bill-open time and is immutable afterwards. Every other derived field
// (ItemsTotal, GrandTotal, TotalPaid, Remaining, Status) is recomputed
// by the aggregator on each mutation:
//
//	GrandTotal = PreviousBalance + ItemsTotal
//	Remaining  = GrandTotal - TotalPaid
//	Status     = CLOSED exactly when Remaining <= 0
type Bill struct {
	// ID is the unique identifier for the bill (UUID format).
	ID string `json:"id"`

	// CustomerID is the owning customer. A bill belongs to exactly one
	// customer for its whole lifetime.
	CustomerID string `json:"customer_id"`

	// PreviousBalance is the customer's outstanding balance at creation.
	// Frozen; never recomputed.
	PreviousBalance Money `json:"previous_balance"`

	// ItemsTotal is the sum of item totals.
	ItemsTotal Money `json:"items_total"`

	// GrandTotal is PreviousBalance + ItemsTotal.
	GrandTotal Money `json:"grand_total"`

	// TotalPaid is the sum of payment amounts applied to this bill.
	TotalPaid Money `json:"total_paid"`

	// Remaining is GrandTotal - TotalPaid. Overpayment drives it
	// negative; the bill stays closed while it is <= 0.
	Remaining Money `json:"remaining"`

	// Status is derived from Remaining. See BillStatus.
	Status BillStatus `json:"status"`

	// Rev is the optimistic-concurrency revision counter.
	Rev int64 `json:"rev"`

	// CreatedAt is the Unix timestamp when the bill was created.
	CreatedAt int64 `json:"created_at"`

	// Items are the line items on the bill.
	Items []BillItem `json:"items"`

	// Payments is the append-only payment history, in commit order.
	// Entries are never edited or removed; corrections are compensating
	// reversal entries.
	Payments []BillPayment `json:"payments"`
}

// BillItem is a single line item on a bill.
type BillItem struct {
	// ID is the unique identifier for the item (UUID format).
	ID string `json:"id"`

	// Name describes the item ("Rice 5kg", "Soap").
	Name string `json:"name"`

	// Qty is the quantity sold. Always positive.
	Qty int64 `json:"qty"`

	// Rate is the per-unit price in minor units.
	Rate Money `json:"rate"`

	// Discount is an absolute discount on the line, in minor units.
	Discount Money `json:"discount"`

	// Total is Qty*Rate - Discount. Recomputed by the engine; caller
	// supplied values are ignored.
	Total Money `json:"total"`
}

// BillPayment is one payment entry on a bill. Payments are append-only:
// a committed payment is never mutated or deleted.
type BillPayment struct {
	// ID is the unique identifier for the payment (UUID format). A
	// caller may supply its own ID to make retries idempotent; replays
	// of an already-committed ID are no-ops.
	ID string `json:"id"`

	// Amount is the paid amount in minor units. Strictly positive
	// unless Reversal is set, in which case it is strictly negative.
	Amount Money `json:"amount"`

	// Method is how the payment was made ("cash", "upi", ...).
	Method string `json:"method,omitempty"`

	// Reversal marks a compensating entry for a refund or correction.
	Reversal bool `json:"reversal,omitempty"`

	// CreatedAt is the Unix timestamp when the payment was recorded.
	CreatedAt int64 `json:"created_at"`
}
