package models

// Customer represents a shop customer and their ledger rollups.
//
// TotalCredit and TotalPaid are denormalized folds over all of this
// customer's bills (sum of GrandTotal and sum of TotalPaid respectively).
// They are updated by delta in the same atomic commit as the bill that
// changed, never hand-edited. The invariant
//
//	TotalCredit - TotalPaid == sum of Remaining over all bills
//
// holds in every committed state; the drift checker repairs it if an
// out-of-band write ever breaks it.
type Customer struct {
	// ID is the unique identifier for the customer (UUID format).
	ID string `json:"id"`

	// Name is the display name of the customer.
	Name string `json:"name"`

	// Phone is an optional contact number.
	Phone string `json:"phone,omitempty"`

	// TotalCredit is the sum of GrandTotal across all bills.
	TotalCredit Money `json:"total_credit"`

	// TotalPaid is the sum of TotalPaid across all bills.
	TotalPaid Money `json:"total_paid"`

	// Rev is the optimistic-concurrency revision counter.
	Rev int64 `json:"rev"`

	// CreatedAt is the Unix timestamp when the customer was created.
	CreatedAt int64 `json:"created_at"`
}

// Outstanding is the customer's current outstanding balance. This is
// the value frozen into a new bill's PreviousBalance at bill-open time.
func (c *Customer) Outstanding() Money {
	return c.TotalCredit - c.TotalPaid
}
