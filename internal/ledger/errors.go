package ledger

import "errors"

var (
	// ErrInvalidPayment rejects a payment whose amount is zero, negative
	// without the reversal flag, or non-negative with it. Checked before
	// any write.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrInvalidItem rejects a line item with a non-positive quantity,
	// a negative rate, or a discount outside [0, qty*rate].
	ErrInvalidItem = errors.New("invalid item")

	// ErrNotFound means the referenced bill or customer does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyExhausted means the optimistic retry bound was hit.
	// The operation had no effect; the caller may retry it later.
	ErrConcurrencyExhausted = errors.New("concurrent update retries exhausted")
)
