// Package models defines the core domain models for the shop ledger.
//
// # Models
//
//   - Customer: a shop customer with two denormalized rollups
//     (TotalCredit, TotalPaid) maintained by the ledger processor
//   - Bill: a per-transaction invoice owned by exactly one customer,
//     carrying its own item and payment sub-ledger
//   - BillItem: a line item on a bill
//   - BillPayment: an append-only payment entry on a bill
//
// # Money
//
// All monetary amounts are fixed-point integers in minor currency units
// (the Money type). Floating-point representations exist only at the
// presentation boundary, never inside the engine.
//
// # Ownership
//
// A customer owns many bills; a bill owns many items and payments.
// Sub-entities are
// lifetime-bound to their parent. Customers are never deleted while
// bills reference them.
//
// # Revisions
//
// Customer and Bill carry a Rev counter used by the store for optimistic
// concurrency: every committed write bumps the revision, and writes are
// conditioned on the revision the writer read. Models themselves hold no
// locking; all mutation goes through the ledger processor.
package models
