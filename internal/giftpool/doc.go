// Package giftpool provides the group-gift campaign aggregate and its
// supporting types.
//
// A campaign pools contributions from independent buyers toward a single
// registry item. Contributions are first-class ledger records owned by their
// campaign; the campaign's current amount is a cached projection of the
// confirmed contribution sum and is never mutated independently.
//
// # Campaign lifecycle
//
// Campaigns move forward through open -> funded -> closed when the target is
// reached, or open -> expired -> refunding -> closed when the deadline passes
// first. Funded and expired are mutually exclusive: once a campaign is
// funded the expiry path is never evaluated for it again.
//
// # Contribution lifecycle
//
// A contribution is created pending, becomes confirmed when payment capture
// succeeds, void when it fails, refund-pending when a refund instruction has
// been handed to the payment system, and refunded when that refund completes.
// Only confirmed contributions count toward the campaign total.
package giftpool
