// Package bank implements the transaction protocol of the gateway.
//
// Core flow:
//   - Execute appends an audit entry, applies the signed delta to the balance
//     read from the versioned store, and commits it with a conditional write.
//   - Any failure after the append triggers a compensating delete of the
//     audit entry, so committed movements and audit rows stay one-to-one.
//   - Committed transactions emit a best-effort notification that never
//     affects the caller's result.
//
// Balance math runs on decimal values. Optimistic concurrency relies on the
// store's version marker; there are no per-account locks and no retries.
package bank
