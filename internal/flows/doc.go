// Package flows contains the session state machine as plain functions.
//
// Each Run* function takes its inputs plus a dependency struct and returns a result
// carrying a failure kind, so the root engine can map failures to its public errors,
// metrics and audit events. Flows hold no state between calls.
//
// # Rotation
//
// A refresh token is single-use. Rotation verifies the presented token against the
// stored digest, then swaps in the new digest with a compare-and-swap on the old one.
// A digest mismatch means a superseded token was replayed: every session on the device
// is deleted before the failure is reported. Losing the compare-and-swap to a
// concurrent rotation is reported as a conflict and deletes nothing.
//
// # What this package must NOT do
//
//   - Import the root package.
//   - Talk to a backend except through the session.Store and closures in its deps.
package flows
