// Package trustguard is the session and request-trust layer of a campus discount
// platform.
//
// An [Engine] keeps one rotating refresh session per (device, account) pair, so several
// accounts can be logged in on one device and the user can switch between them. Refresh
// tokens are single-use: a replayed token wipes every session on its device.
//
// The same engine classifies each request into a [TrustTier] from its bearer token and
// device evidence, applies per-tier rate ceilings, tracks per-IP risk, and charges a daily
// quota of expensive queries to limited schools.
//
// # Architecture boundaries
//
// The root package is the public surface: [Engine], [Builder], [Config] and value types.
// Flow orchestration, limiter arithmetic, risk state and audit dispatch live under
// internal/. Storage backends are pluggable through session.Store and kv.Store.
//
// # What this package must NOT do
//
//   - Expose Redis clients or store keys in its public API.
//   - Persist raw refresh tokens. Only argon2id digests are stored.
//   - Import middleware or any package that imports trustguard.
package trustguard
