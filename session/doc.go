// Package session persists one [AuthSession] per (device, account) pair.
//
// A session row holds the digest of the only refresh token currently valid for the
// pair. [Store.Rotate] replaces it with a compare-and-swap on that digest, so two
// callers presenting the same token cannot both win.
//
// # Backends
//
// [RedisStore] keeps each session in a Redis hash with per-device and per-account index
// sets; all mutations are Lua scripts. The pgstore sub-package keeps sessions in
// Postgres.
//
// # What this package must NOT do
//
//   - Verify tokens or compare plaintext secrets. It stores digests and compares them
//     byte for byte.
//   - Import the root package (no upward imports).
package session
