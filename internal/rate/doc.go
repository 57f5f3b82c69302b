// Package rate implements the trust-tiered request limiter.
//
// # Window semantics
//
// Every request costs one increment on exactly two fixed-window counters, performed in
// one atomic store call: a global per-IP counter and a target counter for the user,
// device or anonymous IP. Keys:
//
//	rl:[<scope>:]ip:<ip>
//	rl:[<scope>:]user:<id> | rl:[<scope>:]did:<id> | rl:[<scope>:]ip:<ip>:anon
//
// Blocked IPs are denied before anything is counted.
//
// # What this package must NOT do
//
//   - Talk to Redis directly. All state goes through kv.Store.
//   - Produce HTTP responses. The middleware owns status codes and headers.
package rate
