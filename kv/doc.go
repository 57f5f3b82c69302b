// Package kv provides the shared key-value primitives that every cross-request
// decision in trustguard is coordinated through.
//
// # Atomicity
//
// Every mutating operation is a single atomic step against the backing store. For
// Redis this means one Lua script per call: "increment, then arm the TTL if this
// increment created the key" runs server-side, so two concurrent first hits can never
// both believe they are first.
//
// # Window semantics
//
// [Store.IncrementWithExpiry] and [Store.AddToSetWithExpiry] are fixed-window: the TTL
// is armed once, on creation, and later writes inside the window never re-arm it.
// [Store.IncrementBySliding] re-arms the TTL on every add and is used for risk scores.
//
// # What this package must NOT do
//
//   - Interpret keys (naming belongs to the limiter and risk packages).
//   - Hold cross-request state in process memory, except in [MemoryStore], which exists
//     for tests and single-process tools.
package kv
