// Package internal holds the engine's private building blocks.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: session state machine as plain functions
//   - limiters: login failure throttle and the school expensive-query quota
//   - rate: tier-aware dual-key window limiter
//   - risk: per-IP error score, enumeration detection and blocks
//   - trust: request evidence to trust tier
//   - security: posture report
//   - db: Postgres pool and embedded migrations
//   - config, server: trustguardd wiring
//
// # What this package must NOT do
//
//   - Export types that appear in the public trustguard API.
//   - Be imported by any package outside the trustguard module.
package internal
