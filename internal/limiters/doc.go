// Package limiters holds counters with domain-specific keys and windows, built on
// kv.Store.
//
//   - [SchoolQuota]: a daily budget of expensive queries per school, keyed by UTC date.
//   - [LoginFailures]: failed credential attempts per identifier.
//
// Limiters count and report. Callers decide what a denial means for the response.
package limiters
