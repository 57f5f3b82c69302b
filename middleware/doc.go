// Package middleware adapts the trustguard engine to net/http.
//
// # Chain
//
// Routes compose an explicit chain at registration time:
//
//	middleware.Chain(
//		middleware.Trust(engine, middleware.TrustOptions{}),
//		middleware.RiskRecorder(engine),
//		middleware.RateLimit(engine, trustguard.Overrides{IsolateScope: "auth"}),
//	)(handler)
//
//   - [Trust] classifies the request once and stores the result in the context.
//   - [RateLimit] enforces the tier ceilings and active IP blocks.
//   - [RiskRecorder] feeds the response status into the caller's risk score.
//   - [Guard] rejects anything below the authenticated tier.
//   - [SchoolQuota] charges expensive queries to a limited school.
//
// Denials are written as {"error": code, "message": text} with the status from
// trustguard.HTTPStatus.
//
// # What this package must NOT do
//
//   - Parse or sign tokens itself (the engine does).
//   - Access Redis directly.
package middleware
