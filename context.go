package trustguard

import "context"

type clientIPContextKey struct{}
type trustContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx for audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTrust attaches a classification to ctx. The trust middleware does this once
// per request.
func WithTrust(ctx context.Context, res TrustResult) context.Context {
	return context.WithValue(ctx, trustContextKey{}, res)
}

// TrustFromContext returns the classification stored by [WithTrust].
func TrustFromContext(ctx context.Context) (TrustResult, bool) {
	if ctx == nil {
		return TrustResult{}, false
	}
	res, ok := ctx.Value(trustContextKey{}).(TrustResult)
	return res, ok
}

// ClientIPFromContext returns the IP stored by [WithClientIP].
func ClientIPFromContext(ctx context.Context) string {
	return clientIPFromContext(ctx)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
