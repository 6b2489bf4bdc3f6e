package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type orgContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It lands in session
// device metadata and audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the caller's User-Agent string to ctx for session
// device metadata.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithOrg attaches an organization id to ctx. Org-scoped authorization
// calls fall back to it when given an empty org argument; an explicit
// argument always wins.
func WithOrg(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, orgContextKey{}, org)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}

func orgFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	org, _ := ctx.Value(orgContextKey{}).(string)
	return org, org != ""
}
