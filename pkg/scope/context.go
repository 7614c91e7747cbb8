package scope

import (
	"context"
)

type contextKey int

const ownerKey contextKey = iota

// UnknownOwner is used when a private write arrives without an identifiable agent.
const UnknownOwner = "unknown_agent"

// ContextWithOwner attaches the requesting agent identity to ctx.
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext returns the agent identity carried by ctx.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok && owner != ""
}
