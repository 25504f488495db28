package identity

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type contextKey struct{}

// Caller is the authenticated identity supplied by the upstream
// auth layer. System callers act on behalf of the engine itself.
type Caller struct {
	UserID snowflake.ID
	System bool
}

func (c Caller) IsZero() bool { return c.UserID == 0 && !c.System }

// WithCaller attaches the caller identity to the context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, caller)
}

// CallerFromContext extracts the caller identity, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(contextKey{}).(Caller)
	if !ok || caller.IsZero() {
		return Caller{}, false
	}
	return caller, true
}
