package core

import "context"

type contextKey string

const ctxKeyClientID contextKey = "client_id"

// ContextWithClientID tags ctx with the id of the client making an edit, so
// the edit is not echoed back to that client.
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ctxKeyClientID, clientID)
}

// ClientIDFromContext extracts the client id, or "" when none was set.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientID).(string); ok {
		return v
	}
	return ""
}
