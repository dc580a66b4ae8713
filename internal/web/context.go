package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/sheets/internal/core"
)

// clientIDHeader names the editing client so its own edits are not echoed
// back on its event stream.
const clientIDHeader = "X-Client-ID"

// clientID returns the client id from the header, falling back to the
// client_id query parameter used by EventSource.
func clientID(r *http.Request) string {
	if id := r.Header.Get(clientIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("client_id")
}

// withClientID tags the request context with the caller's client id.
func withClientID(r *http.Request) context.Context {
	id := clientID(r)
	if id == "" {
		return r.Context()
	}
	return core.ContextWithClientID(r.Context(), id)
}
