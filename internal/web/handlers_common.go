package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/JonMunkholm/sheets/internal/core"
)

// maxJSONBody caps JSON request bodies (1MB).
const maxJSONBody = 1 << 20

// nameRequest is the body of create and rename requests.
type nameRequest struct {
	Name string `json:"name"`
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	return nil
}

// handleHealth reports store connectivity and import capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"imports": s.service.ImportStatus(),
	}
	if err := s.service.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["error"] = core.MapError(err).Message
	}
	writeJSON(w, status, body)
}
