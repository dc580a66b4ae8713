package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and the request id, then
// returned to the client as a user-friendly message with a support code:
//
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, statusFor(err))
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error + context is logged with request ID for correlation
//  5. User message is rendered as JSON, or as plain text for page requests

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sheets/internal/core"
	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/store"
	"github.com/JonMunkholm/sheets/internal/xlsx"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var ferr *formula.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateName), errors.Is(err, store.ErrLastSheet):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidName),
		errors.Is(err, core.ErrInvalidCoordinate),
		errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, xlsx.ErrInvalidWorkbook):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &ferr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error server-side and returns the mapped
// user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	level := slog.LevelWarn
	if statusCode >= 500 {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if wantsJSON(r) {
		respondErrorJSON(w, err, userMsg, statusCode)
	} else {
		respondErrorHTML(w, userMsg, statusCode)
	}
}

// respondErrorJSON writes a JSON error response. Formula errors are shown to
// the user as-is; other technical messages stay in the log.
func respondErrorJSON(w http.ResponseWriter, err error, msg core.UserMessage, statusCode int) {
	detail := msg.Message
	var ferr *formula.Error
	if errors.As(err, &ferr) {
		detail = ferr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   detail,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// respondErrorHTML writes a plain error response.
func respondErrorHTML(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	http.Error(w, msg.Message+" ("+msg.Code+")", statusCode)
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}
