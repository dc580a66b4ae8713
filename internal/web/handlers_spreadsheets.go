package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheets/internal/store"
)

func (s *Server) handleListSpreadsheets(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListSpreadsheets(r.Context())
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if list == nil {
		list = []store.Spreadsheet{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateSpreadsheet(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	detail, err := s.service.CreateSpreadsheet(r.Context(), req.Name)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (s *Server) handleGetSpreadsheet(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetSpreadsheet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleRenameSpreadsheet(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	ss, err := s.service.RenameSpreadsheet(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ss)
}

func (s *Server) handleDeleteSpreadsheet(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSpreadsheet(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddSheet appends a sheet. An empty name picks the next SheetN.
func (s *Server) handleAddSheet(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	sheet, err := s.service.AddSheet(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, sheet)
}

type cursorRequest struct {
	SheetID string `json:"sheetId"`
	Row     int    `json:"row"`
	Col     int    `json:"column"`
}

// handleCursor relays the caller's cursor to the other collaborators.
func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	var req cursorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := s.service.MoveCursor(withClientID(r), chi.URLParam(r, "id"), req.SheetID, req.Row, req.Col); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
