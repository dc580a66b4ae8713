package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheets/internal/core"
	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/store"
)

func (s *Server) handleGetSheet(w http.ResponseWriter, r *http.Request) {
	sheet, err := s.service.GetSheet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (s *Server) handleRenameSheet(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	sheet, err := s.service.RenameSheet(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (s *Server) handleDeleteSheet(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSheet(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCells(w http.ResponseWriter, r *http.Request) {
	cells, err := s.service.ListCells(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if cells == nil {
		cells = []store.Cell{}
	}
	writeJSON(w, http.StatusOK, cells)
}

// handleSetCell upserts one cell. A formula that fails to evaluate is still
// stored, with an error marker as its value, and the response is 200.
func (s *Server) handleSetCell(w http.ResponseWriter, r *http.Request) {
	var u core.CellUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	res, err := s.service.SetCell(withClientID(r), chi.URLParam(r, "id"), u)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if res.Recalculated == nil {
		res.Recalculated = []formula.CellView{}
	}
	writeJSON(w, http.StatusOK, res)
}

type batchRequest struct {
	Updates []core.CellUpdate `json:"updates"`
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	res, err := s.service.BatchUpdate(withClientID(r), chi.URLParam(r, "id"), req.Updates)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if res.Cells == nil {
		res.Cells = []store.Cell{}
	}
	writeJSON(w, http.StatusOK, res)
}

type evaluateRequest struct {
	Formula string `json:"formula"`
}

type evaluateResponse struct {
	Value string `json:"value"`
}

// handleEvaluate previews a formula against the sheet without storing it.
// Formula failures are returned as 422 with the failure message.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	value, err := s.service.EvaluatePreview(r.Context(), chi.URLParam(r, "id"), req.Formula)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{Value: value})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.RecalculateSheet(withClientID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if res.Updated == nil {
		res.Updated = []formula.CellView{}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDependents lists formula cells that reference ?cell=A1.
func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	cell := r.URL.Query().Get("cell")
	if cell == "" {
		s.respondError(w, r, fmt.Errorf("%w: cell parameter is required", core.ErrInvalidRequest), http.StatusBadRequest)
		return
	}
	deps, err := s.service.Dependents(r.Context(), chi.URLParam(r, "id"), cell)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, formula.ErrInvalidReference) {
			status = http.StatusBadRequest
		}
		s.respondError(w, r, err, status)
		return
	}
	if deps == nil {
		deps = []formula.CellView{}
	}
	writeJSON(w, http.StatusOK, deps)
}
