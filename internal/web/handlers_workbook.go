package web

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheets/internal/core"
)

// handleImportWorkbook stores an uploaded .xlsx file (form field "file") as
// a new spreadsheet. The optional "name" field overrides the file name.
func (s *Server) handleImportWorkbook(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Server.MaxImportSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: file too large or invalid form: %v", core.ErrInvalidRequest, err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: no file provided", core.ErrInvalidRequest), http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	detail, err := s.service.ImportWorkbook(r.Context(), name, file)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// handleExportWorkbook downloads a spreadsheet as .xlsx. The workbook is
// built in memory so a failure can still be reported as JSON.
func (s *Server) handleExportWorkbook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.service.GetSpreadsheet(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	var buf bytes.Buffer
	if err := s.service.ExportWorkbook(r.Context(), id, &buf); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(detail.Name)))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	_, _ = buf.WriteTo(w)
}

// exportFilename makes a spreadsheet name safe for Content-Disposition.
func exportFilename(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\' || r == '/' || r < 0x20 || r > 0x7e:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if clean == "" {
		clean = "spreadsheet"
	}
	return clean + ".xlsx"
}
