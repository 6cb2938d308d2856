package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvschema/internal/core"
	"github.com/JonMunkholm/csvschema/internal/logging"
)

// handleTableData returns one page of rows in insertion order.
func (s *Server) handleTableData(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", core.DefaultPageLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	page, err := s.service.Page(r.Context(), chi.URLParam(r, "name"), limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleExport streams the whole table as a CSV or XLSX download.
func (s *Server) handleExport(format core.FileFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		export := s.service.ExportCSV
		contentType := "text/csv; charset=utf-8"
		ext := "csv"
		if format == core.FormatXLSX {
			export = s.service.ExportXLSX
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
			ext = "xlsx"
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set("Content-Type", contentType)
		ww.Header().Set("Content-Disposition", attachmentName(name, ext))

		if err := export(r.Context(), name, ww); err != nil {
			if ww.BytesWritten() == 0 {
				w.Header().Del("Content-Disposition")
				s.respondError(w, r, err)
				return
			}
			// Headers are already sent; the client sees a truncated file.
			logging.FromContext(r.Context()).Error("export interrupted",
				"table", name, "format", format, "bytes", ww.BytesWritten(), "error", err)
		}
	}
}
