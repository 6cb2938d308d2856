package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvschema/internal/core"
)

// handleImport accepts a multipart upload with fields file, table_name and
// an optional columns_mapping JSON object. dryRun validates without writing.
func (s *Server) handleImport(format core.FileFormat, dryRun bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Allow room for the other form fields on top of the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+maxJSONBodySize)

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				s.respondError(w, r, errFileTooLarge)
				return
			}
			s.respondError(w, r, badRequest("Request is not a valid multipart form", "Send the file as multipart/form-data"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		table := strings.TrimSpace(r.FormValue("table_name"))
		if table == "" {
			s.respondError(w, r, badRequest("table_name is required", "Add a table_name form field"))
			return
		}

		mapping, err := parseMapping(r.FormValue("columns_mapping"))
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			s.respondError(w, r, errNoFile)
			return
		}
		defer file.Close()

		if header.Size > s.cfg.Import.MaxFileSize {
			s.respondError(w, r, errFileTooLarge)
			return
		}

		req := core.ImportRequest{
			Table:    table,
			FileName: header.Filename,
			Mapping:  mapping,
			Content:  file,
			Size:     header.Size,
			DryRun:   dryRun,
		}

		var result *core.ImportResult
		switch format {
		case core.FormatXLSX:
			result, err = s.service.ImportXLSX(r.Context(), req)
		default:
			result, err = s.service.ImportCSV(r.Context(), req)
		}
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// parseMapping decodes columns_mapping. An empty value selects the identity
// mapping.
func parseMapping(raw string) (core.ColumnMapping, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var mapping core.ColumnMapping
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil || mapping == nil {
		return nil, badRequest(
			"columns_mapping must be a JSON object of file header to column name",
			`Send columns_mapping like {"Email Address": "email"}`)
	}
	return mapping, nil
}
