package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvschema/internal/core"
)

// createTableRequest is the body of POST /api/tables/create.
type createTableRequest struct {
	TableName string          `json:"table_name"`
	Columns   []columnRequest `json:"columns"`
}

// columnRequest describes one column. Omitted nullable means true and
// omitted unique means false.
type columnRequest struct {
	Name      string          `json:"name"`
	Type      core.ColumnType `json:"type"`
	Nullable  *bool           `json:"nullable"`
	Unique    *bool           `json:"unique"`
	MaxLength *int            `json:"max_length"`
}

func (c columnRequest) column() core.Column {
	col := core.Column{
		Name:      c.Name,
		Type:      c.Type,
		Nullable:  true,
		MaxLength: c.MaxLength,
	}
	if c.Nullable != nil {
		col.Nullable = *c.Nullable
	}
	if c.Unique != nil {
		col.Unique = *c.Unique
	}
	return col
}

// handleCreateTable registers a new table.
func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	cols := make([]core.Column, len(req.Columns))
	for i, c := range req.Columns {
		cols[i] = c.column()
	}

	schema, err := s.service.CreateTable(r.Context(), req.TableName, cols)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, schema)
}

// handleListTables returns table names in creation order.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.ListTables(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// handleGetSchema returns one table definition.
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.service.GetSchema(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// handleDropTable removes a table and all of its rows.
func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DropTable(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleImportHistory lists recent imports, optionally for one table.
func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", core.DefaultHistoryLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	records, err := s.service.History(r.Context(), r.URL.Query().Get("table"), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
