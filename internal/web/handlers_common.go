// Package web provides HTTP handlers for the import API.
// This file contains shared utilities and helper functions used across handlers.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxJSONBodySize bounds JSON request bodies such as table definitions.
const maxJSONBodySize = 1 << 20

// multipartMemory is how much of a multipart form is buffered in memory;
// larger files spill to temporary files.
const multipartMemory = 32 << 20

// parseIntParam parses an optional integer query parameter. A missing value
// returns defaultVal; a malformed one is a request error.
func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	val := strings.TrimSpace(r.URL.Query().Get(name))
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, badRequest(
			fmt.Sprintf("Query parameter %s must be an integer", name),
			fmt.Sprintf("Pass %s as a whole number, for example %s=100", name, name))
	}
	return i, nil
}

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return badRequest("Request body is too large", "Send a smaller table definition")
		}
		if errors.Is(err, io.EOF) {
			return badRequest("Request body is empty", "Send a JSON table definition")
		}
		return badRequest("Request body is not valid JSON: "+err.Error(), "Check the JSON syntax and field types")
	}
	return nil
}
