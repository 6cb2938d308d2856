package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/csvschema/internal/config"
	"github.com/JonMunkholm/csvschema/internal/core"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second, ShutdownTimeout: time.Second},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Timeout:       time.Minute,
		},
		Security: config.SecurityConfig{AllowedOrigins: []string{"*"}},
		Logging:  config.LoggingConfig{Level: "info", Format: "text"},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type testServer struct {
	t   *testing.T
	srv *Server
	svc *core.Service
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	svc := core.NewService(core.Options{
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		MaxImportWait:        cfg.Import.MaxWaitTime,
		ImportTimeout:        cfg.Import.Timeout,
	})
	srv := NewServer(svc, cfg, opts...)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{t: t, srv: srv, svc: svc}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	return ts.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (ts *testServer) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

// upload posts a multipart form. Empty fields are left out.
func (ts *testServer) upload(path, table, mapping, fileName string, content []byte) *httptest.ResponseRecorder {
	ts.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if table != "" {
		require.NoError(ts.t, mw.WriteField("table_name", table))
	}
	if mapping != "" {
		require.NoError(ts.t, mw.WriteField("columns_mapping", mapping))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(ts.t, err)
		_, err = fw.Write(content)
		require.NoError(ts.t, err)
	}
	require.NoError(ts.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(req)
}

func (ts *testServer) createUsers() {
	ts.t.Helper()
	rec := ts.postJSON("/api/tables/create", `{
		"table_name": "users",
		"columns": [
			{"name": "id", "type": "integer", "nullable": false, "unique": true},
			{"name": "email", "type": "varchar", "max_length": 255, "nullable": false}
		]
	}`)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, code, resp.Code)
	assert.NotEmpty(t, resp.Message)
	return resp
}

func TestCreateTable(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.postJSON("/api/tables/create", `{
		"table_name": "products",
		"columns": [
			{"name": "sku", "type": "varchar", "max_length": 20, "nullable": false, "unique": true},
			{"name": "price", "type": "decimal"}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	schema := decode[core.TableSchema](t, rec)
	require.Len(t, schema.Columns, 2)
	assert.False(t, schema.Columns[0].Nullable)
	assert.True(t, schema.Columns[0].Unique)
	assert.True(t, schema.Columns[1].Nullable, "nullable defaults to true")
	assert.False(t, schema.Columns[1].Unique, "unique defaults to false")
}

func TestCreateTable_Errors(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{
			name:   "duplicate name",
			body:   `{"table_name":"users","columns":[{"name":"x","type":"text"}]}`,
			status: http.StatusConflict,
			code:   "SCH002",
		},
		{
			name:   "bad identifier",
			body:   `{"table_name":"1users","columns":[{"name":"x","type":"text"}]}`,
			status: http.StatusBadRequest,
			code:   "SCH001",
		},
		{
			name:   "varchar without max_length",
			body:   `{"table_name":"t","columns":[{"name":"x","type":"varchar"}]}`,
			status: http.StatusBadRequest,
			code:   "SCH001",
		},
		{
			name:   "unknown type",
			body:   `{"table_name":"t","columns":[{"name":"x","type":"money"}]}`,
			status: http.StatusBadRequest,
			code:   "SCH001",
		},
		{
			name:   "malformed JSON",
			body:   `{"table_name":`,
			status: http.StatusBadRequest,
			code:   "REQ001",
		},
		{
			name:   "empty body",
			body:   ``,
			status: http.StatusBadRequest,
			code:   "REQ001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireErrorCode(t, ts.postJSON("/api/tables/create", tt.body), tt.status, tt.code)
		})
	}
}

func TestTableLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()
	ts.postJSON("/api/tables/create", `{"table_name":"orders","columns":[{"name":"n","type":"integer"}]}`)

	rec := ts.get("/api/tables/list")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"users", "orders"}, decode[[]string](t, rec))

	rec = ts.get("/api/tables/users")
	require.Equal(t, http.StatusOK, rec.Code)
	schema := decode[core.TableSchema](t, rec)
	assert.Equal(t, "users", schema.Name)
	assert.Equal(t, []string{"id", "email"}, schema.ColumnNames())

	requireErrorCode(t, ts.get("/api/tables/ghost"), http.StatusNotFound, "TBL001")

	rec = ts.do(httptest.NewRequest(http.MethodDelete, "/api/tables/users", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "deleted"}, decode[map[string]string](t, rec))

	requireErrorCode(t, ts.get("/api/tables/users"), http.StatusNotFound, "TBL001")
	requireErrorCode(t, ts.do(httptest.NewRequest(http.MethodDelete, "/api/tables/users", nil)), http.StatusNotFound, "TBL001")

	assert.Equal(t, []string{"orders"}, decode[[]string](t, ts.get("/api/tables/list")))
}

func TestImportCSV(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()

	rec := ts.upload("/api/tables/import-csv", "users", `{"id":"id","email":"email"}`, "users.csv",
		[]byte("id,email\n1,a@x.com\nfoo,b@x.com\n1,c@x.com"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[core.ImportResult](t, rec)
	assert.Equal(t, 1, res.RowsImported)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Equal(t, "not a valid integer", res.Errors[0].Reason)
	assert.Equal(t, 3, res.Errors[1].Row)
	assert.Equal(t, "duplicate value for unique column id", res.Errors[1].Reason)
	assert.False(t, res.Success)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	first := raw["errors"].([]any)[0].(map[string]any)
	assert.Contains(t, first, "suggested_fix")
	assert.Equal(t, "not a valid integer", first["error"])

	page := decode[map[string]any](t, ts.get("/api/tables/users/data"))
	assert.EqualValues(t, 1, page["total"])
}

func TestImportCSV_RenameMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()

	rec := ts.upload("/api/tables/import-csv", "users", `{"User ID":"id","Email Address":"email"}`, "u.csv",
		[]byte("User ID,Email Address\n7,x@y.com\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[core.ImportResult](t, rec).RowsImported)
}

func TestImportCSV_RequestErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()
	csv := []byte("id,email\n1,a@x.com\n")

	t.Run("no file", func(t *testing.T) {
		requireErrorCode(t, ts.upload("/api/tables/import-csv", "users", "", "", nil), http.StatusBadRequest, "FILE004")
	})
	t.Run("no table name", func(t *testing.T) {
		requireErrorCode(t, ts.upload("/api/tables/import-csv", "", "", "u.csv", csv), http.StatusBadRequest, "REQ001")
	})
	t.Run("mapping not an object", func(t *testing.T) {
		requireErrorCode(t, ts.upload("/api/tables/import-csv", "users", `["id"]`, "u.csv", csv), http.StatusBadRequest, "REQ001")
	})
	t.Run("mapping targets unknown column", func(t *testing.T) {
		resp := requireErrorCode(t,
			ts.upload("/api/tables/import-csv", "users", `{"id":"id","email":"mail"}`, "u.csv", csv),
			http.StatusUnprocessableEntity, "MAP001")
		assert.Contains(t, resp.Message, "mail")
	})
	t.Run("unknown table", func(t *testing.T) {
		requireErrorCode(t, ts.upload("/api/tables/import-csv", "ghost", "", "u.csv", csv), http.StatusNotFound, "TBL001")
	})
	t.Run("malformed csv", func(t *testing.T) {
		requireErrorCode(t,
			ts.upload("/api/tables/import-csv", "users", "", "u.csv", []byte("id,email\n1,\"oops\n")),
			http.StatusBadRequest, "FILE002")
	})
	t.Run("empty file", func(t *testing.T) {
		requireErrorCode(t, ts.upload("/api/tables/import-csv", "users", "", "u.csv", []byte{}), http.StatusBadRequest, "FILE005")
	})
	t.Run("not multipart", func(t *testing.T) {
		requireErrorCode(t, ts.postJSON("/api/tables/import-csv", `{}`), http.StatusBadRequest, "REQ001")
	})
}

func TestImportCSV_FileTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 64
	ts := newTestServer(t, cfg)
	ts.createUsers()

	big := "id,email\n" + strings.Repeat("1,a@x.com\n", 20)
	requireErrorCode(t, ts.upload("/api/tables/import-csv", "users", "", "big.csv", []byte(big)),
		http.StatusRequestEntityTooLarge, "FILE001")

	page := decode[map[string]any](t, ts.get("/api/tables/users/data"))
	assert.EqualValues(t, 0, page["total"])
}

func TestPreviewCSV_DoesNotPersist(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()

	rec := ts.upload("/api/tables/preview-csv", "users", "", "u.csv", []byte("id,email\n1,a@x.com\n2,b@x.com\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.ImportResult](t, rec)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.RowsImported)

	page := decode[map[string]any](t, ts.get("/api/tables/users/data"))
	assert.EqualValues(t, 0, page["total"])

	history := decode[[]core.ImportRecord](t, ts.get("/api/tables/history/list"))
	assert.Empty(t, history)
}

func TestImportXLSX(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"id", "email"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{1, "a@x.com"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"x", "b@x.com"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rec := ts.upload("/api/tables/import-xlsx", "users", "", "users.xlsx", buf.Bytes())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.ImportResult](t, rec)
	assert.Equal(t, 1, res.RowsImported)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)

	requireErrorCode(t, ts.upload("/api/tables/import-xlsx", "users", "", "bad.xlsx", []byte("not a workbook")),
		http.StatusBadRequest, "FILE003")
}

func TestTableData_Pagination(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()

	var b strings.Builder
	b.WriteString("id,email\n")
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&b, "%d,u%d@x.com\n", i, i)
	}
	require.Equal(t, http.StatusOK, ts.upload("/api/tables/import-csv", "users", "", "u.csv", []byte(b.String())).Code)

	type page struct {
		Data   []map[string]any `json:"data"`
		Total  int64            `json:"total"`
		Limit  int              `json:"limit"`
		Offset int              `json:"offset"`
	}

	p := decode[page](t, ts.get("/api/tables/users/data?limit=10&offset=20"))
	assert.EqualValues(t, 25, p.Total)
	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, 20, p.Offset)
	require.Len(t, p.Data, 5)
	assert.EqualValues(t, 21, p.Data[0]["id"])
	assert.Equal(t, "u21@x.com", p.Data[0]["email"])

	p = decode[page](t, ts.get("/api/tables/users/data"))
	assert.Equal(t, core.DefaultPageLimit, p.Limit)
	assert.Len(t, p.Data, 25)

	p = decode[page](t, ts.get("/api/tables/users/data?limit=5000"))
	assert.Equal(t, core.MaxPageLimit, p.Limit)

	p = decode[page](t, ts.get("/api/tables/users/data?offset=100"))
	assert.NotNil(t, p.Data)
	assert.Empty(t, p.Data)

	requireErrorCode(t, ts.get("/api/tables/users/data?limit=ten"), http.StatusBadRequest, "REQ001")
	requireErrorCode(t, ts.get("/api/tables/ghost/data"), http.StatusNotFound, "TBL001")
}

func TestExportCSV(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()
	ts.upload("/api/tables/import-csv", "users", "", "u.csv", []byte("email,id\n\"a,b@x.com\",2\nc@x.com,1\n"))

	rec := ts.get("/api/tables/users/export")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="users.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "id,email\n2,\"a,b@x.com\"\n1,c@x.com\n", rec.Body.String())

	rec = ts.get("/api/tables/ghost/export")
	requireErrorCode(t, rec, http.StatusNotFound, "TBL001")
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
}

func TestExportXLSX(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()
	ts.upload("/api/tables/import-csv", "users", "", "u.csv", []byte("id,email\n1,a@x.com\n"))

	rec := ts.get("/api/tables/users/export.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="users.xlsx"`, rec.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "email"}, {"1", "a@x.com"}}, rows)
}

func TestImportHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createUsers()
	ts.postJSON("/api/tables/create", `{"table_name":"other","columns":[{"name":"n","type":"integer"}]}`)

	ts.upload("/api/tables/import-csv", "users", "", "first.csv", []byte("id,email\n1,a@x.com\n"))
	ts.upload("/api/tables/import-csv", "other", "", "other.csv", []byte("n\n1\n"))
	ts.upload("/api/tables/import-csv", "users", "", "second.csv", []byte("id,email\n1,dup@x.com\n"))

	all := decode[[]core.ImportRecord](t, ts.get("/api/tables/history/list"))
	require.Len(t, all, 3)

	users := decode[[]core.ImportRecord](t, ts.get("/api/tables/history/list?table=users"))
	require.Len(t, users, 2)
	assert.Equal(t, "second.csv", users[0].FileName)
	assert.Equal(t, core.StatusFailed, users[0].Status)
	assert.Equal(t, "first.csv", users[1].FileName)
	assert.Equal(t, core.StatusSuccess, users[1].Status)

	limited := decode[[]core.ImportRecord](t, ts.get("/api/tables/history/list?limit=1"))
	assert.Len(t, limited, 1)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	rec := newTestServer(t, nil).get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "imports")

	rec = newTestServer(t, nil, WithPinger(stubPinger{})).get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["storage"])

	rec = newTestServer(t, nil, WithPinger(stubPinger{err: errors.New("connection refused")})).get("/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[map[string]any](t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.get("/api/tables/list")

	rec := ts.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "csvschema_http_requests_total")
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	ts := newTestServer(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, ts.get("/api/tables/list").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tables/list", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)

	// Health stays open for probes.
	assert.Equal(t, http.StatusOK, ts.get("/health").Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, ImportLimit: 10, Burst: 2}
	clock := clockwork.NewFakeClock()
	ts := newTestServer(t, cfg, WithClock(clock))

	assert.Equal(t, http.StatusOK, ts.get("/api/tables/list").Code)
	assert.Equal(t, http.StatusOK, ts.get("/api/tables/list").Code)

	rec := ts.get("/api/tables/list")
	requireErrorCode(t, rec, http.StatusTooManyRequests, "RATE001")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, ts.get("/api/tables/list").Code)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/tables/list", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, http.StatusOK, ts.do(req).Code)
}

func TestRateLimiter_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := newRateLimiter(perMinute(60), 1, clock)

	ok, _ := rl.allow("1.1.1.1")
	require.True(t, ok)
	clock.Advance(visitorTTL / 2)
	rl.allow("2.2.2.2")

	clock.Advance(visitorTTL/2 + time.Second)
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "1.1.1.1")
	assert.Contains(t, rl.visitors, "2.2.2.2")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.SchemaError{Table: "t", Reason: "bad"}, http.StatusBadRequest},
		{&core.SchemaError{Table: "t", Reason: "exists", Err: core.ErrTableExists}, http.StatusConflict},
		{&core.NotFoundError{Table: "t"}, http.StatusNotFound},
		{&core.MappingError{Reason: "bad"}, http.StatusUnprocessableEntity},
		{&core.ParseError{Line: 2, Err: errors.New("bare quote")}, http.StatusBadRequest},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{fmt.Errorf("import: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errRateLimited, http.StatusTooManyRequests},
		{errFileTooLarge, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "statusFor(%v)", tt.err)
	}
}
