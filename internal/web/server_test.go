package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheets/internal/config"
	"github.com/JonMunkholm/sheets/internal/core"
	"github.com/JonMunkholm/sheets/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RequestTimeout:       5 * time.Second,
			MaxImportSize:        1 << 20,
			MaxConcurrentImports: 1,
			ImportWait:           time.Second,
		},
		Engine:   config.EngineConfig{MaxRangeCells: 10000, MaxFormulaLength: 1024, BatchLimit: 5},
		Events:   config.EventsConfig{Buffer: 16, Heartbeat: time.Second},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

type testAPI struct {
	t      *testing.T
	server *Server
	svc    *core.Service
}

func newTestAPI(t *testing.T, cfg *config.Config) *testAPI {
	t.Helper()
	svc := core.NewService(store.NewMemory(), cfg)
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testAPI{t: t, server: srv, svc: svc}
}

func (a *testAPI) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) createSpreadsheet(name string) core.SpreadsheetDetail {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/spreadsheets", map[string]string{"name": name})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[core.SpreadsheetDetail](a.t, rec)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, testConfig())
	rec := api.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSpreadsheetLifecycle(t *testing.T) {
	api := newTestAPI(t, testConfig())
	detail := api.createSpreadsheet("Budget")
	require.Len(t, detail.Sheets, 1)
	assert.Equal(t, "Sheet1", detail.Sheets[0].Name)

	rec := api.do(http.MethodGet, "/api/spreadsheets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Spreadsheet](t, rec), 1)

	rec = api.do(http.MethodPatch, "/api/spreadsheets/"+detail.ID, map[string]string{"name": "Forecast"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Forecast", decode[store.Spreadsheet](t, rec).Name)

	rec = api.do(http.MethodPost, "/api/spreadsheets/"+detail.ID+"/sheets", map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Sheet2", decode[store.Sheet](t, rec).Name)

	rec = api.do(http.MethodDelete, "/api/spreadsheets/"+detail.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodGet, "/api/spreadsheets/"+detail.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SHT001", decode[ErrorResponse](t, rec).Code)
}

func TestSheetErrors(t *testing.T) {
	api := newTestAPI(t, testConfig())
	detail := api.createSpreadsheet("")
	sheetID := detail.Sheets[0].ID

	rec := api.do(http.MethodDelete, "/api/sheets/"+sheetID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SHT003", decode[ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodPatch, "/api/sheets/"+sheetID, map[string]string{"name": "A1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SHT004", decode[ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodPost, "/api/spreadsheets/"+detail.ID+"/sheets", map[string]string{"name": "Sheet1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/api/spreadsheets", map[string]any{"name": "x", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ005", decode[ErrorResponse](t, rec).Code)
}

func TestCellsAndFormulas(t *testing.T) {
	api := newTestAPI(t, testConfig())
	sheetID := api.createSpreadsheet("Calc").Sheets[0].ID
	cells := "/api/sheets/" + sheetID + "/cells"

	rec := api.do(http.MethodPut, cells, core.CellUpdate{Row: 1, Col: 1, Value: "10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPut, cells, core.CellUpdate{Row: 1, Col: 2, Value: "=A1*2"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[core.UpdateResult](t, rec)
	assert.Equal(t, "20", res.Cell.Value)
	assert.Equal(t, "=A1*2", res.Cell.Formula)

	rec = api.do(http.MethodPut, cells, core.CellUpdate{Row: 1, Col: 1, Value: "7"})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[core.UpdateResult](t, rec)
	require.Len(t, res.Recalculated, 1)
	assert.Equal(t, "14", res.Recalculated[0].Value)

	// A failing formula is stored with an error marker.
	rec = api.do(http.MethodPut, cells, core.CellUpdate{Row: 2, Col: 1, Formula: "=1/0"})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[core.UpdateResult](t, rec)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, strings.HasPrefix(res.Cell.Value, "#ERROR"), res.Cell.Value)

	rec = api.do(http.MethodPut, cells, core.CellUpdate{Row: 0, Col: 1, Value: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CEL001", decode[ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodGet, cells, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Cell](t, rec), 3)

	rec = api.do(http.MethodGet, "/api/sheets/missing/cells", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchEndpoint(t *testing.T) {
	api := newTestAPI(t, testConfig())
	sheetID := api.createSpreadsheet("Batch").Sheets[0].ID
	path := "/api/sheets/" + sheetID + "/cells/batch"

	rec := api.do(http.MethodPost, path, batchRequest{Updates: []core.CellUpdate{
		{Row: 1, Col: 1, Value: "2"},
		{Row: 1, Col: 2, Formula: "=A1+1"},
		{Col: 3, Value: "no row"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.BatchResult](t, rec)
	assert.Len(t, res.Cells, 2)
	assert.Equal(t, 1, res.Skipped)

	tooMany := make([]core.CellUpdate, 6)
	rec = api.do(http.MethodPost, path, batchRequest{Updates: tooMany})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "CEL002", decode[ErrorResponse](t, rec).Code)
}

func TestEvaluateAndDependents(t *testing.T) {
	api := newTestAPI(t, testConfig())
	detail := api.createSpreadsheet("Eval")
	sheetID := detail.Sheets[0].ID
	cells := "/api/sheets/" + sheetID + "/cells"

	for _, u := range []core.CellUpdate{
		{Row: 1, Col: 1, Value: "10"},
		{Row: 2, Col: 1, Value: "20"},
		{Row: 3, Col: 1, Value: "30"},
		{Row: 1, Col: 2, Formula: "=SUM(A1:A5)"},
	} {
		require.Equal(t, http.StatusOK, api.do(http.MethodPut, cells, u).Code)
	}

	rec := api.do(http.MethodPost, "/api/sheets/"+sheetID+"/evaluate", evaluateRequest{Formula: "=AVERAGE(A1:A3)"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "20", decode[evaluateResponse](t, rec).Value)

	rec = api.do(http.MethodPost, "/api/sheets/"+sheetID+"/evaluate", evaluateRequest{Formula: "=10/0"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "FRM004", decode[ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodGet, "/api/sheets/"+sheetID+"/dependents?cell=A3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deps := decode[[]map[string]any](t, rec)
	require.Len(t, deps, 1)
	assert.Equal(t, "=SUM(A1:A5)", deps[0]["formula"])

	rec = api.do(http.MethodGet, "/api/sheets/"+sheetID+"/dependents?cell=A6", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = api.do(http.MethodGet, "/api/sheets/"+sheetID+"/dependents?cell=6A", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FRM001", decode[ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodGet, "/api/sheets/"+sheetID+"/dependents", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/api/sheets/"+sheetID+"/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failed":0`)
}

func TestWorkbookEndpoints(t *testing.T) {
	api := newTestAPI(t, testConfig())
	detail := api.createSpreadsheet("Q1 Report")
	cells := "/api/sheets/" + detail.Sheets[0].ID + "/cells"
	require.Equal(t, http.StatusOK, api.do(http.MethodPut, cells, core.CellUpdate{Row: 1, Col: 1, Value: "4"}).Code)
	require.Equal(t, http.StatusOK, api.do(http.MethodPut, cells, core.CellUpdate{Row: 2, Col: 1, Value: "=A1*A1"}).Code)

	rec := api.do(http.MethodGet, "/api/spreadsheets/"+detail.ID+"/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Q1 Report.xlsx"`)
	workbook := rec.Body.Bytes()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "copy.xlsx")
	require.NoError(t, err)
	_, err = part.Write(workbook)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/spreadsheets/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	api.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	imported := decode[core.SpreadsheetDetail](t, rec)
	assert.Equal(t, "copy", imported.Name)
	require.Len(t, imported.Sheets, 1)

	rec = api.do(http.MethodGet, "/api/sheets/"+imported.Sheets[0].ID+"/cells", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]store.Cell](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "16", got[1].Value)

	// Not an xlsx file
	body.Reset()
	mw = multipart.NewWriter(&body)
	part, _ = mw.CreateFormFile("file", "notes.xlsx")
	_, _ = part.Write([]byte("plain text"))
	require.NoError(t, mw.Close())
	req = httptest.NewRequest(http.MethodPost, "/api/spreadsheets/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	api.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ004", decode[ErrorResponse](t, rec).Code)
}

func TestGridPage(t *testing.T) {
	api := newTestAPI(t, testConfig())
	sheetID := api.createSpreadsheet("Grid").Sheets[0].ID
	cells := "/api/sheets/" + sheetID + "/cells"
	api.do(http.MethodPut, cells, core.CellUpdate{Row: 1, Col: 1, Value: "<b>bold</b>"})
	api.do(http.MethodPut, cells, core.CellUpdate{Row: 2, Col: 12, Value: "=1/0"})

	rec := api.do(http.MethodGet, "/sheets/"+sheetID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, "&lt;b&gt;bold&lt;/b&gt;")
	assert.NotContains(t, html, "<b>bold</b>")
	assert.Contains(t, html, "<th>L</th>")
	assert.Contains(t, html, `title="=1/0"`)

	rec = api.do(http.MethodGet, "/sheets/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SHT001")
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	api := newTestAPI(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/spreadsheets", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/spreadsheets", nil, "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", nil).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	api := newTestAPI(t, cfg)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", nil).Code)
	rec := api.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestEventStream(t *testing.T) {
	api := newTestAPI(t, testConfig())
	detail := api.createSpreadsheet("Live")
	sheetID := detail.Sheets[0].ID

	ts := httptest.NewServer(api.server.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/spreadsheets/"+detail.ID+"/events?client_id=watcher", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan [2]string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		var name string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- [2]string{name, strings.TrimPrefix(line, "data: ")}
			}
		}
		close(events)
	}()

	next := func() [2]string {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for event")
			return [2]string{}
		}
	}

	ready := next()
	assert.Equal(t, "ready", ready[0])
	assert.Contains(t, ready[1], `"clientId":"watcher"`)

	rec := api.do(http.MethodPut, "/api/sheets/"+sheetID+"/cells", core.CellUpdate{Row: 1, Col: 1, Value: "5"}, clientIDHeader, "editor")
	require.Equal(t, http.StatusOK, rec.Code)

	ev := next()
	assert.Equal(t, "cell_updated", ev[0])
	var payload core.Event
	require.NoError(t, json.Unmarshal([]byte(ev[1]), &payload))
	assert.Equal(t, "5", payload.Value)
	assert.Equal(t, "editor", payload.ClientID)

	// The watcher's own edit is not echoed back.
	api.do(http.MethodPut, "/api/sheets/"+sheetID+"/cells", core.CellUpdate{Row: 1, Col: 2, Value: "own"}, clientIDHeader, "watcher")
	api.do(http.MethodPost, "/api/spreadsheets/"+detail.ID+"/cursor", cursorRequest{SheetID: sheetID, Row: 2, Col: 2}, clientIDHeader, "editor")
	ev = next()
	assert.Equal(t, "cursor_move", ev[0])

	rec = api.do(http.MethodGet, "/api/spreadsheets/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
