package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/QusaiiSaleem/live-vision-analyzer/internal/dispatch"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/history"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/provider"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/supervisor"
	"github.com/labstack/echo/v4"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubProvider struct {
	id     string
	result provider.AnalysisResult
	last   provider.Request
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) Analyze(_ context.Context, req provider.Request) (provider.AnalysisResult, error) {
	p.last = req
	res := p.result
	res.Provider = p.id
	return res, nil
}

func setupHistory(t *testing.T) *history.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	store := history.NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return store
}

func setupHandler(t *testing.T, providers ...*stubProvider) (*Handler, *history.Store) {
	t.Helper()
	engine := dispatch.NewEngine(nil, nil)
	for _, p := range providers {
		engine.Register(p, false)
	}
	store := setupHistory(t)
	return NewHandler(nil, engine, nil, store, nil), store
}

func doJSON(t *testing.T, h echo.HandlerFunc, method, target, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestHandler_Analyze(t *testing.T) {
	stub := &stubProvider{id: "ollama", result: provider.AnalysisResult{Response: "a desk with a laptop", ProcessingTimeMs: 42}}
	h, store := setupHandler(t, stub)

	img := base64.StdEncoding.EncodeToString([]byte("frame-bytes"))
	body := `{"op":"query","prompt":"what is here","image_base64":"` + img + `","session_id":"sess-1","trigger":{"person_count":2}}`
	rec, err := doJSON(t, h.Analyze, http.MethodPost, "/v1/analyze", body)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var res provider.AnalysisResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if res.Provider != "ollama" || res.Response != "a desk with a laptop" {
		t.Errorf("unexpected result %+v", res)
	}

	if string(stub.last.Image) != "frame-bytes" {
		t.Errorf("expected decoded frame bytes, got %q", stub.last.Image)
	}
	if stub.last.Prompt != "what is here" {
		t.Errorf("expected prompt forwarded, got %q", stub.last.Prompt)
	}

	rows, err := store.Recent(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 persisted row, got %d", len(rows))
	}
	if rows[0].PersonCount != 2 {
		t.Errorf("expected trigger snapshot persisted, got %+v", rows[0])
	}
}

func TestHandler_Analyze_DefaultsToQueryOp(t *testing.T) {
	stub := &stubProvider{id: "ollama"}
	h, _ := setupHandler(t, stub)

	img := base64.StdEncoding.EncodeToString([]byte("x"))
	_, err := doJSON(t, h.Analyze, http.MethodPost, "/v1/analyze", `{"image_base64":"`+img+`"}`)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if stub.last.Op != provider.OpQuery {
		t.Errorf("expected default op query, got %q", stub.last.Op)
	}
}

func TestHandler_Analyze_InvalidOp(t *testing.T) {
	h, _ := setupHandler(t, &stubProvider{id: "ollama"})

	_, err := doJSON(t, h.Analyze, http.MethodPost, "/v1/analyze", `{"op":"segment","image_base64":"eA=="}`)
	assertHTTPStatus(t, err, http.StatusBadRequest)
}

func TestHandler_Analyze_MissingImage(t *testing.T) {
	h, _ := setupHandler(t, &stubProvider{id: "ollama"})

	_, err := doJSON(t, h.Analyze, http.MethodPost, "/v1/analyze", `{"op":"query"}`)
	assertHTTPStatus(t, err, http.StatusBadRequest)
}

func TestHandler_Analyze_UnknownProvider(t *testing.T) {
	h, _ := setupHandler(t, &stubProvider{id: "ollama"})

	_, err := doJSON(t, h.Analyze, http.MethodPost, "/v1/analyze", `{"provider":"nope","image_base64":"eA=="}`)
	assertHTTPStatus(t, err, http.StatusBadRequest)
}

func TestHandler_Compare_DefaultsToAllProviders(t *testing.T) {
	local := &stubProvider{id: "ollama", result: provider.AnalysisResult{Response: "local view"}}
	cloud := &stubProvider{id: "moondream", result: provider.AnalysisResult{Response: "cloud view"}}
	h, store := setupHandler(t, local, cloud)

	img := base64.StdEncoding.EncodeToString([]byte("frame"))
	rec, err := doJSON(t, h.Compare, http.MethodPost, "/v1/compare", `{"op":"query","image_base64":"`+img+`","session_id":"sess-c"}`)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	var report dispatch.ComparisonReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to parse report: %v", err)
	}
	if report.ID == "" {
		t.Error("expected a correlation id")
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected both providers in report, got %d", len(report.Results))
	}

	cmp, rows, err := store.GetComparison(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("GetComparison failed: %v", err)
	}
	if cmp.SessionID != "sess-c" || len(rows) != 2 {
		t.Errorf("unexpected persisted comparison %+v with %d rows", cmp, len(rows))
	}
}

func TestHandler_Compare_UnknownProvider(t *testing.T) {
	h, _ := setupHandler(t, &stubProvider{id: "ollama"})

	_, err := doJSON(t, h.Compare, http.MethodPost, "/v1/compare", `{"providers":["ollama","nope"],"image_base64":"eA=="}`)
	assertHTTPStatus(t, err, http.StatusBadRequest)
}

func TestHandler_GetComparison_NotFound(t *testing.T) {
	h, _ := setupHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/comparisons/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	assertHTTPStatus(t, h.GetComparison(c), http.StatusNotFound)
}

func TestHandler_History_FiltersBySession(t *testing.T) {
	stub := &stubProvider{id: "ollama", result: provider.AnalysisResult{Response: "r"}}
	h, _ := setupHandler(t, stub)

	img := base64.StdEncoding.EncodeToString([]byte("f"))
	for _, sess := range []string{"a", "a", "b"} {
		if _, err := doJSON(t, h.Analyze, http.MethodPost, "/v1/analyze", `{"image_base64":"`+img+`","session_id":"`+sess+`"}`); err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/history?session_id=a", nil)
	rec := httptest.NewRecorder()
	if err := h.History(e.NewContext(req, rec)); err != nil {
		t.Fatalf("History failed: %v", err)
	}

	var body struct {
		Count    int                `json:"count"`
		Analyses []history.Analysis `json:"analyses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("expected 2 rows for session a, got %d", body.Count)
	}
}

func TestHandler_ServerStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models":[{"name":"llava:7b"}]}`))
	}))
	defer backend.Close()

	sup := supervisor.New(supervisor.Config{BaseURL: backend.URL, DataDir: t.TempDir()}, nil)
	h := NewHandler(sup, dispatch.NewEngine(nil, nil), nil, setupHistory(t), nil)

	rec, err := doJSON(t, h.ServerStatus, http.MethodGet, "/v1/server/status", "")
	if err != nil {
		t.Fatalf("ServerStatus failed: %v", err)
	}

	var status supervisor.ServerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if !status.Running || !status.ModelReady {
		t.Errorf("expected running and ready, got %+v", status)
	}
}

func TestHandler_StopServer_AlwaysSucceeds(t *testing.T) {
	sup := supervisor.New(supervisor.Config{BaseURL: "http://127.0.0.1:1", DataDir: t.TempDir()}, nil)
	h := NewHandler(sup, dispatch.NewEngine(nil, nil), nil, setupHistory(t), nil)

	for i := 0; i < 2; i++ {
		rec, err := doJSON(t, h.StopServer, http.MethodPost, "/v1/server/stop", "")
		if err != nil {
			t.Fatalf("StopServer failed: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	}
}

func assertHTTPStatus(t *testing.T, err error, want int) {
	t.Helper()
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTP error, got %v", err)
	}
	if httpErr.Code != want {
		t.Errorf("expected status %d, got %d", want, httpErr.Code)
	}
}
