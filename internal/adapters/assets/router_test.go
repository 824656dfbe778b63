package assets

import (
	"assetcore/internal/adapters/reports"
	"assetcore/internal/blob"
	"assetcore/internal/core"
	"assetcore/pkg/domain"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const seedUID = "uid-kim"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	svc     *core.Service
	files   blob.Store
	worker  *reports.Worker
	router  *gin.Engine
	metrics *HTTPMetrics
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, withFiles bool, extra func(*RouterConfig)) *fixture {
	t.Helper()
	files := blob.NewMemory()
	var opts []core.ServiceOption
	if withFiles {
		opts = append(opts, core.WithFileStore(core.NewFileStore(files)))
	}
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), opts...)
	if _, _, err := svc.CreateUser(context.Background(), domain.Session{AuthUID: seedUID}, domain.User{
		AuthUID: seedUID, DisplayName: "Kim",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	worker := reports.NewWorker(svc, files)
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })

	reg := prometheus.NewRegistry()
	metrics, err := NewHTTPMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	cfg := RouterConfig{
		Service:        svc,
		Reports:        worker,
		ReportStore:    files,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if extra != nil {
		extra(&cfg)
	}
	return &fixture{svc: svc, files: files, worker: worker, router: NewRouter(cfg), metrics: metrics, reg: reg}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderUserUID, seedUID)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	if env := decode[ErrorEnvelope](t, rec); env.Error.Code != code {
		t.Fatalf("expected error code %s, got %+v", code, env.Error)
	}
}

type assetOutcome struct {
	Asset      domain.Asset          `json:"asset"`
	Assignment *domain.Assignment    `json:"assignment"`
	History    []domain.HistoryEntry `json:"history"`
}

func (f *fixture) createAsset(t *testing.T, name string, assignee string) assetOutcome {
	t.Helper()
	body := map[string]any{
		"asset": map[string]any{"name": name, "category": "laptop", "serial_number": "SN-" + name},
	}
	if assignee != "" {
		body["assignment"] = map[string]any{"assigned_to": assignee}
	}
	rec := f.do(t, http.MethodPost, "/api/v1/assets", body)
	expectStatus(t, rec, http.StatusCreated)
	return decode[assetOutcome](t, rec)
}

func TestHealthcheckAndMetrics(t *testing.T) {
	f := newFixture(t, false, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	if got := testutil.ToFloat64(f.metrics.requests.WithLabelValues(http.MethodGet, "/healthcheck", "200")); got != 1 {
		t.Fatalf("expected one counted request, got %v", got)
	}

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "assetcore_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestSessionRequired(t *testing.T) {
	f := newFixture(t, false, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	expectErrorCode(t, rec, http.StatusUnauthorized, "missing_user")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set(HeaderUserUID, "stranger")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	expectErrorCode(t, rec, http.StatusUnauthorized, "unknown_user")

	rec = f.do(t, http.MethodGet, "/api/v1/me", nil)
	expectStatus(t, rec, http.StatusOK)
	got := decode[struct {
		Session domain.Session `json:"session"`
	}](t, rec)
	if got.Session.DisplayName != "Kim" || got.Session.UserID == "" {
		t.Fatalf("unexpected session %+v", got.Session)
	}
}

func TestRegisterMapsCallerUID(t *testing.T) {
	f := newFixture(t, false, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", strings.NewReader(`{"display_name":"Lee","auth_uid":"ignored"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserUID, "uid-lee")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)

	session, err := f.svc.OpenSession(context.Background(), "uid-lee")
	if err != nil || session.DisplayName != "Lee" {
		t.Fatalf("expected registered session, got %+v, %v", session, err)
	}

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/users/register", strings.NewReader(`{}`)))
	expectErrorCode(t, rec, http.StatusUnauthorized, "missing_user")
}

func TestAssetLifecycleEndpoints(t *testing.T) {
	f := newFixture(t, false, nil)
	created := f.createAsset(t, "MacBook", "Hong")
	if created.Asset.Status != domain.StatusInUse || created.Assignment == nil {
		t.Fatalf("unexpected create outcome %+v", created)
	}
	id := created.Asset.ID

	rec := f.do(t, http.MethodPost, "/api/v1/assets/"+id+"/return", map[string]any{"notes": "done"})
	expectStatus(t, rec, http.StatusOK)
	if out := decode[assetOutcome](t, rec); out.Asset.Status != domain.StatusAvailable {
		t.Fatalf("expected available after return, got %s", out.Asset.Status)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/assets/"+id+"/return", nil)
	expectErrorCode(t, rec, http.StatusConflict, "lifecycle_violation")

	rec = f.do(t, http.MethodPost, "/api/v1/assets/"+id+"/assign", map[string]any{
		"assignment": map[string]any{"assigned_to": "Park"},
	})
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, http.MethodPost, "/api/v1/assets/"+id+"/maintenance", map[string]any{
		"kind": "repair", "description": "screen", "cost": "120.50",
	})
	expectStatus(t, rec, http.StatusCreated)
	maint := decode[struct {
		Maintenance domain.MaintenanceRecord `json:"maintenance"`
	}](t, rec).Maintenance

	rec = f.do(t, http.MethodPatch, "/api/v1/assets/"+id+"/maintenance/"+maint.ID, map[string]any{"status": string(domain.MaintenanceCompleted)})
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, http.MethodPatch, "/api/v1/assets/"+id, map[string]any{"name": "MacBook Pro"})
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, http.MethodPost, "/api/v1/assets/"+id+"/dispose", map[string]any{"reason": "broken"})
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, http.MethodPost, "/api/v1/assets/"+id+"/status", map[string]any{"status": string(domain.StatusAvailable)})
	expectErrorCode(t, rec, http.StatusConflict, "lifecycle_violation")

	rec = f.do(t, http.MethodGet, "/api/v1/assets/"+id+"/history", nil)
	expectStatus(t, rec, http.StatusOK)
	history := decode[struct {
		History []domain.HistoryEntry `json:"history"`
	}](t, rec).History
	want := []domain.HistoryType{
		domain.HistoryPurchase, domain.HistoryAssign, domain.HistoryReturn,
		domain.HistoryAssign, domain.HistoryMaintenance, domain.HistoryDispose,
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(history))
	}
	for i, h := range history {
		if h.Type != want[i] {
			t.Fatalf("history[%d]: expected %s, got %s", i, want[i], h.Type)
		}
	}

	rec = f.do(t, http.MethodGet, "/api/v1/assets/"+id+"/assignments", nil)
	expectStatus(t, rec, http.StatusOK)
	if n := len(decode[struct {
		Assignments []domain.Assignment `json:"assignments"`
	}](t, rec).Assignments); n != 2 {
		t.Fatalf("expected two assignments, got %d", n)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/assets?status="+url.QueryEscape(string(domain.StatusDisposed)), nil)
	expectStatus(t, rec, http.StatusOK)
	if n := len(decode[struct {
		Assets []domain.Asset `json:"assets"`
	}](t, rec).Assets); n != 1 {
		t.Fatalf("expected one disposed asset, got %d", n)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/assets/"+id, nil)
	expectStatus(t, rec, http.StatusNoContent)
	rec = f.do(t, http.MethodGet, "/api/v1/assets/"+id, nil)
	expectErrorCode(t, rec, http.StatusNotFound, "not_found")
}

func TestAssetValidationErrors(t *testing.T) {
	f := newFixture(t, false, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/assets", map[string]any{"asset": map[string]any{"name": ""}})
	expectErrorCode(t, rec, http.StatusBadRequest, "invalid_input")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserUID, seedUID)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	expectErrorCode(t, rec, http.StatusBadRequest, "invalid_body")

	id := f.createAsset(t, "Desk", "").Asset.ID
	rec = f.do(t, http.MethodPatch, "/api/v1/assets/"+id, map[string]any{"name": "  "})
	expectErrorCode(t, rec, http.StatusBadRequest, "invalid_input")
}

func TestCreateAssetIgnoresStoreOwnedFields(t *testing.T) {
	f := newFixture(t, false, nil)
	body := map[string]any{
		"asset": map[string]any{
			"id":                    "chosen-id",
			"created_at":            "2001-01-01T00:00:00Z",
			"current_assignment_id": "ghost",
			"attachments":           []map[string]any{{"name": "x", "url": "http://elsewhere/x"}},
			"name":                  "Laptop",
		},
	}

	ids := map[string]bool{}
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/assets", body)
		expectStatus(t, rec, http.StatusCreated)
		out := decode[assetOutcome](t, rec)
		a := out.Asset
		if a.ID == "" || a.ID == "chosen-id" {
			t.Fatalf("expected a store-assigned id, got %q", a.ID)
		}
		if a.CreatedAt.Year() == 2001 {
			t.Fatalf("expected created_at set by the store, got %s", a.CreatedAt)
		}
		if a.CurrentAssignmentID != nil || len(a.Attachments) != 0 {
			t.Fatalf("expected no assignment or attachments, got %+v", a)
		}
		ids[a.ID] = true
	}
	if len(ids) != 2 {
		t.Fatalf("expected two distinct assets, got %v", ids)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	f := newFixture(t, false, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/categories", map[string]any{"code": "laptop", "name": "Laptops"})
	expectStatus(t, rec, http.StatusCreated)
	cat := decode[struct {
		Category domain.Category `json:"category"`
	}](t, rec).Category

	rec = f.do(t, http.MethodPost, "/api/v1/categories", map[string]any{"code": "laptop", "name": "Again"})
	expectErrorCode(t, rec, http.StatusBadRequest, "invalid_input")

	rec = f.do(t, http.MethodPatch, "/api/v1/categories/"+cat.ID, map[string]any{"name": "Notebooks"})
	expectStatus(t, rec, http.StatusOK)

	f.createAsset(t, "MacBook", "")
	rec = f.do(t, http.MethodDelete, "/api/v1/categories/"+cat.ID, nil)
	expectErrorCode(t, rec, http.StatusBadRequest, "invalid_input")

	rec = f.do(t, http.MethodGet, "/api/v1/categories", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, http.MethodPost, "/api/v1/users", map[string]any{"auth_uid": "uid-park", "display_name": "Park"})
	expectStatus(t, rec, http.StatusCreated)
	user := decode[struct {
		User domain.User `json:"user"`
	}](t, rec).User

	rec = f.do(t, http.MethodPatch, "/api/v1/users/"+user.ID, map[string]any{"role": "admin"})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[struct {
		User domain.User `json:"user"`
	}](t, rec).User; got.Role != "admin" || got.AuthUID != "uid-park" {
		t.Fatalf("unexpected updated user %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/users", nil)
	expectStatus(t, rec, http.StatusOK)
	if n := len(decode[struct {
		Users []domain.User `json:"users"`
	}](t, rec).Users); n != 2 {
		t.Fatalf("expected two users, got %d", n)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/users/"+user.ID, nil)
	expectStatus(t, rec, http.StatusNoContent)
}

func multipartRequest(t *testing.T, method, path, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	_ = mw.Close()
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(HeaderUserUID, seedUID)
	return req
}

func TestAttachmentEndpoints(t *testing.T) {
	f := newFixture(t, true, nil)
	id := f.createAsset(t, "Camera", "").Asset.ID

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartRequest(t, http.MethodPost, "/api/v1/assets/"+id+"/attachments", "manual.pdf", "pdf-bytes"))
	expectStatus(t, rec, http.StatusCreated)
	att := decode[struct {
		Attachment domain.Attachment `json:"attachment"`
	}](t, rec).Attachment
	if att.Name != "manual.pdf" || att.URL == "" {
		t.Fatalf("unexpected attachment %+v", att)
	}

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartRequest(t, http.MethodPut, "/api/v1/assets/"+id+"/image", "front.jpg", "jpeg-bytes"))
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, http.MethodDelete, "/api/v1/assets/"+id+"/attachments", nil)
	expectErrorCode(t, rec, http.StatusBadRequest, "invalid_input")

	rec = f.do(t, http.MethodDelete, "/api/v1/assets/"+id+"/attachments?url="+url.QueryEscape(att.URL), nil)
	expectStatus(t, rec, http.StatusOK)
	if asset := decode[struct {
		Asset domain.Asset `json:"asset"`
	}](t, rec).Asset; len(asset.Attachments) != 0 || asset.ImageURL == "" {
		t.Fatalf("unexpected asset after removal %+v", asset)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/assets/"+id+"/attachments", nil)
	expectErrorCode(t, rec, http.StatusBadRequest, "invalid_upload")
}

func TestAttachmentWithoutFileStore(t *testing.T) {
	f := newFixture(t, false, nil)
	id := f.createAsset(t, "Camera", "").Asset.ID
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartRequest(t, http.MethodPost, "/api/v1/assets/"+id+"/attachments", "a.txt", "x"))
	expectErrorCode(t, rec, http.StatusNotImplemented, "files_disabled")
}

func TestReportEndpoints(t *testing.T) {
	f := newFixture(t, false, nil)
	f.createAsset(t, "MacBook", "Hong")
	f.createAsset(t, "Monitor", "")

	rec := f.do(t, http.MethodPost, "/api/v1/reports", map[string]any{"formats": []string{"csv"}})
	expectStatus(t, rec, http.StatusAccepted)
	record := decode[struct {
		Report reports.Record `json:"report"`
	}](t, rec).Report
	if record.RequestedBy != "Kim" {
		t.Fatalf("expected requester from session, got %q", record.RequestedBy)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = f.do(t, http.MethodGet, "/api/v1/reports/"+record.ID, nil)
		expectStatus(t, rec, http.StatusOK)
		record = decode[struct {
			Report reports.Record `json:"report"`
		}](t, rec).Report
		if record.Status == reports.StatusSucceeded {
			break
		}
		if record.Status == reports.StatusFailed || time.Now().After(deadline) {
			t.Fatalf("report did not succeed: %+v", record)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/reports/"+record.ID+"/download/csv", nil)
	expectStatus(t, rec, http.StatusOK)
	if lines := strings.Count(strings.TrimSpace(rec.Body.String()), "\n"); lines != 2 {
		t.Fatalf("expected header plus two rows, got %d newlines: %q", lines, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("unexpected content type %q", ct)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/reports/"+record.ID+"/download/json", nil)
	expectErrorCode(t, rec, http.StatusNotFound, "not_found")

	rec = f.do(t, http.MethodGet, "/api/v1/reports/missing", nil)
	expectErrorCode(t, rec, http.StatusNotFound, "not_found")

	rec = f.do(t, http.MethodPost, "/api/v1/reports", map[string]any{"formats": []string{"xlsx"}})
	expectErrorCode(t, rec, http.StatusBadRequest, "invalid_input")

	rec = f.do(t, http.MethodGet, "/api/v1/reports", nil)
	expectStatus(t, rec, http.StatusOK)
	if n := len(decode[struct {
		Reports []reports.Record `json:"reports"`
	}](t, rec).Reports); n != 1 {
		t.Fatalf("expected one report, got %d", n)
	}
}

func TestTracingMiddlewareRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, false, func(cfg *RouterConfig) { cfg.TracerProvider = tp })
	rec := f.do(t, http.MethodGet, "/api/v1/assets", nil)
	expectStatus(t, rec, http.StatusOK)

	spans := recorder.Ended()
	if len(spans) == 0 {
		t.Fatalf("expected a server span")
	}
	if name := spans[len(spans)-1].Name(); !strings.Contains(name, "/api/v1/assets") {
		t.Fatalf("unexpected span name %q", name)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, false, func(cfg *RouterConfig) { cfg.CORSOrigins = []string{"http://localhost:5173"} })
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/assets", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.LifecycleViolation{Action: domain.LifecycleReturn, Status: domain.StatusAvailable}, http.StatusConflict, "lifecycle_violation"},
		{fmt.Errorf("wrapped: %w", core.ErrOperationInFlight), http.StatusConflict, "operation_in_flight"},
		{&domain.NotFoundError{Entity: domain.EntityAsset, ID: "a"}, http.StatusNotFound, "not_found"},
		{domain.Invalidf("bad"), http.StatusBadRequest, "invalid_input"},
		{&domain.StoreError{Op: "x", Err: domain.RuleViolationError{}}, http.StatusConflict, "rule_violation"},
		{core.ErrNoFileStore, http.StatusNotImplemented, "files_disabled"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("%v: expected %d/%s, got %d/%s", tc.err, tc.status, tc.code, status, code)
		}
	}
}

func TestDuplicateMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewHTTPMetrics(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewHTTPMetrics(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
