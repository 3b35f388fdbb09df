package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"metabert/pkg/types"
)

type mockService struct {
	status types.StatusResponse
	tasks  []types.TaskSpec
	ready  bool
}

func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Tasks() []types.TaskSpec      { return append([]types.TaskSpec(nil), m.tasks...) }
func (m *mockService) Ready() bool                  { return m.ready }

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{
		RunID:    "run-1",
		Phase:    "training",
		Step:     7,
		LastTest: &types.MetricPoint{Step: 5, Value: 0.75},
		Device:   types.DeviceStatus{Name: "accel:0", BudgetMB: 10},
	}}
	w := serve(t, NewMux(svc), http.MethodGet, "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.RunID != "run-1" || body.Step != 7 || body.LastTest == nil || body.LastTest.Value != 0.75 || body.Device.BudgetMB != 10 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestTasksHandler(t *testing.T) {
	svc := &mockService{tasks: []types.TaskSpec{
		{ID: "rte", Mode: types.Classification, Rows: 10},
		{ID: "sts-b", Mode: types.Regression, Rows: 12},
	}}
	w := serve(t, NewMux(svc), http.MethodGet, "/tasks")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.TasksResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Tasks) != 2 || body.Tasks[1].Mode != types.Regression {
		t.Fatalf("unexpected tasks: %+v", body.Tasks)
	}
}

func TestTasksHandler_EmptyIsArray(t *testing.T) {
	w := serve(t, NewMux(&mockService{}), http.MethodGet, "/tasks")
	if !strings.Contains(w.Body.String(), `"tasks":[]`) {
		t.Fatalf("expected empty array, body=%q", w.Body.String())
	}
}

func TestTaskByID(t *testing.T) {
	svc := &mockService{tasks: []types.TaskSpec{{ID: "rte", Mode: types.Classification}}}
	h := NewMux(svc)
	w := serve(t, h, http.MethodGet, "/tasks/rte")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var spec types.TaskSpec
	if err := json.Unmarshal(w.Body.Bytes(), &spec); err != nil || spec.ID != "rte" {
		t.Fatalf("unexpected body %q err=%v", w.Body.String(), err)
	}

	w = serve(t, h, http.MethodGet, "/tasks/cola")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("json: %v", err)
	}
	if e.Code != http.StatusNotFound || !strings.Contains(e.Error, "cola") {
		t.Fatalf("unexpected error body: %+v", e)
	}
}

func TestHealthz(t *testing.T) {
	w := serve(t, NewMux(&mockService{}), http.MethodGet, "/healthz")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	w := serve(t, NewMux(&mockService{ready: true}), http.MethodGet, "/readyz")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	w := serve(t, NewMux(&mockService{ready: false}), http.MethodGet, "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unavailable") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := NewMux(&mockService{})
	w := serve(t, h, http.MethodGet, "/infer")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("status=%d ct=%s", w.Code, w.Header().Get("Content-Type"))
	}
	w = serve(t, h, http.MethodPost, "/status")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(t, NewMux(&mockService{}), http.MethodGet, "/status")
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
}

func TestCORS(t *testing.T) {
	SetCORSOptions(true, []string{"http://example.com"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	if len(corsAllowedMethods) != 2 || len(corsAllowedHeaders) != 2 {
		t.Fatalf("defaults not applied: %v %v", corsAllowedMethods, corsAllowedHeaders)
	}

	h := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected CORS origin header, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected CORS header for foreign origin: %q", got)
	}
}
