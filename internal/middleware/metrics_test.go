package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// --- モック ---

type mockStatusRecorder struct {
	recorded []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(statusCode int) {
	m.recorded = append(m.recorded, statusCode)
}

var _ StatusRecorder = (*mockStatusRecorder)(nil)

// --- テスト ---

func TestMetricsMiddleware_RecordsStatusCode(t *testing.T) {
	rec := &mockStatusRecorder{}
	mw := NewMetricsMiddleware(rec)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if len(rec.recorded) != 1 {
		t.Fatalf("recorded count = %d, want 1", len(rec.recorded))
	}
	if rec.recorded[0] != http.StatusCreated {
		t.Errorf("recorded status = %d, want %d", rec.recorded[0], http.StatusCreated)
	}
}

func TestMetricsMiddleware_DefaultsTo200(t *testing.T) {
	rec := &mockStatusRecorder{}
	mw := NewMetricsMiddleware(rec)

	// WriteHeaderを明示的に呼ばないハンドラー
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if len(rec.recorded) != 1 || rec.recorded[0] != http.StatusOK {
		t.Errorf("recorded = %v, want [200]", rec.recorded)
	}
}
