package daemon

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"no token configured", "", "", http.StatusNoContent},
		{"missing header", "t", "", http.StatusUnauthorized},
		{"wrong scheme", "t", "Basic t", http.StatusUnauthorized},
		{"wrong token", "t", "Bearer x", http.StatusUnauthorized},
		{"valid", "t", "Bearer t", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.token, next).ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			if w.Code != http.StatusUnauthorized {
				return
			}
			if got := w.Header().Get("WWW-Authenticate"); got == "" {
				t.Fatal("expected WWW-Authenticate challenge")
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] != "unauthorized" {
				t.Fatalf("expected JSON error body, got %q (err=%v)", w.Body.String(), err)
			}
		})
	}
}

func TestAPIRoutesEnforceMethods(t *testing.T) {
	srv := &apiServer{daemon: &Daemon{}}
	routes := srv.routes()
	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/status"},
		{http.MethodGet, "/api/rescan"},
		{http.MethodGet, "/api/known-bad/retry"},
		{http.MethodDelete, "/api/ledger"},
	} {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestRescanWhileStoppedConflicts(t *testing.T) {
	srv := &apiServer{daemon: &Daemon{}, logger: slog.New(slog.DiscardHandler)}
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/rescan", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["accepted"] != false {
		t.Fatalf("expected accepted=false, got %v", body)
	}
}
