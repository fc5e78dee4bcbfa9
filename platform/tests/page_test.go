package tests

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServePage(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest("GET", "/pages/home", nil)
	w := httptest.NewRecorder()
	env.api.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html content type, got %v", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "<title>Home</title>") {
		t.Fatalf("missing title: %v", body)
	}
	if !strings.Contains(body, "/static/app.js") {
		t.Fatalf("missing script: %v", body)
	}
	// beta.js is gated behind a disabled flag.
	if strings.Contains(body, "/static/beta.js") {
		t.Fatalf("flagged-off script should not render: %v", body)
	}
	if !strings.Contains(body, `"welcome":"hello"`) {
		t.Fatalf("missing props payload: %v", body)
	}
}

func TestServeMissingPage(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest("GET", "/pages/nope", nil)
	w := httptest.NewRecorder()
	env.api.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
