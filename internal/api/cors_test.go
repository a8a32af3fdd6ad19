package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubHandler is a simple handler that returns 200 OK.
var stubHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func corsRequest(handler http.Handler, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/resource/machines/latest", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestCORS_NoOriginsConfigured(t *testing.T) {
	w := corsRequest(corsMiddleware(nil)(stubHandler), "GET", "https://example.com")

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers when no origins configured")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCORS_NoOriginHeader(t *testing.T) {
	w := corsRequest(corsMiddleware([]string{"https://example.com"})(stubHandler), "GET", "")

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers when no Origin header")
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	w := corsRequest(corsMiddleware([]string{"https://editor.example.com"})(stubHandler), "GET", "https://editor.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://editor.example.com" {
		t.Fatalf("expected Access-Control-Allow-Origin=https://editor.example.com, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != corsAllowHeaders {
		t.Fatalf("expected Allow-Headers, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != corsExposeHeaders {
		t.Fatalf("expected ETag to be exposed, got %q", got)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	w := corsRequest(corsMiddleware([]string{"https://editor.example.com"})(stubHandler), "GET", "https://evil.com")

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers for disallowed origin")
	}
}

func TestCORS_PreflightAllowed(t *testing.T) {
	w := corsRequest(corsMiddleware([]string{"https://editor.example.com"})(stubHandler), "OPTIONS", "https://editor.example.com")

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != corsAllowMethods {
		t.Fatalf("expected Allow-Methods on preflight, got %q", got)
	}
}

func TestCORS_WildcardOrigin(t *testing.T) {
	w := corsRequest(corsMiddleware([]string{"*"})(stubHandler), "GET", "https://anything.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example.com" {
		t.Fatalf("expected wildcard to allow any origin, got %q", got)
	}
}

func TestCORS_PreflightThroughServer(t *testing.T) {
	h := newTestHarness(t, func(c *Config) {
		c.CORSAllowedOrigins = []string{"https://editor.example.com"}
	})

	resp := h.Do("OPTIONS", "/v1/resource/machines", "", nil, "Origin", "https://editor.example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://editor.example.com" {
		t.Fatalf("allow origin: %q", got)
	}
}
