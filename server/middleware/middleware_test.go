package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/ping", ok)
	r.POST("/ping", ok)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, zap.NewNop())
	defer rl.Shutdown()
	r := newRouter(rl.RateLimit())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		codes = append(codes, serve(r, req).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	if code := serve(r, req).Code; code != http.StatusOK {
		t.Errorf("other client got %d, want 200", code)
	}

	if got := rl.GetGlobalStats()["active_clients"]; got != 2 {
		t.Errorf("active_clients = %v, want 2", got)
	}
}

func TestInputValidation(t *testing.T) {
	r := newRouter(InputValidation())

	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		want        int
	}{
		{"json post", http.MethodPost, "/ping", "application/json; charset=utf-8", http.StatusOK},
		{"multipart post", http.MethodPost, "/ping", "multipart/form-data; boundary=x", http.StatusOK},
		{"text post", http.MethodPost, "/ping", "text/plain", http.StatusUnsupportedMediaType},
		{"plain get", http.MethodGet, "/ping?limit=5", "", http.StatusOK},
		{"markup in query", http.MethodGet, "/ping?limit=%3Cscript%3E", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if code := serve(r, req).Code; code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRequestSizeLimit(t *testing.T) {
	r := newRouter(RequestSizeLimit(8))

	req := httptest.NewRequest(http.MethodPost, "/ping", bytes.NewReader(make([]byte, 64)))
	if code := serve(r, req).Code; code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", code)
	}
}

func TestCORS(t *testing.T) {
	r := newRouter(CORS([]string{"https://app.calmify.example"}))

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://app.calmify.example")
	w := serve(r, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.calmify.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	if got := serve(r, req).Header().Get("Access-Control-Allow-Origin"); got != "null" {
		t.Errorf("disallowed Allow-Origin = %q", got)
	}
}

func TestRequestID(t *testing.T) {
	r := newRouter(RequestID())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if id := w.Header().Get(RequestIDHeader); len(id) != 26 {
		t.Errorf("generated request id = %q, want a ULID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")
	if id := serve(r, req).Header().Get(RequestIDHeader); id != "client-supplied" {
		t.Errorf("request id = %q, want client-supplied", id)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newRouter(RequestID(), RequestLogger(zap.New(core)))

	serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))

	entries := logs.FilterMessage("HTTP Request").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d requests, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/ping" || fields["status"] != int64(200) {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := fields["request_id"]; !ok {
		t.Error("request_id not logged")
	}
}

func TestTimeoutHandler(t *testing.T) {
	r := gin.New()
	r.Use(TimeoutHandler(10 * time.Millisecond))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})

	if code := serve(r, httptest.NewRequest(http.MethodGet, "/slow", nil)).Code; code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(newRouter(SecurityHeaders()), httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get("X-Frame-Options") != "DENY" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("headers = %v", w.Header())
	}
}
