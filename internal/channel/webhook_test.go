package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"relaybot/internal/domain"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.InboundEvent
}

func (h *recordingHandler) Handle(ctx context.Context, ev domain.InboundEvent) domain.Response {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return domain.Response{StatusCode: http.StatusOK, Body: `{"text":"` + ev.Payload.Body + `"}`}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(secret string, h EventHandler) *Server {
	return NewServer(ServerConfig{
		WebhookPath:  "/webhook/whatsapp",
		Secret:       secret,
		MaxBodyBytes: 4096,
		MetricsPath:  "/metrics",
		Handler:      h,
		Logger:       testWebhookLogger(),
	})
}

const speedTestBody = `{"Info":{"Chat":"50688887777@s.whatsapp.net","Sender":"50688887777@s.whatsapp.net","IsGroup":false},"Message":{"conversation":"Speed test"}}`

func TestVerifyHMAC_Valid(t *testing.T) {
	body := []byte(`{"content":"hello"}`)
	if !verifyHMAC(body, "test-secret", sign("test-secret", body)) {
		t.Error("valid HMAC should verify")
	}
}

func TestVerifyHMAC_Invalid(t *testing.T) {
	if verifyHMAC([]byte("body"), "secret", "sha256=invalid") {
		t.Error("invalid HMAC should not verify")
	}
	if verifyHMAC([]byte("body"), "secret", "") {
		t.Error("empty signature should not verify")
	}
}

func TestWebhook_DeliversEventAndReturnsHandlerResponse(t *testing.T) {
	h := &recordingHandler{}
	srv := newTestServer("", h)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(speedTestBody))
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"text":"Speed test"}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if len(h.events) != 1 || h.events[0].Payload.Body != "Speed test" {
		t.Fatalf("handler did not receive event: %+v", h.events)
	}
}

func TestWebhook_SignatureRequired(t *testing.T) {
	h := &recordingHandler{}
	srv := newTestServer("s3cret", h)
	body := []byte(speedTestBody)

	cases := []struct {
		name string
		sig  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", sign("other", body), http.StatusForbidden},
		{"valid", sign("s3cret", body), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
			if tc.sig != "" {
				req.Header.Set("X-Signature-256", tc.sig)
			}
			rec := httptest.NewRecorder()
			srv.Routes().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
	if len(h.events) != 1 {
		t.Fatalf("only the signed request should reach the handler, got %d", len(h.events))
	}
}

func TestWebhook_MalformedJSON(t *testing.T) {
	srv := newTestServer("", &recordingHandler{})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	srv := newTestServer("", &recordingHandler{})
	big := `{"Info":{},"Message":{"conversation":"` + strings.Repeat("x", 8192) + `"}}`
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(big)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	srv := newTestServer("", &recordingHandler{})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/whatsapp", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhook_HealthAndMetrics(t *testing.T) {
	srv := newTestServer("", &recordingHandler{})

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "relaybot_webhook_requests_total") {
		t.Fatalf("unexpected metrics response %d", rec.Code)
	}
}
