package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loyalty-app/internal/api/handlers"
	"loyalty-app/internal/auth"
	"loyalty-app/internal/repository/db"
	chatService "loyalty-app/internal/service/chat"
	"loyalty-app/internal/service/llm"
	redeemService "loyalty-app/internal/service/redeem"
	"loyalty-app/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, mutate func(store *testutil.MockDatabase)) (*gin.Engine, *auth.Verifier) {
	t.Helper()
	cfg := testutil.NewMockConfig()
	cfg.Server.AllowedOrigins = []string{"https://liff.line.me"}

	store := &testutil.MockDatabase{
		RedeemCodeFunc: func(ctx context.Context, code, userID, displayName string) (*db.RedeemResult, error) {
			return &db.RedeemResult{PointsAdded: 10, TotalPoints: 10}, nil
		},
	}
	if mutate != nil {
		mutate(store)
	}
	provider := &testutil.MockLLMProvider{
		ChatWithHistoryStreamFunc: func(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
			return testutil.StreamOf("hello"), nil
		},
	}

	verifier := auth.NewVerifier(cfg.LIFF)
	router := NewRouter(cfg, Dependencies{
		Chat:     handlers.NewChatHandlers(chatService.NewChatService(provider, nil, cfg.AI), nil),
		Redeem:   handlers.NewRedeemHandlers(redeemService.NewRedeemService(store)),
		Health:   handlers.NewHealthHandlers(store),
		Verifier: verifier,
	})
	return router, verifier
}

func serve(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	router, verifier := newTestRouter(t, nil)
	token, err := verifier.GenerateToken("U123", "Alice", time.Hour)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		headers    map[string]string
		wantStatus int
	}{
		{name: "health", method: http.MethodGet, path: "/api/health", wantStatus: http.StatusOK},
		{name: "ready", method: http.MethodGet, path: "/api/ready", wantStatus: http.StatusOK},
		{name: "anonymous chat", method: http.MethodPost, path: "/api/chat", body: `{"messages":[{"role":"user","content":"hi"}]}`, wantStatus: http.StatusOK},
		{name: "redeem without token", method: http.MethodPost, path: "/api/redeem", body: `{"code":"ABCD2345"}`, wantStatus: http.StatusUnauthorized},
		{name: "redeem with token", method: http.MethodPost, path: "/api/redeem", body: `{"code":"ABCD2345"}`, headers: bearer, wantStatus: http.StatusOK},
		{name: "points without token", method: http.MethodGet, path: "/api/points", wantStatus: http.StatusUnauthorized},
		{name: "admin disabled", method: http.MethodPost, path: "/api/admin/codes", body: `{"count":1,"points":1}`, wantStatus: http.StatusForbidden},
		{name: "unknown route", method: http.MethodGet, path: "/api/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, tt.method, tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := serve(router, http.MethodOptions, "/api/chat", "", map[string]string{
		"Origin":                         "https://liff.line.me",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Authorization, Content-Type",
	})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://liff.line.me", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, http.MethodOptions, "/api/chat", "", map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_MetricsExposed(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	serve(router, http.MethodGet, "/api/health", "", nil)
	w := serve(router, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `loyalty_http_requests_total{method="GET",route="/api/health",status="200"}`)
}
