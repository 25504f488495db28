package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cashflow/internal/config"
	"github.com/smallbiznis/cashflow/internal/identity"
	"go.uber.org/zap"
)

func TestCallerMiddlewareParsesUserHeader(t *testing.T) {
	srv := newTestServer("secret")
	caller := captureCaller(t, srv, map[string]string{headerUserID: "42"}, http.StatusOK)
	if caller.UserID != 42 || caller.System {
		t.Fatalf("caller = %+v, want user 42", caller)
	}
}

func TestCallerMiddlewareSystemKey(t *testing.T) {
	srv := newTestServer("secret")
	caller := captureCaller(t, srv, map[string]string{headerSystemKey: "secret"}, http.StatusOK)
	if !caller.System {
		t.Fatalf("caller = %+v, want system", caller)
	}
}

func TestCallerMiddlewareRejectsBadSystemKey(t *testing.T) {
	srv := newTestServer("secret")
	captureCaller(t, srv, map[string]string{headerSystemKey: "wrong"}, http.StatusUnauthorized)
}

func TestCallerMiddlewareRejectsBadUserID(t *testing.T) {
	srv := newTestServer("secret")
	captureCaller(t, srv, map[string]string{headerUserID: "not-a-number"}, http.StatusUnauthorized)
}

func TestRequireSystemBlocksUsers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := newTestServer("secret")

	r := gin.New()
	r.Use(srv.callerMiddleware())
	r.GET("/guarded", srv.requireSystem(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(headerUserID, "42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(headerSystemKey, "secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func newTestServer(systemKey string) *Server {
	return &Server{
		cfg: config.Config{SystemKey: systemKey},
		log: zap.NewNop(),
	}
}

func captureCaller(t *testing.T, srv *Server, headers map[string]string, wantStatus int) identity.Caller {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var caller identity.Caller
	r := gin.New()
	r.Use(srv.callerMiddleware())
	r.GET("/probe", func(c *gin.Context) {
		caller, _ = identity.CallerFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("status = %d, want %d", rec.Code, wantStatus)
	}
	return caller
}
