package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCORSRouter(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(allowedOrigins))
	router.OPTIONS("/users/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.DELETE("/users/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func preflight(router http.Handler, origin, method string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodOptions, "/users/me", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", method)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSMiddlewareAllowsListedOriginWithCredentials(t *testing.T) {
	router := newCORSRouter([]string{"https://unitreviews.example.com"})

	recorder := preflight(router, "https://unitreviews.example.com", http.MethodDelete)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if !strings.Contains(recorder.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete) {
		t.Fatalf("expected DELETE to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Methods"))
	}
	if !strings.Contains(strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers")), "authorization") {
		t.Fatalf("expected Authorization header to be allowed")
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://unitreviews.example.com" {
		t.Fatalf("expected origin to be echoed, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSMiddlewareRejectsUnlistedOrigin(t *testing.T) {
	router := newCORSRouter([]string{"https://unitreviews.example.com"})

	recorder := preflight(router, "https://evil.example.net", http.MethodDelete)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected preflight from unlisted origin to be forbidden, got %d", recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "" {
		t.Fatalf("unlisted origin must not be allowed, got %q", origin)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") == "true" {
		t.Fatalf("credentials must not be offered to an unlisted origin")
	}

	request := httptest.NewRequest(http.MethodDelete, "/users/me", http.NoBody)
	request.Header.Set("Origin", "https://evil.example.net")
	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusForbidden {
		t.Fatalf("expected cross-origin request from unlisted origin to be forbidden, got %d", response.Code)
	}
}

func TestCORSMiddlewareWithoutListNeverSendsCredentials(t *testing.T) {
	router := newCORSRouter(nil)

	recorder := preflight(router, "https://evil.example.net", http.MethodDelete)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected wildcard origin, got %q", origin)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("wildcard CORS must not allow credentials")
	}
}
