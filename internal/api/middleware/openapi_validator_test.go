package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNormalizeValidationPath(t *testing.T) {
	testCases := []struct {
		name     string
		basePath string
		path     string
		want     string
	}{
		{name: "strip prefix", basePath: "/api/v1", path: "/api/v1/variation/propose", want: "/variation/propose"},
		{name: "root path", basePath: "/api/v1", path: "/api/v1", want: "/"},
		{name: "no match", basePath: "/api/v1", path: "/healthz", want: "/healthz"},
		{name: "empty base", basePath: "", path: "/musehub/repos", want: "/musehub/repos"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeValidationPath(normalizeBasePath(tc.basePath), tc.path)
			if got != tc.want {
				t.Fatalf("normalizeValidationPath mismatch: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestOpenAPIValidatorRejectsProposeWithoutIntent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MustOpenAPIValidator("", false))
	router.POST("/api/v1/variation/propose", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{
			"variationId": "var-1",
			"streamUrl":   "/api/v1/variation/var-1/stream",
			"baseStateId": "0",
		})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/variation/propose", bytes.NewBufferString(`{"projectId":"p-1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for propose without intent, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOpenAPIValidatorAcceptsValidPropose(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MustOpenAPIValidator("", false))
	router.POST("/api/v1/variation/propose", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{
			"variationId": "var-1",
			"streamUrl":   "/api/v1/variation/var-1/stream",
			"baseStateId": "0",
		})
	})

	reqBody := `{"projectId":"p-1","intent":"make the chorus brighter","tracks":["drums"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/variation/propose", bytes.NewBufferString(reqBody))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for valid propose, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOpenAPIValidatorRejectsRepoCreateWithoutName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MustOpenAPIValidator("", false))
	router.POST("/musehub/repos", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{
			"id":             "r-1",
			"name":           "Demo",
			"slug":           "demo",
			"visibility":     "private",
			"default_branch": "main",
		})
	})

	req := httptest.NewRequest(http.MethodPost, "/musehub/repos", bytes.NewBufferString(`{"description":"no name"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for repo create without name, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOpenAPIValidatorPassesThroughUnknownPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MustOpenAPIValidator("", false))
	router.GET("/not-in-contract", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/not-in-contract", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected pass-through for unlisted path, got %d", resp.Code)
	}
}

func TestOpenAPIValidatorResponseValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MustOpenAPIValidator("", true))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "wat"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": gin.H{"database": "ok"}})
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for non-conforming response, got %d body=%s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for conforming response, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOpenAPIValidatorLeavesStreamRoutesUnbuffered(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MustOpenAPIValidator("", true))
	router.GET("/api/v1/variation/:variationId/stream", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.String(http.StatusOK, "event: meta\ndata: {}\n\n")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/variation/var-1/stream", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on stream route, got %d", resp.Code)
	}
	if got := resp.Body.String(); got != "event: meta\ndata: {}\n\n" {
		t.Fatalf("stream body altered by validator: %q", got)
	}
}
