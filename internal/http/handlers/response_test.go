package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFail_EnvelopeAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-42")
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusConflict, ErrCodeTabClosed, "tab is closed")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RequestID != "rid-42" || resp.Code != ErrCodeTabClosed || resp.Message != "tab is closed" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}

func TestFail_ServerErrorsAreLoggedNotEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ise", func(c *gin.Context) {
		Fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ise", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if errCode(t, w) != ErrCodeInternal {
		t.Fatalf("code = %s", errCode(t, w))
	}
}

func TestOkAndNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) { ok(c, http.StatusOK, gin.H{"a": 1}) })
	r.GET("/none", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("ok: %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/none", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent: %d %q", w.Code, w.Body.String())
	}
}
