package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(register func(*gin.RouterGroup)) *gin.Engine {
		router := gin.New()
		router.Use(ErrorHandler())
		register(&router.RouterGroup)
		return router
	}

	t.Run("bind errors map to 400", func(t *testing.T) {
		router := newRouter(func(r *gin.RouterGroup) {
			r.GET("/bind", func(c *gin.Context) {
				_ = c.Error(errors.New("missing field")).SetType(gin.ErrorTypeBind)
			})
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bind", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid request body")
		assert.Contains(t, w.Body.String(), "missing field")
	})

	t.Run("unclassified errors hide details", func(t *testing.T) {
		router := newRouter(func(r *gin.RouterGroup) {
			r.GET("/boom", func(c *gin.Context) {
				_ = c.Error(errors.New("connection string leaked"))
			})
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection string")
	})

	t.Run("written responses are left alone", func(t *testing.T) {
		router := newRouter(func(r *gin.RouterGroup) {
			r.GET("/ok", func(c *gin.Context) {
				c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
				_ = c.Error(errors.New("late bookkeeping error"))
			})
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Contains(t, w.Body.String(), "queued")
	})
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
