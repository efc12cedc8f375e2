package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dermaglow/resolve/internal/models"
)

// ErrorHandler converts errors attached to the gin context into the standard
// error envelope. Handlers that already wrote a response are left alone.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		switch err.Type {
		case gin.ErrorTypeBind:
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid request body",
				Details: err.Error(),
			})
		case gin.ErrorTypePublic:
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "internal server error",
				Details: err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: "internal server error",
			})
		}
	}
}
