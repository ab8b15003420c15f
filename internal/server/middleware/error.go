package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-playground/pkg/api"
	"go.uber.org/zap"
)

const problemContentType = "application/problem+json"

// ErrorHandler renders the last error attached with c.Error as an RFC 9457 problem.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var problem *api.Problem
		if errors.As(err, &problem) {
			if problem.Log != nil {
				logger.Error("request failed",
					zap.Int("status", problem.Status),
					zap.String("path", c.Request.URL.Path),
					zap.Error(problem.Log))
			}
			if problem.Instance == "" {
				problem.Instance = c.Request.URL.Path
			}
			c.Header("Content-Type", problemContentType)
			c.AbortWithStatusJSON(problem.Status, problem)
			return
		}

		// at this point it's an unknown error
		logger.Error("unhandled error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.Header("Content-Type", problemContentType)
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.NewError(
			http.StatusInternalServerError,
			"Internal Server Error",
			"An unexpected error occurred.",
		))
	}
}
