package middleware

import (
	"net/http"
	"runtime/debug"

	"monitorrunner/internal/errors"
	"monitorrunner/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorHandler centralizes panic recovery and error-to-response translation.
func ErrorHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logrus.Fields{
					"panic":      err,
					"stack":      string(debug.Stack()),
					"path":       c.Request.URL.Path,
					"method":     c.Request.Method,
					"client_ip":  c.ClientIP(),
					"user_agent": c.Request.UserAgent(),
				}).Error("panic recovered")

				metrics.RecordStoreError("http", "server_panic")

				c.JSON(http.StatusInternalServerError, errors.ToResponse(
					errors.NewInternalError("internal server error occurred", nil),
				))
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			logger.WithFields(logrus.Fields{
				"error":      err.Error(),
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
				"client_ip":  c.ClientIP(),
				"user_agent": c.Request.UserAgent(),
			}).Error("request error")

			httpStatus := errors.GetHTTPStatus(err.Err)
			response := errors.ToResponse(err.Err)

			if httpStatus >= 500 {
				metrics.RecordStoreError("http", "server_error")
			} else if httpStatus >= 400 {
				metrics.RecordStoreError("http", "client_error")
			}

			c.JSON(httpStatus, response)
			c.Abort()
		}
	}
}

// HandleError attaches an error to the request context for ErrorHandler to process.
func HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	c.Error(err)
}

func AbortWithError(c *gin.Context, err error) {
	HandleError(c, err)
	c.Abort()
}

// RespondWithError sends the error response immediately, bypassing ErrorHandler.
func RespondWithError(c *gin.Context, err error) {
	httpStatus := errors.GetHTTPStatus(err)
	response := errors.ToResponse(err)
	c.JSON(httpStatus, response)
	c.Abort()
}
