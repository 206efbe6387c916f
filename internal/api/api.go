package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"telemetry-service/internal/ingest"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError aborts the request with a JSON error body. Internal errors are
// logged and hidden from the caller.
func respondError(c *gin.Context, logger *logging.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func queryTime(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := ingest.ParseTimestamp(v)
	if err != nil {
		return nil, &models.ValidationError{Field: name, Reason: fmt.Sprintf("unparseable timestamp %q", v)}
	}
	return &t, nil
}

func queryInt(c *gin.Context, name string) (*int, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, &models.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return &n, nil
}

func queryIntDefault(c *gin.Context, name string, def int) (int, error) {
	n, err := queryInt(c, name)
	if err != nil || n == nil {
		return def, err
	}
	return *n, nil
}
