package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"telemetry-service/internal/auth"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

const deviceContextKey = "device"

// DeviceAuthenticator checks device credentials.
type DeviceAuthenticator interface {
	AuthenticateDevice(ctx context.Context, serial, key string) (models.Device, error)
}

// TokenValidator checks dashboard bearer tokens.
type TokenValidator interface {
	TokensEnabled() bool
	ValidateToken(token string) (*auth.Claims, error)
}

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// DeviceAuthMiddleware resolves the calling device from the x-device-serial
// and x-device-key headers and stores it on the context.
func DeviceAuthMiddleware(a DeviceAuthenticator, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		dev, err := a.AuthenticateDevice(c.Request.Context(), c.GetHeader("x-device-serial"), c.GetHeader("x-device-key"))
		if err != nil {
			logger.Warnf("Device authentication failed from %s: %v", c.ClientIP(), err)
			respondError(c, logger, err)
			return
		}
		c.Set(deviceContextKey, dev)
		c.Next()
	}
}

// BearerAuthMiddleware requires a valid dashboard token when tokens are
// enabled. EventSource clients cannot set headers, so a token query parameter
// is accepted too.
func BearerAuthMiddleware(v TokenValidator, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !v.TokensEnabled() {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == c.GetHeader("Authorization") {
			token = c.Query("token")
		}
		if token == "" {
			respondError(c, logger, fmt.Errorf("missing bearer token: %w", models.ErrUnauthorized))
			return
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func deviceFrom(c *gin.Context) (models.Device, bool) {
	v, ok := c.Get(deviceContextKey)
	if !ok {
		return models.Device{}, false
	}
	dev, ok := v.(models.Device)
	return dev, ok
}
