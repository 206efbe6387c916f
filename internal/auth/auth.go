package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"telemetry-service/internal/models"
)

const issuer = "telemetry-service"

// DeviceStore resolves devices by serial number.
type DeviceStore interface {
	GetDeviceBySerial(ctx context.Context, serial string) (models.Device, error)
}

// Claims are the dashboard token claims.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Manager checks device credentials and dashboard tokens.
type Manager struct {
	devices DeviceStore
	secret  []byte
}

// NewManager builds a Manager. An empty secret disables dashboard tokens.
func NewManager(devices DeviceStore, jwtSecret string) *Manager {
	return &Manager{devices: devices, secret: []byte(jwtSecret)}
}

// TokensEnabled reports whether dashboard routes require a token.
func (m *Manager) TokensEnabled() bool {
	return len(m.secret) > 0
}

// AuthenticateDevice resolves serial and checks key against the stored bcrypt
// hash. Unknown serials and wrong keys both yield models.ErrUnauthorized.
func (m *Manager) AuthenticateDevice(ctx context.Context, serial, key string) (models.Device, error) {
	if serial == "" || key == "" {
		return models.Device{}, fmt.Errorf("missing device credentials: %w", models.ErrUnauthorized)
	}

	dev, err := m.devices.GetDeviceBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Device{}, fmt.Errorf("unknown device serial: %w", models.ErrUnauthorized)
		}
		return models.Device{}, err
	}

	if dev.APIKeyHash == "" {
		return models.Device{}, fmt.Errorf("device %s has no key: %w", dev.ID, models.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(dev.APIKeyHash), []byte(key)); err != nil {
		return models.Device{}, fmt.Errorf("invalid device key: %w", models.ErrUnauthorized)
	}
	return dev, nil
}

// HashKey creates a bcrypt hash from a device key.
func HashKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

// GenerateToken signs an HS256 dashboard token for subject.
func (m *Manager) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	if !m.TokensEnabled() {
		return "", errors.New("jwt secret not configured")
	}

	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken verifies an HS256 dashboard token.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrUnauthorized)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", models.ErrUnauthorized)
	}
	return claims, nil
}
