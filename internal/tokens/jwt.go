// Package tokens issues and validates the short-lived JWTs that authenticate
// live-stream websocket sessions.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type TokenType string

const (
	// Stream tokens gate /ws/live; they are minted per client session.
	Stream TokenType = "stream"
)

// Claims carries the stream session identity.
type Claims struct {
	ClientID  string    `json:"sub"`
	SessionID string    `json:"session_id"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

type Manager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewManager(signingKey string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Manager{signingKey: []byte(signingKey), ttl: ttl}
}

// GenerateStreamToken mints a token for one websocket session. The session
// id doubles as the checklist subject namespace for anonymous streams.
func (m *Manager) GenerateStreamToken(clientID string) (string, string, error) {
	now := time.Now().UTC()
	sessionID := uuid.New().String()
	claims := Claims{
		ClientID:  clientID,
		SessionID: sessionID,
		TokenType: Stream,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(), // jti
			Subject:   clientID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// Kid kept for future key rotation, single key today.
	token.Header["kid"] = "v1"

	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", "", err
	}
	return signed, sessionID, nil
}

func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != Stream {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
