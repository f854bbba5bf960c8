package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of both token kinds. A join-invite token binds a
// websocket URL and server name; a session token additionally carries
// the peer id it was issued to.
type Claims struct {
	WsURL      string `json:"u"`
	ServerName string `json:"n"`
	PeerID     string `json:"i,omitempty"`
	jwt.RegisteredClaims
}

// Sign produces a signed token for the given claims.
func Sign(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func Verify(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
