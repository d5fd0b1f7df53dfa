package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// CallbackClaim binds a queued callback to its destination URL and exact body.
type CallbackClaim struct {
	BodyHash string `json:"body_hash"`
	jwt.StandardClaims
}

var ErrorInvalidSignature = errors.New("invalid callback signature")

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SignCallback issues an HS256 token whose subject is url and whose body_hash covers body.
func SignCallback(secret []byte, url string, body []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("callback signing secret is empty")
	}
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &CallbackClaim{
		BodyHash: bodyHash(body),
		StandardClaims: jwt.StandardClaims{
			Subject:   url,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	})
	return t.SignedString(secret)
}

// VerifyCallback checks token against url and body. An empty secret verifies nothing.
func VerifyCallback(secret []byte, token string, url string, body []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("%w: no signing secret configured", ErrorInvalidSignature)
	}
	if token == "" {
		return fmt.Errorf("%w: missing", ErrorInvalidSignature)
	}
	parsed, err := jwt.ParseWithClaims(token, &CallbackClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: %v", ErrorInvalidSignature, err)
	}
	claim, ok := parsed.Claims.(*CallbackClaim)
	if !ok {
		return ErrorInvalidSignature
	}
	if claim.Subject != url {
		return fmt.Errorf("%w: url mismatch", ErrorInvalidSignature)
	}
	if claim.BodyHash != bodyHash(body) {
		return fmt.Errorf("%w: body mismatch", ErrorInvalidSignature)
	}
	return nil
}
