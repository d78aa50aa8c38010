package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/oauthd/internal/store"
)

// generateToken returns n random bytes hex-encoded. All bearer credentials
// use at least 16 bytes (128 bits of entropy).
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// idToken mints the HS256 identity assertion returned alongside the token
// pair when the granted scopes include "openid". Bearer tokens themselves
// stay opaque; this JWT only carries identity claims.
func (s *Service) idToken(u *store.User, clientID string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   s.cfg.Issuer,
		"sub":   u.ID,
		"aud":   clientID,
		"email": u.Email,
		"name":  u.Name,
		"iat":   time.Now().Unix(),
		"exp":   expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.JWTSecret)
}
