package rpc

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

type contextKey string

const userContextKey contextKey = "ceremony.userId"

// withAuth requires a Bearer token signed with the configured HMAC secret
// and stores the token subject as the caller's user id on the request
// context.
func (s *Service) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeStatus(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sub, err := s.validateJWT(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			log.WithError(err).Debug("Rejected request token")
			writeStatus(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, sub)
		next(w, r.WithContext(ctx))
	}
}

func (s *Service) validateJWT(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected JWT signing method: %v", t.Header["alg"])
		}
		return s.cfg.JWTSecret, nil
	})
	if err != nil {
		return "", errors.Wrap(err, "could not parse JWT token")
	}
	if !token.Valid {
		return "", errors.New("token is invalid")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// userID returns the authenticated caller's user id, set by withAuth.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userContextKey).(string)
	return id
}
