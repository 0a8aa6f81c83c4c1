package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// BearerAuth returns middleware requiring an HS256-signed bearer token.
// Tokens carry no authorization model beyond a valid signature; callers are
// trusted once authenticated.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if err := verifyToken(token, key); err != nil {
				respondError(w, http.StatusUnauthorized, errors.New("invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyToken(token string, key []byte) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("token invalid")
	}
	return nil
}
