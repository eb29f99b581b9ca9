package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// TokenAuth проверяет токен шлюза чата в заголовке Authorization.
type TokenAuth struct {
	token []byte
}

// NewTokenAuth создаёт middleware проверки токена. Пустой токен отключает
// проверку: это допустимо только в тестовом окружении.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: []byte(token)}
}

// Middleware отклоняет запросы без корректного токена.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.token) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !hmac.Equal([]byte(got), a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
