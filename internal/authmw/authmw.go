// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// BearerToken returns middleware that requires an Authorization header
// carrying one of tokens. Blank tokens are ignored; with no usable token
// configured the protected routes answer 403 so an unset secret never
// opens them. Comparison is constant-time per candidate.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	var expected [][]byte
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			expected = append(expected, []byte(t))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				writeError(w, http.StatusForbidden, `{"error":"endpoint disabled: no api token configured"}`)
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="leadwatch"`)
				writeError(w, http.StatusUnauthorized, `{"error":"missing or malformed authorization header"}`)
				return
			}

			if !matches([]byte(auth[len(bearerPrefix):]), expected) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="leadwatch", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matches checks every candidate so timing does not reveal which one hit.
func matches(got []byte, expected [][]byte) bool {
	ok := 0
	for _, e := range expected {
		ok |= subtle.ConstantTimeCompare(got, e)
	}
	return ok == 1
}

func writeError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}
