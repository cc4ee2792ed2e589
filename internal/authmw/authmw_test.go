package authmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken_ValidToken(t *testing.T) {
	t.Parallel()

	rec := serve(BearerToken("secret-token-123")(okHandler), "Bearer secret-token-123")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestBearerToken_Rotation(t *testing.T) {
	t.Parallel()

	h := BearerToken("old-token", "new-token")(okHandler)
	for _, tok := range []string{"old-token", "new-token"} {
		if rec := serve(h, "Bearer "+tok); rec.Code != http.StatusOK {
			t.Errorf("token %q: status = %d, want 200", tok, rec.Code)
		}
	}
	if rec := serve(h, "Bearer other"); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown token: status = %d, want 401", rec.Code)
	}
}

func TestBearerToken_Rejections(t *testing.T) {
	t.Parallel()

	h := BearerToken("secret")(okHandler)

	tests := []struct {
		name  string
		value string
	}{
		{"missing header", ""},
		{"basic scheme", "Basic c2VjcmV0"},
		{"lowercase scheme", "bearer secret"},
		{"no space", "Bearersecret"},
		{"wrong token", "Bearer wrong"},
		{"empty token", "Bearer "},
		{"prefix of token", "Bearer secre"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(h, tt.value)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer") {
				t.Errorf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestBearerToken_NoTokenConfigured(t *testing.T) {
	t.Parallel()

	for _, tokens := range [][]string{nil, {""}, {"  "}} {
		h := BearerToken(tokens...)(okHandler)
		rec := serve(h, "Bearer ")
		if rec.Code != http.StatusForbidden {
			t.Errorf("tokens %q: status = %d, want 403", tokens, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "disabled") {
			t.Errorf("body = %q", rec.Body.String())
		}
	}
}

func TestBearerToken_TrimsConfiguredToken(t *testing.T) {
	t.Parallel()

	rec := serve(BearerToken(" secret\n")(okHandler), "Bearer secret")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
