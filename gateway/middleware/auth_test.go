package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func subjectEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := Subject(r.Context())
		_, _ = w.Write([]byte(subject))
	})
}

func TestAuthenticatorAcceptsScopedToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "risk"}, nil)
	handler := auth.Middleware(ScopeWrite)(subjectEcho())

	token := signToken(t, jwt.MapClaims{
		"sub":   "0x00000000000000000000000000000000000000aa",
		"iss":   "risk",
		"scope": "comptroller:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/stablecoin/mint", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if res.Body.String() != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("unexpected subject %q", res.Body.String())
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	handler := auth.Middleware(ScopeAdmin)(subjectEcho())

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad signature", "Bearer " + func() string {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "a", "scope": ScopeAdmin})
			s, _ := token.SignedString([]byte("other"))
			return s
		}(), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{"sub": "a", "scope": ScopeAdmin, "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no subject", "Bearer " + signToken(t, jwt.MapClaims{"scope": ScopeAdmin}), http.StatusUnauthorized},
		{"missing scope", "Bearer " + signToken(t, jwt.MapClaims{"sub": "a", "scope": ScopeWrite}), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/params", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
		})
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	handler := auth.Middleware(ScopeAdmin)(subjectEcho())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/markets", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", res.Code)
	}
}

func TestExtractScopesArray(t *testing.T) {
	scopes := extractScopes(jwt.MapClaims{"scp": []interface{}{"a", 1, "b"}}, "scp")
	if len(scopes) != 2 || scopes[0] != "a" || scopes[1] != "b" {
		t.Fatalf("unexpected scopes %v", scopes)
	}
}
