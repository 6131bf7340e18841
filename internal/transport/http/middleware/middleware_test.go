package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loyalty-ledger/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		json.NewEncoder(w).Encode(actor)
	})
}

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticator_Headers(t *testing.T) {
	h := NewAuthenticator(AuthConfig{TrustHeaders: true}, quietLogger()).Middleware(echoActor())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set(HeaderUserID, "user-1")
	req.Header.Set(HeaderUserRole, "Admin")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var actor models.Actor
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&actor))
	assert.Equal(t, models.Actor{UserID: "user-1", Admin: true}, actor)
}

func TestAuthenticator_HeadersIgnoredWithoutOptIn(t *testing.T) {
	h := NewAuthenticator(AuthConfig{}, quietLogger()).Middleware(echoActor())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/summary", nil)
	req.Header.Set(HeaderUserID, "mallory")
	req.Header.Set(HeaderUserRole, "admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticator_SecretIgnoresRoleHeader(t *testing.T) {
	const secret = "s3cret"
	h := NewAuthenticator(AuthConfig{HMACSecret: secret, TrustHeaders: true}, quietLogger()).Middleware(echoActor())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set(HeaderUserID, "mallory")
	req.Header.Set(HeaderUserRole, "admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "headers alone are not enough once a secret is set")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, secret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	req.Header.Set(HeaderUserRole, "admin")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var actor models.Actor
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&actor))
	assert.Equal(t, models.Actor{UserID: "user-1"}, actor)
}

func TestAuthenticator_JWT(t *testing.T) {
	const secret = "s3cret"
	h := NewAuthenticator(AuthConfig{HMACSecret: secret, Issuer: "loyalty"}, quietLogger()).Middleware(echoActor())
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantActor  models.Actor
	}{
		{name: "missing token", wantStatus: http.StatusUnauthorized},
		{name: "header identity is ignored", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signed(t, "other", jwt.MapClaims{"sub": "u1", "iss": "loyalty", "exp": exp}), wantStatus: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + signed(t, secret, jwt.MapClaims{"sub": "u1", "iss": "evil", "exp": exp}), wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signed(t, secret, jwt.MapClaims{"sub": "u1", "iss": "loyalty", "exp": time.Now().Add(-time.Hour).Unix()}), wantStatus: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signed(t, secret, jwt.MapClaims{"iss": "loyalty", "exp": exp}), wantStatus: http.StatusUnauthorized},
		{name: "user", header: "Bearer " + signed(t, secret, jwt.MapClaims{"sub": "u1", "iss": "loyalty", "exp": exp}), wantStatus: http.StatusOK, wantActor: models.Actor{UserID: "u1"}},
		{name: "admin", header: "bearer " + signed(t, secret, jwt.MapClaims{"sub": "ops", "iss": "loyalty", "role": "admin", "exp": exp}), wantStatus: http.StatusOK, wantActor: models.Actor{UserID: "ops", Admin: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
			req.Header.Set(HeaderUserID, "spoofed")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				var body ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, http.StatusUnauthorized, body.Code)
				return
			}
			var actor models.Actor
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&actor))
			assert.Equal(t, tt.wantActor, actor)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithActor(req.Context(), models.Actor{UserID: user}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"), "burst exhausted")
	assert.Equal(t, http.StatusOK, call("b"), "buckets are per user")
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(0, 1)
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.allow("a", time.Now()))
	}
}

func TestLogging_RecordsRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	var seen *statusWriter
	h := Logging(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.(*statusWriter)
		r = r.WithContext(WithActor(r.Context(), models.Actor{UserID: "u1"}))
		Route(mux).ServeHTTP(w, r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "GET /items/{id}", seen.route)
	assert.Equal(t, "u1", seen.userID)
}
