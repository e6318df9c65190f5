package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper that returns "ok" when the request reaches the inner handler.
func okHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"ok":true}`)); err != nil {
			t.Errorf("okHandler: failed to write response: %v", err)
		}
	})
}

// ---------- AuthMiddleware ----------

func TestAuthMiddleware_RejectsMissingAuth(t *testing.T) {
	handler := AuthMiddleware("")(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp Response
	err := json.NewDecoder(w.Result().Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, 401, resp.Code)
}

func TestAuthMiddleware_AcceptsBearerToken(t *testing.T) {
	handler := AuthMiddleware("")(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_AcceptsAPIKeyHeader(t *testing.T) {
	handler := AuthMiddleware("")(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-API-Key", "my-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_RejectsWrongBearerToken(t *testing.T) {
	handler := AuthMiddleware("correct-token")(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_AcceptsCorrectBearerToken(t *testing.T) {
	handler := AuthMiddleware("correct-token")(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer correct-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_RejectsWrongAPIKey(t *testing.T) {
	handler := AuthMiddleware("correct-token")(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_StoresKey(t *testing.T) {
	var captured string
	handler := AuthMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetAPIKey(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-API-Key", "k-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "k-1", captured)
}

// ---------- ProfileIDMiddleware ----------

func TestProfileIDMiddleware_ExtractsProfileID(t *testing.T) {
	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetProfileID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	r := chi.NewRouter()
	r.Route("/profiles/{profile_id}", func(r chi.Router) {
		r.Use(ProfileIDMiddleware)
		r.Get("/history", inner)
	})

	req := httptest.NewRequest(http.MethodGet, "/profiles/abc-123/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", captured)
}

func TestProfileIDMiddleware_MissingProfileID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Mount without the {profile_id} param to simulate a missing value.
	r := chi.NewRouter()
	r.With(ProfileIDMiddleware).Get("/no-profile", inner)

	req := httptest.NewRequest(http.MethodGet, "/no-profile", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetProfileID_EmptyContext(t *testing.T) {
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	assert.Equal(t, "", GetProfileID(ctx))
}

func TestValidID(t *testing.T) {
	for _, ok := range []string{"abc", "A-1_b.c", "01J9Z"} {
		assert.True(t, ValidID(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "a/b", "a b", "ä"} {
		assert.False(t, ValidID(bad), bad)
	}
}

// ---------- Recoverer ----------

func TestRecoverer_WritesExceptionEnvelope(t *testing.T) {
	handler := Recoverer(Builder{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, 500, resp.Code)
	assert.Empty(t, resp.Message)
	assert.Nil(t, resp.Debug)
}

func TestRecoverer_DebugCarriesPanic(t *testing.T) {
	handler := Recoverer(Builder{Debug: true}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Debug)
	assert.Equal(t, "boom", resp.Debug.Error)
	assert.NotEmpty(t, resp.Debug.Stack)
}

// ---------- RateLimiter ----------

func TestRateLimiter_PerKeyBuckets(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	handler := AuthMiddleware("")(rl.Handler(okHandler(t)))

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", key)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusOK, do("b"), "other keys keep their own bucket")
}

func TestRateLimiter_DisabledWhenRPSZero(t *testing.T) {
	handler := NewRateLimiter(0, 1).Handler(okHandler(t))
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_FallsBackToIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	handler := rl.Handler(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:6666"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
