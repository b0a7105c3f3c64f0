package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/demandcast/internal/api/middleware"
	"github.com/kiranshivaraju/demandcast/internal/cache"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Fakes ---

type failingLookupStore struct {
	*store.MemoryStore
}

func (failingLookupStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, errors.New("connection reset")
}

type countingCache struct {
	*cache.MemoryCache
	counter int64
	err     error
}

func (m *countingCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	m.counter++
	return m.counter, m.err
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func storeWithKey(t *testing.T, rawKey string, scopes ...string) (*store.MemoryStore, *models.APIKey) {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)

	s := store.NewMemoryStore()
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test",
		KeyHash:   string(h),
		KeyPrefix: rawKey[:11],
		Scopes:    scopes,
	}
	require.NoError(t, s.CreateAPIKey(context.Background(), key))
	return s, key
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func serve(h http.Handler, rawKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	if rawKey != "" {
		req.Header.Set("Authorization", "Bearer "+rawKey)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	auth := mw.NewAuth(store.NewMemoryStore())
	w := serve(auth.Authenticate(okHandler()), "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	auth := mw.NewAuth(store.NewMemoryStore())
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyTooShort(t *testing.T) {
	auth := mw.NewAuth(store.NewMemoryStore())
	w := serve(auth.Authenticate(okHandler()), "dc_short")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_WrongMarker(t *testing.T) {
	auth := mw.NewAuth(store.NewMemoryStore())
	w := serve(auth.Authenticate(okHandler()), "lh_test1234567890abcdef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid API key format", errBody(t, w)["message"])
}

func TestAuth_KeyNotFound(t *testing.T) {
	auth := mw.NewAuth(store.NewMemoryStore())
	w := serve(auth.Authenticate(okHandler()), "dc_test1234567890abcdef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_LookupFailure(t *testing.T) {
	auth := mw.NewAuth(failingLookupStore{store.NewMemoryStore()})
	w := serve(auth.Authenticate(okHandler()), "dc_test1234567890abcdef")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := errBody(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.NotContains(t, body, "details")
}

func TestAuth_WrongSecret(t *testing.T) {
	rawKey := "dc_test1234567890abcdef"
	s, _ := storeWithKey(t, rawKey, models.ScopeRead)
	auth := mw.NewAuth(s)

	w := serve(auth.Authenticate(okHandler()), rawKey[:11]+"different_secret")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidKey(t *testing.T) {
	rawKey := "dc_test1234567890abcdef"
	s, key := storeWithKey(t, rawKey, models.ScopeRead)
	auth := mw.NewAuth(s)

	var got *models.APIKey
	var gotOK bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, gotOK = mw.GetAPIKey(r)
		w.WriteHeader(http.StatusOK)
	})

	w := serve(auth.Authenticate(inner), rawKey)

	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, gotOK)
	assert.Equal(t, key.ID, got.ID)

	assert.Eventually(t, func() bool {
		keys, err := s.ListAPIKeys(context.Background())
		return err == nil && len(keys) == 1 && keys[0].LastUsedAt != nil
	}, time.Second, 5*time.Millisecond)
}

func TestAuth_RequireScope(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		want   int
	}{
		{"exact scope", []string{models.ScopeForecast}, http.StatusOK},
		{"admin implies all", []string{models.ScopeAdmin}, http.StatusOK},
		{"missing scope", []string{models.ScopeRead}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rawKey := "dc_scope123456789abcdef"
			s, _ := storeWithKey(t, rawKey, tt.scopes...)
			auth := mw.NewAuth(s)

			w := serve(auth.Authenticate(auth.RequireScope(models.ScopeForecast)(okHandler())), rawKey)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", errBody(t, w)["code"])
			}
		})
	}
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func withPrefix(req *http.Request, prefix string) *http.Request {
	ctx := context.WithValue(req.Context(), mw.ExportedKeyPrefixKey(), prefix)
	return req.WithContext(ctx)
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	rl := mw.NewRateLimit(cache.NewMemoryCache(), mw.Limits{Requests: 60})
	handler := rl.Limit(okHandler())

	req := withPrefix(httptest.NewRequest("GET", "/test", nil), "dc_test1234")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "api", w.Header().Get("X-RateLimit-Bucket"))

	reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Zero(t, reset%60, "window ends on a minute boundary")
}

func TestRateLimit_DefaultLimits(t *testing.T) {
	rl := mw.NewRateLimit(cache.NewMemoryCache(), mw.Limits{})

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, withPrefix(httptest.NewRequest("GET", "/test", nil), "dc_dflt1234"))
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	rl.LimitForecasts(okHandler()).ServeHTTP(w, withPrefix(httptest.NewRequest("POST", "/test", nil), "dc_dflt1234"))
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	rl := mw.NewRateLimit(cache.NewMemoryCache(), mw.Limits{Requests: 2})
	rl.SetClock(func() time.Time { return time.Date(2026, 10, 14, 12, 30, 45, 200e6, time.UTC) })
	handler := rl.Limit(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, withPrefix(httptest.NewRequest("GET", "/test", nil), "dc_over1234"))
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "15", last.Header().Get("Retry-After"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(time.Date(2026, 10, 14, 12, 31, 0, 0, time.UTC).Unix(), 10),
		last.Header().Get("X-RateLimit-Reset"))

	body := errBody(t, last)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])
	assert.Equal(t, map[string]any{"bucket": "api", "limit": float64(2)}, body["details"])

	// Another key has its own window.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withPrefix(httptest.NewRequest("GET", "/test", nil), "dc_other123"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_NewWindowResetsCount(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 30, 59, 0, time.UTC)
	rl := mw.NewRateLimit(cache.NewMemoryCache(), mw.Limits{Requests: 1})
	rl.SetClock(func() time.Time { return now })
	handler := rl.Limit(okHandler())

	hit := func() int {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withPrefix(httptest.NewRequest("GET", "/test", nil), "dc_wind1234"))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit())
	assert.Equal(t, http.StatusTooManyRequests, hit())

	now = now.Add(2 * time.Second)
	assert.Equal(t, http.StatusOK, hit())
}

func TestRateLimit_ForecastBucketIsSeparate(t *testing.T) {
	rl := mw.NewRateLimit(cache.NewMemoryCache(), mw.Limits{Requests: 5, Forecasts: 1})
	forecasts := rl.Limit(rl.LimitForecasts(okHandler()))
	reads := rl.Limit(okHandler())

	w := httptest.NewRecorder()
	forecasts.ServeHTTP(w, withPrefix(httptest.NewRequest("POST", "/forecasts", nil), "dc_fcst1234"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	forecasts.ServeHTTP(w, withPrefix(httptest.NewRequest("POST", "/forecasts", nil), "dc_fcst1234"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "forecast", w.Header().Get("X-RateLimit-Bucket"))
	body := errBody(t, w)
	assert.Equal(t, "FORECAST_RATE_LIMIT_EXCEEDED", body["code"])
	assert.Equal(t, map[string]any{"bucket": "forecast", "limit": float64(1)}, body["details"])

	// Both forecast requests counted against the general budget too.
	w = httptest.NewRecorder()
	reads.ServeHTTP(w, withPrefix(httptest.NewRequest("GET", "/regions", nil), "dc_fcst1234"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_CacheErrorFailsOpen(t *testing.T) {
	mc := &countingCache{MemoryCache: cache.NewMemoryCache(), err: errors.New("redis down")}
	rl := mw.NewRateLimit(mc, mw.Limits{Requests: 1})
	handler := rl.Limit(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withPrefix(httptest.NewRequest("GET", "/test", nil), "dc_down1234"))
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, int64(3), mc.counter)
}

func TestRateLimit_NoKeyPrefix_PassThrough(t *testing.T) {
	rl := mw.NewRateLimit(cache.NewMemoryCache(), mw.Limits{Requests: 60})
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_ReportsRequestAndRoute(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(mw.Recovery)
	r.Get("/api/v1/forecasts/runs/{runID}", func(_ http.ResponseWriter, _ *http.Request) {
		panic("nil run")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/forecasts/runs/abc", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	details, ok := errBody(t, w)["details"].(map[string]any)
	require.True(t, ok, "details should carry the request id")
	reqID, _ := details["request_id"].(string)
	assert.NotEmpty(t, reqID)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "panic recovered", entry["msg"])
	assert.Equal(t, "/api/v1/forecasts/runs/{runID}", entry["route"])
	assert.Equal(t, "/api/v1/forecasts/runs/abc", entry["path"])
	assert.Equal(t, reqID, entry["request_id"])
}

func TestRecovery_RepanicsAbort(t *testing.T) {
	handler := mw.Recovery(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))
	})
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
}
