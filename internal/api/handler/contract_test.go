package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/demandcast/internal/ai"
	"github.com/kiranshivaraju/demandcast/internal/ai/mock"
	"github.com/kiranshivaraju/demandcast/internal/api"
	"github.com/kiranshivaraju/demandcast/internal/api/handler"
	mw "github.com/kiranshivaraju/demandcast/internal/api/middleware"
	"github.com/kiranshivaraju/demandcast/internal/apikey"
	"github.com/kiranshivaraju/demandcast/internal/cache"
	"github.com/kiranshivaraju/demandcast/internal/forecast"
	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/internal/signal"
	"github.com/kiranshivaraju/demandcast/internal/signal/static"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	"github.com/kiranshivaraju/demandcast/pkg/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server  *httptest.Server
	store   store.Store
	adminID uuid.UUID
	admin   string
	reader  string
}

type serverOption func(*serverConfig)

type serverConfig struct {
	provider  models.AIProvider
	store     store.Store
	opts      forecast.Options
	limits    mw.Limits
}

func withProvider(p models.AIProvider) serverOption {
	return func(c *serverConfig) { c.provider = p }
}

func withStore(s store.Store) serverOption {
	return func(c *serverConfig) { c.store = s }
}

func withTimeout(d time.Duration) serverOption {
	return func(c *serverConfig) { c.opts.Timeout = d }
}

func withRateLimit(n int) serverOption {
	return func(c *serverConfig) { c.limits.Requests = n }
}

func withForecastRateLimit(n int) serverOption {
	return func(c *serverConfig) { c.limits.Forecasts = n }
}

func newTestServer(t *testing.T, options ...serverOption) *testServer {
	t.Helper()

	cfg := serverConfig{
		provider:  mock.NewMockProvider(),
		store:     store.NewMemoryStore(),
		opts:      forecast.DefaultOptions(),
		limits:    mw.Limits{Requests: 1000, Forecasts: 1000},
	}
	for _, o := range options {
		o(&cfg)
	}

	reg, err := region.Default()
	require.NoError(t, err)
	tax, err := prompt.DefaultTaxonomy()
	require.NoError(t, err)
	chain := signal.Chain{}
	for _, kind := range models.SignalKinds {
		chain.Add(kind, models.ProvenanceStatic, static.New())
	}
	c := cache.NewMemoryCache()

	svc := forecast.NewService(forecast.Deps{
		Registry:   reg,
		Aggregator: signal.NewAggregator(signal.NewResolver(reg, chain), tax),
		Taxonomy:   tax,
		Provider:   cfg.provider,
		Store:      cfg.store,
		Cache:      c,
	}, cfg.opts)

	ctx := context.Background()
	adminKey, admin, err := apikey.Generate("admin", []string{models.ScopeAdmin})
	require.NoError(t, err)
	require.NoError(t, cfg.store.CreateAPIKey(ctx, adminKey))
	readerKey, reader, err := apikey.Generate("reader", []string{models.ScopeRead})
	require.NoError(t, err)
	require.NoError(t, cfg.store.CreateAPIKey(ctx, readerKey))

	router := api.NewRouter(api.Dependencies{
		Auth:             mw.NewAuth(cfg.store),
		RateLimit:        mw.NewRateLimit(c, cfg.limits),
		ForecastHandler:  handler.NewForecastHandler(svc),
		RunHandler:       handler.NewRunHandler(svc),
		ListPredictions:  handler.NewListPredictionsHandler(cfg.store, reg),
		ListAlerts:       handler.NewListAlertsHandler(cfg.store, reg),
		ResolveAlert:     handler.NewResolveAlertHandler(cfg.store),
		ListRegions:      handler.NewListRegionsHandler(reg),
		CreateKeyHandler: handler.NewCreateKeyHandler(cfg.store),
		ListKeysHandler:  handler.NewListKeysHandler(cfg.store),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(cfg.store),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: cfg.store, adminID: adminKey.ID, admin: admin, reader: reader}
}

func (ts *testServer) do(t *testing.T, key, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return parseBody(t, resp)["error"].(map[string]any)["code"].(string)
}

func jaipurBody() map[string]any {
	return map[string]any{"sector": "agriculture", "region": "Jaipur", "timeframe": "30 days"}
}

// ─── forecasts ───────────────────────────────────────────────────────────────

func TestForecast_200_Sync(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts", jaipurBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "Jaipur", data["region"])
	assert.Equal(t, "agriculture", data["sector"])
	assert.Len(t, data["predictions"], 3)
	assert.InDelta(t, (0.82+0.74+0.68)/3, data["confidence"], 1e-6)
	assert.Equal(t, []any{"Drip irrigation kit"}, data["risk_factors"])
	assert.Equal(t, []any{"Urea"}, data["opportunities"])
	assert.NotEmpty(t, data["data_sources_used"])
}

func TestForecast_400_InvalidRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"sector":`},
		{"missing fields", map[string]any{"timeframe": "30 days"}},
		{"unknown sector", map[string]any{"sector": "mining", "region": "Jaipur"}},
		{"unknown timeframe", map[string]any{"sector": "retail", "region": "Jaipur", "timeframe": "1 year"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, resp))
		})
	}
}

func TestForecast_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		option serverOption
		body   map[string]any
		status int
		code   string
	}{
		{"unknown region", withProvider(mock.NewMockProvider()), map[string]any{"sector": "retail", "region": "Atlantis"},
			http.StatusNotFound, "REGION_UNKNOWN"},
		{"provider down", withProvider(mock.NewFailingProvider(ai.ErrInferenceUnavailable)), jaipurBody(),
			http.StatusBadGateway, "INFERENCE_UNAVAILABLE"},
		{"malformed envelope", withProvider(mock.NewFailingProvider(ai.ErrInferenceMalformed)), jaipurBody(),
			http.StatusBadGateway, "INFERENCE_MALFORMED"},
		{"prose answer", withProvider(mock.NewResponder("Sorry, I cannot do that.")), jaipurBody(),
			http.StatusUnprocessableEntity, "RESPONSE_UNPARSABLE"},
		{"no valid items", withProvider(mock.NewResponder(`[{"category":"x"}]`)), jaipurBody(),
			http.StatusUnprocessableEntity, "NO_VALID_PREDICTIONS"},
		{"persistence conflict", withStore(conflictStore{store.NewMemoryStore()}), jaipurBody(),
			http.StatusConflict, "PERSISTENCE_CONFLICT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.option)
			resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, resp))
		})
	}
}

func TestForecast_504_Timeout(t *testing.T) {
	ts := newTestServer(t, withProvider(mock.NewTimeoutProvider()), withTimeout(50*time.Millisecond))

	resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts", jaipurBody())
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	body := parseBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "INFERENCE_TIMEOUT", body["code"])
	assert.Equal(t, map[string]any{"stage": "inferring"}, body["details"])
}

func TestForecast_FailureKeepsPreviousBatch(t *testing.T) {
	st := store.NewMemoryStore()
	ok := newTestServer(t, withStore(st))
	resp := ok.do(t, ok.admin, "POST", "/api/v1/forecasts", jaipurBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	failing := newTestServer(t, withStore(st), withProvider(mock.NewResponder("nothing useful")))
	resp = failing.do(t, failing.admin, "POST", "/api/v1/forecasts", jaipurBody())
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ok.do(t, ok.reader, "GET", "/api/v1/predictions?sector=agriculture&region=Jaipur", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"], 3)
}

func TestForecast_202_AsyncThenPoll(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts?async=true", jaipurBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	runID := data["id"].(string)
	assert.Equal(t, "/api/v1/forecasts/runs/"+runID, resp.Header.Get("Location"))

	require.Eventually(t, func() bool {
		resp := ts.do(t, ts.reader, "GET", "/api/v1/forecasts/runs/"+runID, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		run := parseBody(t, resp)["data"].(map[string]any)
		return run["status"] == "completed" && run["prediction_count"] == float64(3)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestForecast_AsyncInvalidRequestIsSynchronous(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts?async=true", map[string]any{"sector": "retail", "region": "Atlantis"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRun_400_404(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.reader, "GET", "/api/v1/forecasts/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, ts.reader, "GET", "/api/v1/forecasts/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errorCode(t, resp))
}

type conflictStore struct {
	*store.MemoryStore
}

func (conflictStore) ReplaceForecast(context.Context, *store.Batch) error {
	return fmt.Errorf("lock wait: %w", store.ErrPersistenceConflict)
}

// ─── predictions, alerts, regions ────────────────────────────────────────────

func TestPredictions_FilterAndCanonicalRegion(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts", jaipurBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, ts.reader, "GET", "/api/v1/predictions?sector=Agriculture&region=jaipur", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"], 3)

	resp = ts.do(t, ts.reader, "GET", "/api/v1/predictions?sector=retail", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, parseBody(t, resp)["data"])

	resp = ts.do(t, ts.reader, "GET", "/api/v1/predictions?region=Atlantis", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, ts.reader, "GET", "/api/v1/predictions?sector=mining", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAlerts_ListAndResolve(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts", jaipurBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, ts.reader, "GET", "/api/v1/alerts?region=Jaipur", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseBody(t, resp)
	alerts := body["data"].([]any)
	// Urea is a 25% surge; the drip kit is High risk.
	require.Len(t, alerts, 2)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(100), meta["limit"])
	assert.Equal(t, float64(2), meta["total"])

	alertID := alerts[0].(map[string]any)["id"].(string)

	resp = ts.do(t, ts.reader, "POST", "/api/v1/alerts/"+alertID+"/resolve", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "resolving needs the forecast scope")

	resp = ts.do(t, ts.admin, "POST", "/api/v1/alerts/"+alertID+"/resolve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, ts.reader, "GET", "/api/v1/alerts?resolved=false", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"], 1)

	resp = ts.do(t, ts.admin, "POST", "/api/v1/alerts/"+uuid.NewString()+"/resolve", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, ts.reader, "GET", "/api/v1/alerts?resolved=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, ts.reader, "GET", "/api/v1/alerts?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegions_List(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.reader, "GET", "/api/v1/regions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	regions := parseBody(t, resp)["data"].([]any)
	require.NotEmpty(t, regions)
	names := make([]string, 0, len(regions))
	for _, r := range regions {
		names = append(names, r.(map[string]any)["name"].(string))
		_, hasBaseline := r.(map[string]any)["baseline"]
		assert.False(t, hasBaseline)
	}
	assert.Contains(t, names, "Jaipur")
}

// ─── keys and auth ───────────────────────────────────────────────────────────

func TestCreateKey_201_WithRawKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.admin, "POST", "/api/v1/admin/keys", map[string]any{"name": "ci", "scopes": []string{"forecast"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	raw := data["key"].(string)
	assert.Contains(t, raw, apikey.Marker)
	created := data["api_key"].(map[string]any)
	assert.Equal(t, "ci", created["name"])
	_, hasHash := created["key_hash"]
	assert.False(t, hasHash)

	// The new key authenticates and has the forecast scope only.
	resp = ts.do(t, raw, "POST", "/api/v1/forecasts", jaipurBody())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, raw, "GET", "/api/v1/regions", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreateKey_400(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.admin, "POST", "/api/v1/admin/keys", map[string]any{"name": " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, ts.admin, "POST", "/api/v1/admin/keys", map[string]any{"name": "x", "scopes": []string{"root"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListKeys_DoesNotExposeSecrets(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.admin, "GET", "/api/v1/admin/keys", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	keys := parseBody(t, resp)["data"].([]any)
	require.Len(t, keys, 2)
	for _, k := range keys {
		m := k.(map[string]any)
		assert.NotContains(t, m, "key_hash")
		assert.NotContains(t, m, "key")
		assert.Len(t, m["key_prefix"], apikey.PrefixLen)
	}
}

func TestRevokeKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.admin, "POST", "/api/v1/admin/keys", map[string]any{"name": "temp", "scopes": []string{"read"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	raw := data["key"].(string)
	id := data["api_key"].(map[string]any)["id"].(string)

	resp = ts.do(t, ts.admin, "DELETE", "/api/v1/admin/keys/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, raw, "GET", "/api/v1/regions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, ts.admin, "DELETE", "/api/v1/admin/keys/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, ts.admin, "DELETE", "/api/v1/admin/keys/"+ts.adminID.String(), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdminEndpoints_403_WithoutAdminScope(t *testing.T) {
	ts := newTestServer(t)

	for _, ep := range []struct{ method, path string }{
		{"POST", "/api/v1/admin/keys"},
		{"GET", "/api/v1/admin/keys"},
		{"DELETE", "/api/v1/admin/keys/" + uuid.NewString()},
		{"POST", "/api/v1/forecasts"},
	} {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			resp := ts.do(t, ts.reader, ep.method, ep.path, map[string]any{})
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			assert.Equal(t, "FORBIDDEN", errorCode(t, resp))
		})
	}
}

func TestAuth_InvalidBearerToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "dc_notarealkey000000000000", "GET", "/api/v1/regions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, resp))
}

func TestRateLimit_429_Exceeded(t *testing.T) {
	ts := newTestServer(t, withRateLimit(3))

	var last *http.Response
	for i := 0; i < 4; i++ {
		last = ts.do(t, ts.reader, "GET", "/api/v1/regions", nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	retry, err := strconv.Atoi(last.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)

	// A different key has its own window.
	resp := ts.do(t, ts.admin, "GET", "/api/v1/regions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit_429_ForecastBudget(t *testing.T) {
	ts := newTestServer(t, withForecastRateLimit(1))

	resp := ts.do(t, ts.admin, "POST", "/api/v1/forecasts", jaipurBody())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, ts.admin, "POST", "/api/v1/forecasts", jaipurBody())
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "forecast", resp.Header.Get("X-RateLimit-Bucket"))
	assert.Equal(t, "FORECAST_RATE_LIMIT_EXCEEDED", errorCode(t, resp))

	// Reads are still within the general budget.
	resp = ts.do(t, ts.admin, "GET", "/api/v1/regions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "api", resp.Header.Get("X-RateLimit-Bucket"))
}

// ─── envelope ────────────────────────────────────────────────────────────────

func TestResponseFormat_Envelopes(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.reader, "GET", "/api/v1/regions", nil)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body := parseBody(t, resp)
	assert.Contains(t, body, "data")
	assert.NotContains(t, body, "error")

	resp = ts.do(t, "", "GET", "/api/v1/regions", nil)
	body = parseBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Contains(t, errObj, "code")
	assert.Contains(t, errObj, "message")
}
