package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ppiankov/ecowatch/internal/cache"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/ppiankov/ecowatch/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server   *httptest.Server
	cache    *cache.Cache
	upstream *httptest.Server
	calls    *atomic.Int32
	down     *atomic.Bool
}

func newTestEnv(t *testing.T, satellite bool) *testEnv {
	t.Helper()

	env := &testEnv{calls: &atomic.Int32{}, down: &atomic.Bool{}}
	env.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.calls.Add(1)
		if env.down.Load() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = fmt.Fprintf(w, `{"source":%q}`, r.URL.Path)
	}))
	t.Cleanup(env.upstream.Close)

	cfg := model.DefaultConfig()
	cfg.RateLimiting.RequestsPerSecond = 0
	cfg.Sources.Weather = env.upstream.URL + "/weather?q={city},{country}"
	cfg.Sources.News = env.upstream.URL + "/news?q={city}"
	cfg.Sources.Satellite = ""
	if satellite {
		cfg.Sources.Satellite = env.upstream.URL + "/satellite?q={city}"
	}

	env.cache = cache.New()
	p := pipeline.NewPipeline(cfg, env.cache)
	env.server = httptest.NewServer(New(p, zerolog.Nop()))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, true)
	resp := env.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWeather_MissThenHit(t *testing.T) {
	env := newTestEnv(t, true)

	resp := env.do(t, http.MethodGet, "/api/v1/weather?city=Lagos&country=NG")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get(CacheHeader))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap model.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "weather", snap.Kind)
	assert.JSONEq(t, `{"source":"/weather"}`, string(snap.Body))

	resp = env.do(t, http.MethodGet, "/api/v1/weather?city=lagos&country=ng")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get(CacheHeader))
	assert.Equal(t, int32(1), env.calls.Load())
}

func TestRefreshBypassesCache(t *testing.T) {
	env := newTestEnv(t, true)

	env.do(t, http.MethodGet, "/api/v1/news?city=Lagos")
	resp := env.do(t, http.MethodGet, "/api/v1/news?city=Lagos&refresh=true")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get(CacheHeader))
	assert.Equal(t, int32(2), env.calls.Load())
}

func TestKindAliases(t *testing.T) {
	env := newTestEnv(t, true)

	for _, path := range []string{"critical-issues", "environment", "environmental_data"} {
		resp := env.do(t, http.MethodGet, "/api/v1/"+path+"?city=Oslo&country=NO")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestErrors(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"missing city", "/api/v1/weather?country=NG", http.StatusBadRequest},
		{"blank city", "/api/v1/weather?city=%20%20", http.StatusBadRequest},
		{"unknown kind", "/api/v1/pollen?city=Lagos", http.StatusNotFound},
		{"unconfigured source", "/api/v1/satellite?city=Lagos", http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.down.Store(true)

	resp := env.do(t, http.MethodGet, "/api/v1/weather?city=Lagos")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(CacheHeader))

	resp = env.do(t, http.MethodGet, "/api/v1/environment?city=Lagos")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCacheStatsAndClear(t *testing.T) {
	env := newTestEnv(t, true)

	env.do(t, http.MethodGet, "/api/v1/weather?city=Lagos")
	env.do(t, http.MethodGet, "/api/v1/news?city=Lagos")

	resp := env.do(t, http.MethodGet, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats cache.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, cache.Stats{Total: 2, Valid: 2, Expired: 0}, stats)

	resp = env.do(t, http.MethodPost, "/api/v1/cache/clear")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, env.cache.Stats().Total)
}

func TestInvalidateLocation(t *testing.T) {
	env := newTestEnv(t, true)

	env.do(t, http.MethodGet, "/api/v1/weather?city=Lagos&country=NG")
	env.do(t, http.MethodGet, "/api/v1/weather?city=Accra&country=GH")

	resp := env.do(t, http.MethodDelete, "/api/v1/cache?city=lagos&country=ng")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok := env.cache.Get(cache.KindWeather, model.Location{City: "Lagos", Country: "NG"})
	assert.False(t, ok)
	_, ok = env.cache.Get(cache.KindWeather, model.Location{City: "Accra", Country: "GH"})
	assert.True(t, ok)

	resp = env.do(t, http.MethodDelete, "/api/v1/cache")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWriteJSON_LogsEncodeError(t *testing.T) {
	var buf bytes.Buffer
	h := hlog.NewHandler(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]any{"bad": make(chan int)})
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/weather", nil))

	assert.Contains(t, buf.String(), "write response")
	assert.Contains(t, buf.String(), `"level":"error"`)
}
