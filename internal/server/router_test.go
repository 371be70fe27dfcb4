package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "github.com/krisalay/query-cache"
	"github.com/krisalay/query-cache/internal/fetchers"
	"github.com/krisalay/query-cache/metrics"
	"github.com/krisalay/query-cache/refresh"
)

type upstreamStub struct {
	*httptest.Server
	pokemonHits atomic.Int32
	postHits    atomic.Int32
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/pokemon", func(w http.ResponseWriter, _ *http.Request) {
		stub.pokemonHits.Add(1)
		w.Write([]byte(`{"results":[{"name":"bulbasaur","url":"u1"}]}`))
	})
	mux.HandleFunc("/posts", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"userId":1,"id":1,"title":"first","body":"a"},{"userId":1,"id":2,"title":"second","body":"b"}]`))
	})
	mux.HandleFunc("/posts/", func(w http.ResponseWriter, _ *http.Request) {
		stub.postHits.Add(1)
		w.Write([]byte(`{"userId":1,"id":2,"title":"second (fresh)","body":"b"}`))
	})
	stub.Server = httptest.NewServer(mux)
	t.Cleanup(stub.Close)
	return stub
}

type testEnv struct {
	server   *Server
	client   *cache.Client
	upstream *fetchers.Upstream
	stub     *upstreamStub
}

func newTestEnv(t *testing.T, query cache.QueryConfig) testEnv {
	t.Helper()
	stub := newUpstreamStub(t)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheus("querycache", reg)
	require.NoError(t, err)

	focus := refresh.NewBroadcaster()
	client := cache.NewClient(cache.Options{Metrics: m, Focus: focus, Logger: logger})
	t.Cleanup(client.Close)

	upstream := fetchers.New(fetchers.Options{
		PokemonAPI: stub.URL,
		PostsAPI:   stub.URL,
		Client:     stub.Client(),
		Logger:     logger,
	})

	srv, err := New(context.Background(), Options{
		Client:   client,
		Upstream: upstream,
		Focus:    focus,
		Query:    query,
		Gatherer: reg,
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	return testEnv{server: srv, client: client, upstream: upstream, stub: stub}
}

func doJSON(t *testing.T, env testEnv, method, path string) (*http.Response, queryResponse) {
	t.Helper()
	resp, err := env.server.App().Test(httptest.NewRequest(method, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body queryResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestPokemonRoute(t *testing.T) {
	env := newTestEnv(t, cache.DefaultQueryConfig())

	resp, body := doJSON(t, env, http.MethodGet, "/pokemon")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, `["pokemon"]`, body.Key)
	assert.NotEmpty(t, body.UpdatedAgo)
	require.NotNil(t, body.UpdatedAt)

	rows, ok := body.Data.([]any)
	require.True(t, ok)
	assert.Equal(t, "bulbasaur", rows[0].(map[string]any)["name"])
}

func TestPokemonRouteRendersError(t *testing.T) {
	env := newTestEnv(t, cache.DefaultQueryConfig())
	env.upstream.SetFailing(true)

	require.Eventually(t, func() bool {
		snap, err := env.client.Refetch(context.Background(), "pokemon", env.upstream.Pokemon, cache.DefaultQueryConfig())
		return err == nil && snap.IsError()
	}, time.Second, 10*time.Millisecond)

	_, body := doJSON(t, env, http.MethodGet, "/pokemon")
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "Test error", body.Error)
}

func TestPostSeededFromList(t *testing.T) {
	query := cache.DefaultQueryConfig()
	query.StaleTime = time.Hour
	env := newTestEnv(t, query)

	_, list := doJSON(t, env, http.MethodGet, "/posts")
	require.Equal(t, "success", list.Status)

	_, body := doJSON(t, env, http.MethodGet, "/posts/2?wait=false")
	assert.Equal(t, "success", body.Status)
	assert.False(t, body.IsFetching)
	assert.Equal(t, "second", body.Data.(map[string]any)["title"])
	assert.Zero(t, env.stub.postHits.Load())
}

func TestPostNotInListIsFetched(t *testing.T) {
	env := newTestEnv(t, cache.DefaultQueryConfig())

	_, body := doJSON(t, env, http.MethodGet, "/posts/7")
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, int32(1), env.stub.postHits.Load())
}

func TestBadPostID(t *testing.T) {
	env := newTestEnv(t, cache.DefaultQueryConfig())

	resp, _ := doJSON(t, env, http.MethodGet, "/posts/abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFocusRefetchesMountedViews(t *testing.T) {
	query := cache.DefaultQueryConfig()
	query.StaleTime = time.Hour
	env := newTestEnv(t, query)

	doJSON(t, env, http.MethodGet, "/pokemon")
	before := env.stub.pokemonHits.Load()

	resp, _ := doJSON(t, env, http.MethodPost, "/focus")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return env.stub.pokemonHits.Load() == before+1 }, time.Second, time.Millisecond)
}

func TestInvalidateRoute(t *testing.T) {
	query := cache.DefaultQueryConfig()
	query.StaleTime = time.Hour
	env := newTestEnv(t, query)

	doJSON(t, env, http.MethodGet, "/pokemon")
	before := env.stub.pokemonHits.Load()

	resp, _ := doJSON(t, env, http.MethodPost, "/invalidate/pokemon")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return env.stub.pokemonHits.Load() == before+1 }, time.Second, time.Millisecond)
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, cache.DefaultQueryConfig())
	doJSON(t, env, http.MethodGet, "/pokemon")

	resp, err := env.server.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "querycache_query_fetches_total")
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
