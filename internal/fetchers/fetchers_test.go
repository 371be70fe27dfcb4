package fetchers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/query-cache/clock"
	"github.com/krisalay/query-cache/key"
)

func newUpstreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pokemon", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"count":2,"results":[{"name":"bulbasaur","url":"https://pokeapi.co/api/v2/pokemon/1/"},{"name":"ivysaur","url":"https://pokeapi.co/api/v2/pokemon/2/"}]}`))
	})
	mux.HandleFunc("/posts", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"userId":1,"id":1,"title":"first","body":"a"},{"userId":1,"id":2,"title":"second","body":"b"}]`))
	})
	mux.HandleFunc("/posts/2", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"userId":1,"id":2,"title":"second","body":"b"}`))
	})
	mux.HandleFunc("/posts/404", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestUpstream(t *testing.T, opts Options) *Upstream {
	srv := newUpstreamServer(t)
	opts.PokemonAPI = srv.URL
	opts.PostsAPI = srv.URL + "/"
	opts.Client = srv.Client()
	return New(opts)
}

func TestPokemon(t *testing.T) {
	u := newTestUpstream(t, Options{})

	data, err := u.Pokemon(context.Background(), key.MustCanonicalize("pokemon"))
	require.NoError(t, err)
	assert.Equal(t, []Pokemon{
		{Name: "bulbasaur", URL: "https://pokeapi.co/api/v2/pokemon/1/"},
		{Name: "ivysaur", URL: "https://pokeapi.co/api/v2/pokemon/2/"},
	}, data)
}

func TestPostsAndPost(t *testing.T) {
	u := newTestUpstream(t, Options{})
	ctx := context.Background()

	data, err := u.Posts(ctx, key.MustCanonicalize("posts"))
	require.NoError(t, err)
	posts := data.([]Post)
	require.Len(t, posts, 2)
	assert.Equal(t, "second", posts[1].Title)

	data, err = u.Post(ctx, key.MustCanonicalize([]any{"post", 2}))
	require.NoError(t, err)
	assert.Equal(t, Post{ID: 2, UserID: 1, Title: "second", Body: "b"}, data)
}

func TestPostErrors(t *testing.T) {
	u := newTestUpstream(t, Options{})
	ctx := context.Background()

	_, err := u.Post(ctx, key.MustCanonicalize([]any{"post", 404}))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	_, err = u.Post(ctx, key.MustCanonicalize([]any{"post", "abc"}))
	assert.Error(t, err)
}

func TestSimulatedFailure(t *testing.T) {
	u := newTestUpstream(t, Options{Fail: true})

	_, err := u.Pokemon(context.Background(), key.MustCanonicalize("pokemon"))
	require.ErrorIs(t, err, ErrSimulated)
	assert.Equal(t, "Test error", err.Error())

	u.SetFailing(false)
	_, err = u.Pokemon(context.Background(), key.MustCanonicalize("pokemon"))
	assert.NoError(t, err)
}

func TestSimulatedDelay(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	u := newTestUpstream(t, Options{Delay: time.Second, Clock: clk})

	done := make(chan error, 1)
	go func() {
		_, err := u.Posts(context.Background(), key.MustCanonicalize("posts"))
		done <- err
	}()

	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	clk.Advance(999 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("fetch finished before the delay elapsed")
	default:
	}

	clk.Advance(time.Millisecond)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("fetch did not finish after the delay")
	}
}

func TestDelayHonorsCancellation(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	u := newTestUpstream(t, Options{Delay: time.Hour, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := u.Posts(ctx, key.MustCanonicalize("posts"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, clk.Pending())
}

func TestPostFromList(t *testing.T) {
	pick := PostFromList(2)
	list := []Post{{ID: 1}, {ID: 2, Title: "second"}}

	p, ok := pick(list)
	require.True(t, ok)
	assert.Equal(t, "second", p.(Post).Title)

	_, ok = PostFromList(3)(list)
	assert.False(t, ok)
	_, ok = pick("not a list")
	assert.False(t, ok)
}
