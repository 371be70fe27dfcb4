/*
Package fetchers holds the HTTP fetchers the demo service registers with the
query cache: the pokemon listing, the posts list and a single post.
*/
package fetchers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/krisalay/query-cache/clock"
	"github.com/krisalay/query-cache/internal/config"
)

// ErrSimulated is what every fetch fails with while failure simulation is on.
var ErrSimulated = errors.New("Test error")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d", e.URL, e.Code)
}

var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient returns the shared upstream client.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// Upstream fetches from the configured APIs.
type Upstream struct {
	pokemonAPI string
	postsAPI   string

	http   *http.Client
	clock  clock.Clock
	logger logrus.FieldLogger

	delay   atomic.Int64
	failing atomic.Bool
}

// Options configures an Upstream. Nil Client, Clock and Logger get defaults.
type Options struct {
	PokemonAPI string
	PostsAPI   string
	Delay      time.Duration
	Fail       bool

	Client *http.Client
	Clock  clock.Clock
	Logger logrus.FieldLogger
}

// FromConfig maps the service config onto Options.
func FromConfig(cfg *config.Config) Options {
	return Options{
		PokemonAPI: cfg.PokemonAPI,
		PostsAPI:   cfg.PostsAPI,
		Delay:      cfg.SimulateDelay.DurationValue(),
		Fail:       cfg.SimulateError,
		Client:     NewHTTPClient(cfg.UpstreamTimeout.DurationValue()),
	}
}

func New(opts Options) *Upstream {
	if opts.Client == nil {
		opts.Client = NewHTTPClient(0)
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	u := &Upstream{
		pokemonAPI: strings.TrimRight(opts.PokemonAPI, "/"),
		postsAPI:   strings.TrimRight(opts.PostsAPI, "/"),
		http:       opts.Client,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	u.delay.Store(int64(opts.Delay))
	u.failing.Store(opts.Fail)
	return u
}

// SetDelay changes the simulated latency for fetches that start afterwards.
func (u *Upstream) SetDelay(d time.Duration) { u.delay.Store(int64(d)) }

// SetFailing toggles failure simulation.
func (u *Upstream) SetFailing(fail bool) { u.failing.Store(fail) }

// get runs the simulated delay and failure, then GETs url and returns the body.
func (u *Upstream) get(ctx context.Context, url string) ([]byte, error) {
	if err := u.sleep(ctx, time.Duration(u.delay.Load())); err != nil {
		return nil, err
	}
	if u.failing.Load() {
		return nil, ErrSimulated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := u.clock.Now()
	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	u.logger.WithFields(logrus.Fields{
		"action":  "upstream",
		"url":     url,
		"status":  resp.StatusCode,
		"elapsed": u.clock.Now().Sub(start).String(),
	}).Debug("upstream responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("upstream %s returned invalid JSON", url)
	}
	return body, nil
}

func (u *Upstream) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	t := u.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
