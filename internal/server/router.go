package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	cache "github.com/krisalay/query-cache"
	"github.com/krisalay/query-cache/clock"
	"github.com/krisalay/query-cache/internal/fetchers"
	"github.com/krisalay/query-cache/internal/logging"
	"github.com/krisalay/query-cache/key"
	"github.com/krisalay/query-cache/refresh"
	"github.com/krisalay/query-cache/types"
)

const contextKeyRequestID = "_querycache_request_id"

// Options wires the HTTP surface to a client and its upstream fetchers.
type Options struct {
	Client   *cache.Client
	Upstream *fetchers.Upstream

	// Focus is fired by POST /focus. It must be the signal Client was built with.
	Focus *refresh.Broadcaster

	// Query is the config every route starts from.
	Query cache.QueryConfig

	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	Logger *logrus.Logger
	Clock  clock.Clock

	// WaitTimeout bounds how long a request waits for a fetch to settle. Default 30s.
	WaitTimeout time.Duration
}

/*
Server is the demo service: the pokemon and posts screens exposed
over HTTP.

While it runs it keeps the "pokemon" and "posts" queries observed, the way a
mounted screen would, so refocus and invalidation refetch them.
*/
type Server struct {
	app       *fiber.App
	opts      Options
	observers []*cache.Observer
}

func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Client == nil {
		return nil, errors.New("query client is required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("upstream fetchers are required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}

	s := &Server{opts: opts}
	for _, view := range []struct {
		name  string
		fetch types.Fetcher
	}{
		{"pokemon", opts.Upstream.Pokemon},
		{"posts", opts.Upstream.Posts},
	} {
		obs, err := opts.Client.Watch(ctx, view.name, view.fetch, opts.Query, s.logTransition)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("watch %s: %w", view.name, err)
		}
		s.observers = append(s.observers, obs)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  s.renderError,
	})
	app.Use(recover.New())
	app.Use(requestIDMiddleware)

	app.Get("/pokemon", s.handleList("pokemon", opts.Upstream.Pokemon))
	app.Get("/posts", s.handleList("posts", opts.Upstream.Posts))
	app.Get("/posts/:id", s.handlePost)
	app.Post("/focus", s.handleFocus)
	app.Post("/invalidate/:name", s.handleInvalidate)
	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	s.app = app
	return s, nil
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(port int) error {
	s.opts.Logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("http server starting")
	return s.app.Listen(fmt.Sprintf(":%d", port))
}

// Close stops observing the mounted views. It does not close the client.
func (s *Server) Close() {
	for _, obs := range s.observers {
		obs.Close()
	}
	s.observers = nil
}

func requestIDMiddleware(c fiber.Ctx) error {
	reqID := uuid.NewString()
	c.Locals(contextKeyRequestID, reqID)
	c.Set("X-Request-ID", reqID)
	return c.Next()
}

// RequestID returns the identifier assigned by the request ID middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func (s *Server) handleList(name string, fetch types.Fetcher) fiber.Handler {
	return func(c fiber.Ctx) error {
		return s.serve(c, name, fetch, s.opts.Query)
	}
}

// handlePost serves ["post", id], seeded from the cached posts list when it has that post.
func (s *Server) handlePost(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "post id must be a positive integer")
	}

	cfg := s.opts.Query
	cfg.InitialData = cache.SeedFrom(s.opts.Client, "posts", fetchers.PostFromList(id))
	return s.serve(c, []any{"post", id}, s.opts.Upstream.Post, cfg)
}

func (s *Server) handleFocus(c fiber.Ctx) error {
	if s.opts.Focus == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "no focus signal configured")
	}
	s.opts.Focus.Notify()
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleInvalidate(c fiber.Ctx) error {
	name := c.Params("name")
	if err := s.opts.Client.InvalidatePrefix(context.Background(), name); err != nil {
		return err
	}
	s.opts.Logger.WithFields(logrus.Fields{
		"action":     "invalidate",
		"prefix":     name,
		"request_id": RequestID(c),
	}).Info("queries invalidated")
	return c.SendStatus(fiber.StatusAccepted)
}

/*
serve answers with the query's snapshot. By default it waits for an
outstanding fetch to settle; ?wait=false returns the snapshot taken right
after the ensure-fresh decision, loading state included.

Fetches outlive the request, so the query context is not derived from the
fiber context (which is recycled once the handler returns).
*/
func (s *Server) serve(c fiber.Ctx, rawKey any, fetch types.Fetcher, cfg cache.QueryConfig) error {
	var (
		snap types.Entry
		err  error
	)
	if c.Query("wait") == "false" {
		snap, err = s.opts.Client.EnsureFresh(context.Background(), rawKey, fetch, cfg)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WaitTimeout)
		defer cancel()
		snap, err = s.opts.Client.Fetch(ctx, rawKey, fetch, cfg)
		if errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil {
		return err
	}

	s.opts.Logger.WithFields(logging.QueryFields(snap, RequestID(c))).Debug("query served")
	return c.JSON(s.render(snap))
}

type queryResponse struct {
	Key        string     `json:"key"`
	Status     string     `json:"status"`
	Data       any        `json:"data,omitempty"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
	UpdatedAgo string     `json:"updatedAgo,omitempty"`
	IsFetching bool       `json:"isFetching"`
}

func (s *Server) render(snap types.Entry) queryResponse {
	resp := queryResponse{
		Key:        snap.Key.String(),
		Status:     string(snap.Status),
		Data:       snap.Data,
		IsFetching: snap.IsFetching,
	}
	if snap.Error != nil {
		resp.Error = snap.Error.Error()
	}
	if snap.HasData() {
		at := snap.UpdatedAt
		resp.UpdatedAt = &at
		resp.UpdatedAgo = humanize.RelTime(at, s.opts.Clock.Now(), "ago", "from now")
	}
	return resp
}

func (s *Server) renderError(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, key.ErrInvalidKey), errors.Is(err, types.ErrStaleConfig):
		code = fiber.StatusBadRequest
	case errors.Is(err, cache.ErrClosed):
		code = fiber.StatusServiceUnavailable
	}

	s.opts.Logger.WithFields(logrus.Fields{
		"action":     "http_error",
		"path":       c.Path(),
		"status":     code,
		"request_id": RequestID(c),
	}).WithError(err).Warn("request failed")

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) logTransition(e types.Entry) {
	s.opts.Logger.WithFields(logging.QueryFields(e, "")).Debug("query transition")
}
