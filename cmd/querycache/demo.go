package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	cache "github.com/krisalay/query-cache"
	"github.com/krisalay/query-cache/internal/config"
	"github.com/krisalay/query-cache/internal/fetchers"
	"github.com/krisalay/query-cache/internal/logging"
	"github.com/krisalay/query-cache/types"
)

// ================= DEMO =================
//
// The demo renders the pokemon and posts screens to the terminal:
// the pokemon list, then the posts list and one post whose detail screen is
// seeded from the list.

func demoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "render the pokemon and posts screens in the terminal",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "simulated upstream latency",
				Value: time.Second,
			},
			&cli.BoolFlag{
				Name:  "fail",
				Usage: `make every fetch fail with "Test error"`,
			},
			&cli.Int64Flag{
				Name:  "post",
				Usage: "post id for the detail screen",
				Value: 1,
			},
		},
		Action: runDemo,
	}
}

func runDemo(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.SimulateDelay = config.Duration(cmd.Duration("delay"))
	cfg.SimulateError = cfg.SimulateError || cmd.Bool("fail")
	if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}

	logger, err := logging.InitLogger(*cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.client.Close()

	q := queryConfig(cfg)
	start := time.Now()

	if err := showScreen(ctx, st.client, "pokemon", "pokemon", st.upstream.Pokemon, q, renderPokemon); err != nil {
		return err
	}
	if err := showScreen(ctx, st.client, "posts", "posts", st.upstream.Posts, q, renderPosts); err != nil {
		return err
	}

	id := cmd.Int64("post")
	detail := q
	detail.InitialData = cache.SeedFrom(st.client, "posts", fetchers.PostFromList(id))
	if err := showScreen(ctx, st.client, fmt.Sprintf("post %d", id), []any{"post", id}, st.upstream.Post, detail, renderPost); err != nil {
		return err
	}

	fmt.Fprintf(stdOut, "\n%s entries cached, demo took %s\n",
		humanize.Comma(int64(st.client.Len())), time.Since(start).Round(time.Millisecond))
	return nil
}

/*
showScreen mounts a screen: it watches the query, prints every state the
screen would render, waits for the fetch to settle and unmounts.
*/
func showScreen(
	ctx context.Context,
	client *cache.Client,
	title string,
	rawKey any,
	fetch types.Fetcher,
	cfg cache.QueryConfig,
	render func(any) []string,
) error {
	fmt.Fprintf(stdOut, "\n================ %s ================\n", title)

	var mu sync.Mutex
	last := ""
	draw := func(e types.Entry) {
		mu.Lock()
		defer mu.Unlock()
		frame := strings.Join(screen(e, render), "\n")
		if frame == "" || frame == last {
			return
		}
		last = frame
		fmt.Fprintln(stdOut, frame)
	}

	obs, err := client.Watch(ctx, rawKey, fetch, cfg, draw)
	if err != nil {
		return err
	}
	defer obs.Close()

	draw(obs.Snapshot())
	snap, err := client.Fetch(ctx, rawKey, fetch, cfg)
	if err != nil {
		return err
	}
	if snap.HasData() {
		fmt.Fprintf(stdOut, "(updated %s)\n", humanize.Time(snap.UpdatedAt))
	}
	return nil
}

func screen(e types.Entry, render func(any) []string) []string {
	switch e.Status {
	case types.StatusLoading:
		return []string{"Loading..."}
	case types.StatusError:
		return []string{e.Error.Error()}
	case types.StatusSuccess:
		return render(e.Data)
	default:
		return nil
	}
}

func renderPokemon(data any) []string {
	rows, _ := data.([]fetchers.Pokemon)
	out := make([]string, 0, len(rows))
	for _, p := range rows {
		out = append(out, p.Name)
	}
	return out
}

func renderPosts(data any) []string {
	rows, _ := data.([]fetchers.Post)
	out := make([]string, 0, len(rows))
	for _, p := range rows {
		out = append(out, fmt.Sprintf("%3d  %s", p.ID, p.Title))
	}
	return out
}

func renderPost(data any) []string {
	p, ok := data.(fetchers.Post)
	if !ok {
		return nil
	}
	return []string{p.Title, "", p.Body}
}
