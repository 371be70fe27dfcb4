package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/krisalay/query-cache/internal/config"
	"github.com/krisalay/query-cache/internal/logging"
	"github.com/krisalay/query-cache/internal/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the pokemon and posts views over HTTP",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "port",
				Usage: "listen port (overrides ListenPort)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port := cmd.Int64("port"); port > 0 {
		cfg.ListenPort = int(port)
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

	srv, err := server.New(ctx, server.Options{
		Client:   st.client,
		Upstream: st.upstream,
		Focus:    st.focus,
		Query:    queryConfig(cfg),
		Gatherer: st.registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	fields := logging.BaseFields("startup", path)
	fields["listen_port"] = cfg.ListenPort
	fields["stale_time"] = cfg.StaleTime.DurationValue().String()
	fields["cache_time"] = cfg.CacheTime.DurationValue().String()
	logger.WithFields(fields).Info("configuration loaded")

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("shutting down")
		if err := srv.App().Shutdown(); err != nil {
			logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("shutdown failed")
		}
	}()

	return srv.Listen(cfg.ListenPort)
}
