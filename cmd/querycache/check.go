package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/krisalay/query-cache/internal/config"
	"github.com/krisalay/query-cache/internal/logging"
)

func checkConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-config",
		Usage: "validate the configuration and exit",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.InitLogger(*cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			fields := logging.BaseFields("check_config", path)
			fields["listen_port"] = cfg.ListenPort
			fields["eviction"] = cfg.EvictionPolicy
			fields["result"] = "ok"
			logger.WithFields(fields).Info("configuration is valid")
			return nil
		},
	}
}
