package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(stdErr, err)
		os.Exit(1)
	}
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "config file (TOML, YAML or JSON); empty runs on defaults and environment",
	Sources: cli.EnvVars("QUERYCACHE_CONFIG"),
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "querycache",
		Usage:  "asynchronous query cache demo",
		Flags:  []cli.Flag{configFlag},
		Writer: stdOut,
		Commands: []*cli.Command{
			serveCommand(),
			demoCommand(),
			checkConfigCommand(),
		},
	}
}
