package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "batchgen: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "batchgen",
		Version: version,
		Usage:   "Run prompt sheets through an asynchronous image generation provider",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "settings",
				Usage:   "Path to the JSON settings file",
				Sources: cli.EnvVars("SETTINGS_PATH"),
			},
		},
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			credentialsCmd(),
		},
	}
}
