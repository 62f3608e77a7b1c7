package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wavvy/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:   "wavvy",
		Usage:  "Chat generation engine for causal language models",
		Flags:  append(loggingFlags(), configFlag()),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config file and installs the logger on ctx.
func setup(ctx context.Context, c *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	applyLoggingConfig(c, cfg)

	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return ctx, err
	}
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	log := logger.NewFormat(os.Stderr, format, level)

	ctx = logger.WithContext(ctx, log)
	return withConfig(ctx, cfg), nil
}
