package main

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wavvy/internal/api"
	"github.com/samcharles93/wavvy/internal/inference"
	"github.com/samcharles93/wavvy/internal/logger"
	"github.com/samcharles93/wavvy/internal/metrics"
	"github.com/samcharles93/wavvy/internal/version"
)

func serveCmd() *cli.Command {
	var (
		mf           modelFlags
		sf           samplingFlags
		addr         string
		readTimeout  time.Duration
		defaultModel string
	)

	flags := append(mf.flags(), sf.flags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.StringFlag{
			Name:        "default-model",
			Usage:       "model answering requests that name none (config file models only)",
			Destination: &defaultModel,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the OpenAI-compatible chat completions API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFromContext(ctx)
			applyServeConfig(cmd, cfg, &addr)

			models, err := serveModels(cmd, cfg, mf)
			if err != nil {
				return err
			}

			provider := api.NewCachedEngineProvider(api.EngineProviderConfig{
				Models:       models,
				DefaultModel: defaultModel,
				Base:         cfg.Base(),
				Options:      sf.options(cmd),
				EngineOpts: []inference.Option{
					inference.WithLogger(log),
					inference.WithObserver(metrics.Observer{}),
				},
			})
			defer func() { _ = provider.Close() }()

			server := api.NewServer(provider, api.WithServerLogger(log))
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server",
				"address", addr,
				"version", version.String(),
				"models", slices.Sorted(maps.Keys(models)),
			)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, server.Handler(e))
		},
	}
}

// serveModels builds the served model table. Models named in the config
// file win; otherwise the model flags describe a single model served under
// its variant name.
func serveModels(cmd *cli.Command, cfg Config, mf modelFlags) (map[string]inference.Loader, error) {
	if len(cfg.Models) == 0 {
		applyModelConfig(cmd, cfg.ModelConfig, &mf)
		l, err := resolveLoader(mf)
		if err != nil {
			return nil, err
		}
		return map[string]inference.Loader{l.Variant.String(): l}, nil
	}

	models := make(map[string]inference.Loader, len(cfg.Models))
	for name, mc := range cfg.Models {
		l, err := resolveLoader(modelFlags{
			modelDir:         mc.ModelDir,
			variant:          withDefault(mc.Variant, "primary"),
			tokenizerJSON:    mc.Tokenizer,
			tokenizerConfig:  mc.TokenizerConfig,
			generationConfig: mc.GenerationConfig,
			modelSpec:        withDefault(mc.Model, "toy"),
			encodeCacheTTL:   mc.EncodeCacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		models[name] = l
	}
	return models, nil
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
