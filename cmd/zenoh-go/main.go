// zenoh-go prints version information and runs a loopback self test of the
// binding.
//
// Usage:
//
//	zenoh-go version
//	zenoh-go selftest [--config zenoh.yaml] [--log-level debug]
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh"
	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/logging"
)

func main() {
	if err := createApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "zenoh-go",
		Usage:   "zenoh binding tools",
		Version: zenoh.BindingVersion(),
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "print binding and engine versions",
				Action: func(_ context.Context, cmd *cli.Command) error {
					w := cmd.Root().Writer
					fmt.Fprintf(w, "binding: %s\n", zenoh.BindingVersion())
					fmt.Fprintf(w, "engine:  %s\n", zenoh.DefaultEngineVersion())
					return nil
				},
			},
			{
				Name:  "selftest",
				Usage: "run put, get and liveliness round trips on a loopback engine",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "YAML or JSON session configuration",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "overrides log_level from the configuration",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg := zenoh.DefaultConfig()
					if path := cmd.String("config"); path != "" {
						var err error
						if cfg, err = zenoh.LoadConfig(path); err != nil {
							return err
						}
					}
					if lvl := cmd.String("log-level"); lvl != "" {
						cfg.LogLevel = lvl
					}
					logger, err := newLogger(cfg.LogLevel)
					if err != nil {
						return err
					}
					defer func() { _ = logger.Sync() }()
					zenoh.SetLogger(logging.NewZap(logger))
					defer zenoh.SetLogger(nil)

					return selftest(ctx, cfg, cmd.Root().Writer)
				},
			},
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if strings.TrimSpace(level) != "" {
		if err := lvl.Set(level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = true
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
