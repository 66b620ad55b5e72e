package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/segmark/internal"
	pkgconfig "github.com/starford/segmark/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func classify(ctx context.Context, cmd *cli.Command) error {
	req := classifyRequest{
		Classifier: cmd.String("classifier"),
		Image:      cmd.String("image"),
		Out:        cmd.String("out"),
		Labels:     cmd.String("labels"),
		Workers:    int(cmd.Int("workers")),
	}
	if err := runClassify(ctx, req); err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	slog.Info("classified image",
		slog.String("image", req.Image),
		slog.String("out", req.Out))
	return nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:    "segmark",
		Usage:   "Interactive image segmentation from drawn annotations",
		Version: version,
		Action:  serve,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the catalog watcher",
				Action: serve,
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the annotation tools over MCP stdio",
				Action: serveMCP,
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "classify",
				Usage:  "Apply an exported classifier to an image",
				Action: classify,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "classifier",
						Usage:    "Path to the exported classifier JSON",
						Required: true,
						Sources:  cli.EnvVars("CLF_PATH"),
					},
					&cli.StringFlag{
						Name:     "image",
						Usage:    "Path to the image to segment",
						Required: true,
						Sources:  cli.EnvVars("IMG_PATH"),
					},
					&cli.StringFlag{
						Name:     "out",
						Usage:    "Path of the colored segmentation PNG",
						Required: true,
						Sources:  cli.EnvVars("OUT_IMG_PATH"),
					},
					&cli.StringFlag{
						Name:  "labels",
						Usage: "Optional path of a 16-bit label PNG",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Parallel prediction workers (0 uses all CPUs)",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
