package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linerelay/internal/channel"
	"linerelay/internal/config"
	"linerelay/internal/domain"
	"linerelay/internal/provider"
	"linerelay/internal/relay"
	"linerelay/internal/server"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	if logger == nil {
		logger = slog.Default()
	}
	root := &cobra.Command{
		Use:   "linerelay",
		Short: "linerelay: LINE to LLM completion webhook relay",
		Long: `linerelay receives LINE (and optionally Telegram) webhooks, asks an
OpenAI-compatible completion API for an answer and replies in the same chat.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml or config.json (default: ~/.linerelay/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// serveConfigPath is resolveConfigPath, except that a missing default file
// yields "" so the relay can start from environment variables alone.
func serveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	p := config.DefaultConfigPath()
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return p
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "linerelay %s\n", version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook relay",
		Long:  "Starts the HTTP server for all enabled platforms. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := serveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("linerelay starting", "version", version, "config", cfgPath, "model", cfg.Completion.Model)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildServer wires config into platforms, the completion client, the relay
// and the HTTP server.
func buildServer(cfg *config.Config, logger *slog.Logger) (*server.Server, error) {
	client := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.Completion.APIKey,
		APIBase: cfg.Completion.APIBase,
		Model:   cfg.Completion.Model,
		Timeout: time.Duration(cfg.Completion.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	answerer := provider.NewFallback(client, cfg.Completion.FallbackText, logger)

	var platforms []domain.Platform
	if cfg.Line.Enabled {
		line, err := channel.NewLine(channel.LineConfig{
			ChannelSecret:      cfg.Line.ChannelSecret,
			ChannelAccessToken: cfg.Line.ChannelAccessToken,
			Path:               cfg.Line.CallbackPath,
			APIBase:            cfg.Line.APIBase,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("line platform: %w", err)
		}
		platforms = append(platforms, line)
		logger.Info("line platform enabled", "path", line.Path())
	}
	if cfg.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:       cfg.Telegram.Token,
			SecretToken: cfg.Telegram.SecretToken,
			Path:        cfg.Telegram.WebhookPath,
			APIEndpoint: cfg.Telegram.APIEndpoint,
			Timeout:     time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second,
			Logger:      logger,
		})
		platforms = append(platforms, tg)
		logger.Info("telegram platform enabled", "path", tg.Path())
	}

	r := relay.New(relay.Config{
		Answerer:  answerer,
		Platforms: platforms,
		Logger:    logger,
	})

	return server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsPath:     cfg.Metrics.Path,
		Platforms:       platforms,
		Relay:           r,
		Logger:          logger,
	}), nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. completion.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. completion.timeoutSeconds 60)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Read(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths, values := config.ListPaths(config.Sanitize(cfg))
			out := cmd.OutOrStdout()
			for _, p := range paths {
				data, _ := json.Marshal(values[p])
				fmt.Fprintf(out, "%s = %s\n", p, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
