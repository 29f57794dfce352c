package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"linerelay/internal/config"
	"linerelay/internal/provider"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your linerelay setup",
		Long: `Verifies that the configuration, credentials, listen port and the
completion endpoint are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &doctorReport{w: cmd.OutOrStdout()}
			runDoctor(cmd.Context(), r, serveConfigPath(), !offline)
			return r.finish()
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the completion endpoint reachability check")
	return cmd
}

type doctorReport struct {
	w                      io.Writer
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.w, "  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.w, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.w, "  [WARN] %-20s %s\n", check, detail)
}

func (r *doctorReport) finish() error {
	fmt.Fprintf(r.w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.w, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(r.w, "\nPlease fix the failed checks before running linerelay serve.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(r.w, "\nlinerelay should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(r.w, "\nAll checks passed! linerelay is ready to run.\n")
	}
	return nil
}

func runDoctor(ctx context.Context, r *doctorReport, cfgPath string, online bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintf(r.w, "linerelay doctor v%s\n", version)
	fmt.Fprintf(r.w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	// 1. Config file
	if cfgPath == "" {
		r.warn("Config file", "none found, using defaults and environment only")
	} else if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
		r.fail("Config file", fmt.Sprintf("not found at %s (run 'linerelay init')", cfgPath))
		return
	} else {
		r.pass("Config file", cfgPath)
	}

	cfg, err := config.Read(cfgPath)
	if err != nil {
		r.fail("Config parse", err.Error())
		return
	}

	// 2. Validation
	if err := config.Validate(cfg); err != nil {
		r.fail("Config validation", err.Error())
	} else {
		r.pass("Config validation", "valid")
	}

	// 3. Credentials
	if cfg.Line.Enabled {
		checkSecret(r, "LINE access token", cfg.Line.ChannelAccessToken, config.EnvLineAccessToken)
		checkSecret(r, "LINE secret", cfg.Line.ChannelSecret, config.EnvLineChannelSecret)
	}
	if cfg.Telegram.Enabled {
		checkSecret(r, "Telegram token", cfg.Telegram.Token, config.EnvTelegramToken)
		checkSecret(r, "Telegram secret", cfg.Telegram.SecretToken, config.EnvTelegramSecretToken)
	}
	checkSecret(r, "Completion API key", cfg.Completion.APIKey, config.EnvCompletionAPIKey)

	// 4. Listen port
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	if err := checkPort(addr); err != nil {
		r.warn("Listen port", fmt.Sprintf("%s may be in use: %v", addr, err))
	} else {
		r.pass("Listen port", addr+" available")
	}

	// 5. Log file
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.Logging.File)
		}
	}

	// 6. Completion endpoint
	if !online {
		return
	}
	if cfg.Completion.APIKey == "" {
		r.warn("Completion API", "skipped, no API key")
		return
	}
	client := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.Completion.APIKey,
		APIBase: cfg.Completion.APIBase,
		Model:   cfg.Completion.Model,
		Timeout: 10 * time.Second,
		Logger:  logger,
	})
	if err := client.Healthy(ctx); err != nil {
		r.warn("Completion API", err.Error())
	} else {
		r.pass("Completion API", cfg.Completion.APIBase+" reachable")
	}
}

func checkSecret(r *doctorReport, name, value, env string) {
	if value == "" {
		r.fail(name, "missing (set "+env+")")
		return
	}
	if config.Unresolved(value) {
		r.fail(name, "unresolved reference "+value+" (set "+env+")")
		return
	}
	r.pass(name, "set")
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
