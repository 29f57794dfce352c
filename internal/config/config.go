package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for linerelay.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Line       LineConfig       `json:"line" yaml:"line"`
	Telegram   TelegramConfig   `json:"telegram" yaml:"telegram"`
	Completion CompletionConfig `json:"completion" yaml:"completion"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Host                   string `json:"host" yaml:"host"`
	Port                   int    `json:"port" yaml:"port"`
	ShutdownTimeoutSeconds int    `json:"shutdownTimeoutSeconds" yaml:"shutdownTimeoutSeconds"`
	MaxBodyBytes           int64  `json:"maxBodyBytes" yaml:"maxBodyBytes"`
}

// LineConfig holds the LINE Messaging API channel credentials.
type LineConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	ChannelAccessToken string `json:"channelAccessToken" yaml:"channelAccessToken"`
	ChannelSecret      string `json:"channelSecret" yaml:"channelSecret"`
	CallbackPath       string `json:"callbackPath" yaml:"callbackPath"`
	APIBase            string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
}

type TelegramConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Token          string `json:"token" yaml:"token"`
	SecretToken    string `json:"secretToken" yaml:"secretToken"` // sent back by Telegram in X-Telegram-Bot-Api-Secret-Token
	WebhookPath    string `json:"webhookPath" yaml:"webhookPath"`
	APIEndpoint    string `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"` // printf template, see tgbotapi.APIEndpoint
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// CompletionConfig configures the OpenAI-compatible completion endpoint.
type CompletionConfig struct {
	APIBase        string `json:"apiBase" yaml:"apiBase"`
	APIKey         string `json:"apiKey" yaml:"apiKey"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	FallbackText   string `json:"fallbackText" yaml:"fallbackText"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" | "json"
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Environment variables that override file values. The first three are the
// names the relay has always been deployed with.
const (
	EnvLineAccessToken     = "LINE_CHANNEL_ACCESS_TOKEN"
	EnvLineChannelSecret   = "LINE_CHANNEL_SECRET"
	EnvCompletionAPIKey    = "GROK_API_KEY"
	EnvTelegramToken       = "TELEGRAM_BOT_TOKEN"
	EnvTelegramSecretToken = "TELEGRAM_SECRET_TOKEN"
	EnvPort                = "LINERELAY_PORT"
)

// DefaultConfigDir returns the default config directory (~/.linerelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".linerelay"
	}
	return filepath.Join(home, ".linerelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the config file at path on top of Defaults, applies environment
// overrides and validates the result. An empty path skips the file, so the
// relay can run from environment variables alone.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation. The CLI uses it to inspect and edit
// incomplete configs.
func Read(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ApplyEnv overrides credentials and the listen port from the environment.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvLineAccessToken); v != "" {
		cfg.Line.ChannelAccessToken = v
	}
	if v := os.Getenv(EnvLineChannelSecret); v != "" {
		cfg.Line.ChannelSecret = v
	}
	if v := os.Getenv(EnvCompletionAPIKey); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv(EnvTelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv(EnvTelegramSecretToken); v != "" {
		cfg.Telegram.SecretToken = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg to path, as YAML or JSON depending on the extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Credentials live in this file.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and that every required
// secret is resolved. A ${VAR} reference left in place by ExpandEnvVars is
// rejected like a missing value.
func Validate(cfg *Config) error {
	return validate(cfg, true)
}

// ValidateDraft is Validate for a config about to be written to disk, where
// secrets may still be ${VAR} references to resolve at load time.
func ValidateDraft(cfg *Config) error {
	return validate(cfg, false)
}

// Unresolved reports whether v still holds a ${VAR} reference.
func Unresolved(v string) bool {
	return envVarPattern.MatchString(v)
}

type secretRef struct {
	path, env, value string
}

// requiredSecrets lists the credentials the enabled platforms need.
func requiredSecrets(cfg *Config) []secretRef {
	var refs []secretRef
	if cfg.Line.Enabled {
		refs = append(refs,
			secretRef{"line.channelAccessToken", EnvLineAccessToken, cfg.Line.ChannelAccessToken},
			secretRef{"line.channelSecret", EnvLineChannelSecret, cfg.Line.ChannelSecret})
	}
	if cfg.Telegram.Enabled {
		refs = append(refs,
			secretRef{"telegram.token", EnvTelegramToken, cfg.Telegram.Token},
			secretRef{"telegram.secretToken", EnvTelegramSecretToken, cfg.Telegram.SecretToken})
	}
	return append(refs, secretRef{"completion.apiKey", EnvCompletionAPIKey, cfg.Completion.APIKey})
}

// UnresolvedEnv returns the environment variables named by required secrets
// that are still ${VAR} references.
func UnresolvedEnv(cfg *Config) []string {
	var names []string
	for _, ref := range requiredSecrets(cfg) {
		if Unresolved(ref.value) {
			names = append(names, ref.env)
		}
	}
	return names
}

func validate(cfg *Config, resolved bool) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.ShutdownTimeoutSeconds < 0 {
		errs = append(errs, "server.shutdownTimeoutSeconds must be >= 0")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}

	if !cfg.Line.Enabled && !cfg.Telegram.Enabled {
		errs = append(errs, "at least one of line.enabled or telegram.enabled must be true")
	}
	if cfg.Line.Enabled {
		if cfg.Line.ChannelAccessToken == "" {
			errs = append(errs, "line.channelAccessToken is required (or set "+EnvLineAccessToken+")")
		}
		if cfg.Line.ChannelSecret == "" {
			errs = append(errs, "line.channelSecret is required (or set "+EnvLineChannelSecret+")")
		}
		if !strings.HasPrefix(cfg.Line.CallbackPath, "/") {
			errs = append(errs, "line.callbackPath must start with /")
		}
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required (or set "+EnvTelegramToken+")")
		}
		if cfg.Telegram.SecretToken == "" {
			errs = append(errs, "telegram.secretToken is required (or set "+EnvTelegramSecretToken+")")
		}
		if !strings.HasPrefix(cfg.Telegram.WebhookPath, "/") {
			errs = append(errs, "telegram.webhookPath must start with /")
		}
		if cfg.Telegram.TimeoutSeconds < 1 {
			errs = append(errs, "telegram.timeoutSeconds must be >= 1")
		}
		if cfg.Line.Enabled && cfg.Telegram.WebhookPath == cfg.Line.CallbackPath {
			errs = append(errs, "telegram.webhookPath must differ from line.callbackPath")
		}
	}

	if cfg.Completion.APIBase == "" {
		errs = append(errs, "completion.apiBase is required")
	}
	if cfg.Completion.APIKey == "" {
		errs = append(errs, "completion.apiKey is required (or set "+EnvCompletionAPIKey+")")
	}
	if resolved {
		for _, ref := range requiredSecrets(cfg) {
			if Unresolved(ref.value) {
				errs = append(errs, ref.path+" is an unresolved reference "+ref.value+" (set "+ref.env+")")
			}
		}
	}
	if cfg.Completion.Model == "" {
		errs = append(errs, "completion.model is required")
	}
	if cfg.Completion.TimeoutSeconds < 1 {
		errs = append(errs, "completion.timeoutSeconds must be >= 1")
	}
	if strings.TrimSpace(cfg.Completion.FallbackText) == "" {
		errs = append(errs, "completion.fallbackText must not be empty")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, "logging.format must be one of: text, json")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
