package config

const (
	DefaultLineAPIBase       = "https://api.line.me"
	DefaultCompletionAPIBase = "https://api.x.ai/v1"
	DefaultCompletionModel   = "grok-3-latest"
	DefaultFallbackText      = "the assistant is temporarily unavailable, please try again later"
)

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8000,
			ShutdownTimeoutSeconds: 5,
			MaxBodyBytes:           1 << 20,
		},
		Line: LineConfig{
			Enabled:      true,
			CallbackPath: "/callback",
			APIBase:      DefaultLineAPIBase,
		},
		Telegram: TelegramConfig{
			Enabled:        false,
			WebhookPath:    "/telegram",
			TimeoutSeconds: 10,
		},
		Completion: CompletionConfig{
			APIBase:        DefaultCompletionAPIBase,
			Model:          DefaultCompletionModel,
			TimeoutSeconds: 30,
			FallbackText:   DefaultFallbackText,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
