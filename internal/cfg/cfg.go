package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/linnemanlabs/leadwatch/internal/schedule"
)

// Store backends accepted by -store.
const (
	StoreAuto     = "auto"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
	StoreNone     = "none"
)

// Completion providers accepted by -completion-provider.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Output formats accepted by -output.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL string
	RedisURL    string
	RedisPrefix string
	Store       string

	CompletionProvider string
	OpenAIAPIKey       string
	OpenAIModel        string
	ClaudeAPIKey       string
	ClaudeModel        string
	CompletionRPS      float64

	SourcesFile  string
	SourceDelay  time.Duration
	FetchTimeout time.Duration
	UserAgent    string

	Schedule        string
	SlackWebhookURL string
	TelegramToken   string
	TelegramChatID  int64
	Output          string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 10, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 30, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token for POST /api/v1/runs (empty = endpoint disabled)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis connection URL (redis://host:port/db)")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "leadwatch:", "key prefix for the redis store")
	fs.StringVar(&c.Store, "store", StoreAuto, "event store: auto|postgres|redis|memory|none (auto = postgres, then redis, then none)")

	fs.StringVar(&c.CompletionProvider, "completion-provider", ProviderOpenAI, "company-name completion provider: openai|claude")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key (empty = title fallback)")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o-mini", "OpenAI chat model")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "Anthropic API key (empty = title fallback)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-haiku-4-5", "Claude model")
	fs.Float64Var(&c.CompletionRPS, "completion-rps", 0, "max completion requests per second (0 = unlimited)")

	fs.StringVar(&c.SourcesFile, "sources-file", "", "YAML source registry (empty = built-in sources)")
	fs.DurationVar(&c.SourceDelay, "source-delay", 2*time.Second, "pause between sources")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", 10*time.Second, "timeout for a single page load")
	fs.StringVar(&c.UserAgent, "user-agent", "", "User-Agent for page fetches (empty = default)")

	fs.StringVar(&c.Schedule, "schedule", "0 */6 * * *", "cron schedule for serve mode (empty = on-demand only)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run summaries")
	fs.StringVar(&c.TelegramToken, "telegram-token", "", "Telegram bot token for run summaries")
	fs.Int64Var(&c.TelegramChatID, "telegram-chat-id", 0, "Telegram chat ID for run summaries")
	fs.StringVar(&c.Output, "output", OutputText, "one-shot output format: text|json")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.Store {
	case StoreAuto, StoreMemory, StoreNone:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("STORE=postgres requires DATABASE_URL"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("STORE=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be auto|postgres|redis|memory|none)", c.Store))
	}

	switch c.CompletionProvider {
	case ProviderOpenAI:
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required"))
		}
	case ProviderClaude:
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid COMPLETION_PROVIDER %q (must be openai|claude)", c.CompletionProvider))
	}
	if c.CompletionRPS < 0 {
		errs = append(errs, fmt.Errorf("invalid COMPLETION_RPS %g (must be >= 0)", c.CompletionRPS))
	}

	if c.SourceDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid SOURCE_DELAY %s (must be >= 0)", c.SourceDelay))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid FETCH_TIMEOUT %s (must be > 0)", c.FetchTimeout))
	}

	if c.Schedule != "" {
		if err := schedule.Validate(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid SCHEDULE: %w", err))
		}
	}

	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set"))
	}

	if c.Output != OutputText && c.Output != OutputJSON {
		errs = append(errs, fmt.Errorf("invalid OUTPUT %q (must be text|json)", c.Output))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StoreKind resolves StoreAuto to a concrete backend: postgres when a
// database URL is set, then redis, then none.
func (c *Config) StoreKind() string {
	if c.Store != StoreAuto {
		return c.Store
	}
	switch {
	case c.DatabaseURL != "":
		return StorePostgres
	case c.RedisURL != "":
		return StoreRedis
	default:
		return StoreNone
	}
}

// CompletionKey returns the API key for the selected provider. Empty means
// the resolver runs in fallback mode.
func (c *Config) CompletionKey() string {
	if c.CompletionProvider == ProviderClaude {
		return c.ClaudeAPIKey
	}
	return c.OpenAIAPIKey
}
