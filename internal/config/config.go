package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"MailPrompter/internal/classifier"
	"MailPrompter/internal/domain"
	"MailPrompter/internal/stage"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "MAILPROMPTER_CONFIG"
	logLevelEnv     = "LOG_LEVEL"

	emailHostEnv = "EMAIL_HOST"
	emailPortEnv = "EMAIL_PORT"
	emailUserEnv = "EMAIL_USER"
	emailPassEnv = "EMAIL_PASS"

	fetchedDirEnv   = "EMAIL_OUTPUT_BASE_DIR"
	archiveDirEnv   = "SAVED_MAILS_DIR"
	promptsDirEnv   = "SAVED_PROMPTS_DIR"
	completedDirEnv = "COMPLETED_PROMPTS_DIR"

	geminiAPIKeyEnv = "GEMINI_API_KEY"
	openAIAPIKeyEnv = "OPENAI_API_KEY"
	appendLineEnv   = "CONSTANT_APPEND_LINE"

	ledgerDSNEnv      = "LEDGER_DSN"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Mail sources, transform providers, automation backends and ledger drivers understood by the app.
const (
	SourceIMAP = "imap"
	SourceEML  = "eml"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	BackendExec    = "exec"
	BackendWebhook = "webhook"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig           `yaml:"logging"`
	Directories   DirectoryConfig         `yaml:"directories"`
	Mail          MailConfig              `yaml:"mail"`
	Rules         []RuleConfig            `yaml:"rules"`
	Categories    map[string]MarkerConfig `yaml:"categories"`
	Transform     TransformConfig         `yaml:"transform"`
	Automation    AutomationConfig        `yaml:"automation"`
	Ledger        LedgerConfig            `yaml:"ledger"`
	Scheduler     SchedulerConfig         `yaml:"scheduler"`
	Notifications NotificationConfig      `yaml:"notifications"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DirectoryConfig maps the four directory roles. Fetched and Archive may be the same path.
type DirectoryConfig struct {
	Fetched   string `yaml:"fetched"`
	Archive   string `yaml:"archive"`
	Prompts   string `yaml:"prompts"`
	Completed string `yaml:"completed"`
}

// MailConfig describes where messages come from and how bodies are decoded.
type MailConfig struct {
	Source          string     `yaml:"source"`
	IMAP            IMAPConfig `yaml:"imap"`
	EML             EMLConfig  `yaml:"eml"`
	StripHTML       bool       `yaml:"stripHtml"`
	FallbackCharset string     `yaml:"fallbackCharset"`
}

// IMAPConfig holds the mailbox connection details.
type IMAPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Folder   string        `yaml:"folder"`
	MarkSeen bool          `yaml:"markSeen"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EMLConfig points at a directory of .eml files used instead of a live mailbox.
type EMLConfig struct {
	Dir string `yaml:"dir"`
}

// RuleConfig maps a subject pattern to a category. Order matters.
type RuleConfig struct {
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
}

// MarkerConfig delimits the relevant part of a category's email body.
type MarkerConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// RetryConfig bounds calls to an external collaborator.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Interval    time.Duration `yaml:"interval"`
}

// TransformConfig defines how to contact the generative backend.
type TransformConfig struct {
	Provider     string        `yaml:"provider"`
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	Instructions string        `yaml:"instructions"`
	AppendLine   string        `yaml:"appendLine"`
	Timeout      time.Duration `yaml:"timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

// AutomationConfig defines the downstream tool that executes prompts.
type AutomationConfig struct {
	Backend    string        `yaml:"backend"`
	Command    []string      `yaml:"command"`
	Preflight  []string      `yaml:"preflight"`
	WebhookURL string        `yaml:"webhookUrl"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
	Settle     time.Duration `yaml:"settle"`
	Retry      RetryConfig   `yaml:"retry"`
}

// LedgerConfig enables the database-backed sequence ledger. An empty driver keeps
// the directory-scan allocator.
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when serve mode runs the pipeline.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	Endpoint string `yaml:"endpoint"`
}

// Enabled reports whether run summaries should be sent.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Path returns the config file location named by the environment, if any.
func Path() string {
	return os.Getenv(configPathEnv)
}

// Load reads YAML configuration over the defaults, then applies environment overrides.
// An empty path falls back to $MAILPROMPTER_CONFIG; no file at all means defaults.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = Path()
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Printf("config: %s not found, using defaults", path)
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	cfg.bindTimezone()

	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(emailHostEnv); v != "" {
		c.Mail.IMAP.Host = v
	}
	if v := os.Getenv(emailPortEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", emailPortEnv, err)
		}
		c.Mail.IMAP.Port = port
	}
	if v := os.Getenv(emailUserEnv); v != "" {
		c.Mail.IMAP.Username = v
	}
	if v := os.Getenv(emailPassEnv); v != "" {
		c.Mail.IMAP.Password = v
	}

	if v := os.Getenv(fetchedDirEnv); v != "" {
		c.Directories.Fetched = v
	}
	if v := os.Getenv(archiveDirEnv); v != "" {
		c.Directories.Archive = v
	}
	if v := os.Getenv(promptsDirEnv); v != "" {
		c.Directories.Prompts = v
	}
	if v := os.Getenv(completedDirEnv); v != "" {
		c.Directories.Completed = v
	}

	switch c.Transform.Provider {
	case ProviderGemini:
		if v := os.Getenv(geminiAPIKeyEnv); v != "" {
			c.Transform.APIKey = v
		}
	case ProviderOpenAI:
		if v := os.Getenv(openAIAPIKeyEnv); v != "" {
			c.Transform.APIKey = v
		}
	}
	if v := os.Getenv(appendLineEnv); v != "" {
		c.Transform.AppendLine = v
	}

	if v := os.Getenv(ledgerDSNEnv); v != "" {
		c.Ledger.DSN = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	return nil
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Directories: DirectoryConfig{
			Fetched:   "savedmails",
			Archive:   "savedmails",
			Prompts:   "savedprompts",
			Completed: "complete",
		},
		Mail: MailConfig{
			Source: SourceIMAP,
			IMAP: IMAPConfig{
				Port:     993,
				Folder:   "INBOX",
				MarkSeen: true,
				Timeout:  30 * time.Second,
			},
			EML:             EMLConfig{Dir: "inbox"},
			FallbackCharset: "iso-8859-1",
		},
		Transform: TransformConfig{
			Provider:     ProviderGemini,
			Instructions: defaultInstructions,
			Timeout:      60 * time.Second,
			Retry:        RetryConfig{MaxAttempts: 2, Interval: 2 * time.Second},
		},
		Automation: AutomationConfig{
			Backend: BackendExec,
			Timeout: 2 * time.Minute,
			Retry:   RetryConfig{MaxAttempts: 3, Interval: 5 * time.Second},
		},
		Scheduler: SchedulerConfig{CronExpression: "*/15 * * * *", Timezone: defaultTimezone, location: tz},
	}
}

const defaultInstructions = `Extract the booking details from the email content below and rewrite them as one
instruction for the automation tool. Do not add any introductory or concluding remarks,
explanations, or extra text. Provide only the instruction.`

// ClassifierRules returns the subject rules in evaluation order.
func (c Config) ClassifierRules() []classifier.Rule {
	rules := make([]classifier.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, classifier.Rule{Pattern: r.Pattern, Category: r.Category})
	}
	return rules
}

// Markers returns the per-category content markers.
func (c Config) Markers() map[string]domain.Markers {
	out := make(map[string]domain.Markers, len(c.Categories))
	for name, m := range c.Categories {
		out[name] = domain.Markers{Start: m.Start, End: m.End}
	}
	return out
}

// StageDirs maps the directory roles onto the stage store layout.
func (c Config) StageDirs() stage.Dirs {
	return stage.Dirs{
		Fetched:   c.Directories.Fetched,
		Archive:   c.Directories.Archive,
		Prompts:   c.Directories.Prompts,
		Completed: c.Directories.Completed,
	}
}
