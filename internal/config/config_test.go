package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailprompter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.Rules = []RuleConfig{
		{Pattern: `Booking Confirmed #\d+`, Category: "agency1"},
		{Pattern: `New reservation`, Category: "agency2"},
	}
	cfg.Categories = map[string]MarkerConfig{
		"agency1": {Start: "--- BEGIN ---", End: "--- END ---"},
	}
	return cfg
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "savedmails", cfg.Directories.Fetched)
	assert.Equal(t, "savedmails", cfg.Directories.Archive)
	assert.Equal(t, "savedprompts", cfg.Directories.Prompts)
	assert.Equal(t, "complete", cfg.Directories.Completed)
	assert.Equal(t, 993, cfg.Mail.IMAP.Port)
	assert.Equal(t, time.UTC.String(), cfg.Scheduler.Location().String())
}

func TestLoadDecodesOverDefaults(t *testing.T) {
	if _, err := time.LoadLocation("Europe/Berlin"); err != nil {
		t.Skip("timezone database not available")
	}
	t.Setenv(configPathEnv, "")

	path := writeConfig(t, `
directories:
  prompts: /var/mail/prompts
rules:
  - pattern: 'Booking Confirmed #\d+'
    category: agency1
categories:
  agency1:
    start: "Guest details:"
    end: "Kind regards"
transform:
  provider: openai
  retry:
    maxAttempts: 4
    interval: 3s
automation:
  backend: webhook
  webhookUrl: http://localhost:9000/run
  settle: 7s
scheduler:
  timezone: Europe/Berlin
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/mail/prompts", cfg.Directories.Prompts)
	assert.Equal(t, "savedmails", cfg.Directories.Fetched, "unset keys keep defaults")
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "agency1", cfg.Rules[0].Category)
	assert.Equal(t, "Guest details:", cfg.Categories["agency1"].Start)
	assert.Equal(t, 4, cfg.Transform.Retry.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Transform.Retry.Interval)
	assert.Equal(t, 7*time.Second, cfg.Automation.Settle)
	assert.Equal(t, 3, cfg.Automation.Retry.MaxAttempts)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Location().String())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "savedprompts", cfg.Directories.Prompts)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "rules: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(emailHostEnv, "imap.example.org")
	t.Setenv(emailPortEnv, "1993")
	t.Setenv(emailUserEnv, "bookings@example.org")
	t.Setenv(emailPassEnv, "secret")
	t.Setenv(fetchedDirEnv, "in")
	t.Setenv(archiveDirEnv, "archive")
	t.Setenv(promptsDirEnv, "prompts")
	t.Setenv(completedDirEnv, "done")
	t.Setenv(geminiAPIKeyEnv, "gemini-key")
	t.Setenv(openAIAPIKeyEnv, "openai-key")
	t.Setenv(appendLineEnv, "Then confirm the booking.")
	t.Setenv(telegramTokenEnv, "bot-token")
	t.Setenv(telegramChatIDEnv, "42")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "imap.example.org", cfg.Mail.IMAP.Host)
	assert.Equal(t, 1993, cfg.Mail.IMAP.Port)
	assert.Equal(t, "bookings@example.org", cfg.Mail.IMAP.Username)
	assert.Equal(t, "secret", cfg.Mail.IMAP.Password)
	assert.Equal(t, "in", cfg.StageDirs().Fetched)
	assert.Equal(t, "archive", cfg.StageDirs().Archive)
	assert.Equal(t, "prompts", cfg.StageDirs().Prompts)
	assert.Equal(t, "done", cfg.StageDirs().Completed)
	assert.Equal(t, "gemini-key", cfg.Transform.APIKey, "key follows the selected provider")
	assert.Equal(t, "Then confirm the booking.", cfg.Transform.AppendLine)
	assert.True(t, cfg.Notifications.Telegram.Enabled())
}

func TestEnvOverridesRejectBadPort(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(emailPortEnv, "imaps")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), emailPortEnv)
}

func TestConversions(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)

	rules := cfg.ClassifierRules()
	require.Len(t, rules, 2)
	assert.Equal(t, "agency2", rules[1].Category)

	markers := cfg.Markers()
	assert.Equal(t, "--- END ---", markers["agency1"].End)
	_, ok := markers["agency2"]
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresRules(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Rules = nil

	err := cfg.Validate()

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	require.Len(t, fieldErrs, 1)
	assert.Equal(t, "rules", fieldErrs[0].Field)
}

func TestValidateRejectsBadRules(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Rules = []RuleConfig{
		{Pattern: `Booking (`, Category: "agency1"},
		{Pattern: `x`, Category: "processed"},
		{Pattern: `y`, Category: "agency/2"},
	}

	err := cfg.Validate()

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	require.Len(t, fieldErrs, 3)
	assert.Equal(t, "rules[0].pattern", fieldErrs[0].Field)
	assert.Contains(t, fieldErrs[1].Err.Error(), "stage prefix")
	assert.Equal(t, "rules[2].category", fieldErrs[2].Field)
}

func TestValidateRejectsUnknownSettings(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Directories.Prompts = ""
	cfg.Mail.Source = "pop3"
	cfg.Automation.Retry.MaxAttempts = 0
	cfg.Ledger.Driver = "mysql"
	cfg.Scheduler.CronExpression = "every minute"

	err := cfg.Validate()

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{
		"directories.prompts",
		"mail.source",
		"automation.retry.maxAttempts",
		"ledger.driver",
		"scheduler.cronExpression",
	}, fields)
}

func TestWarnings(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Rules = []RuleConfig{
		{Pattern: "", Category: "agency1"},
		{Pattern: "New reservation", Category: "agency2"},
	}
	cfg.Categories["agency9"] = MarkerConfig{Start: "a", End: "b"}

	warnings := cfg.Warnings()
	require.Len(t, warnings, 2)
	assert.Equal(t, "Rules", warnings[0].Category)
	assert.Equal(t, "rule 0", warnings[0].Item)
	assert.Equal(t, "Categories", warnings[1].Category)
	assert.Equal(t, "agency9", warnings[1].Item)

	cfg.Rules = []RuleConfig{
		{Pattern: "New reservation", Category: "agency2"},
		{Pattern: "", Category: "agency1"},
	}
	delete(cfg.Categories, "agency9")
	assert.Empty(t, cfg.Warnings(), "a trailing catch-all is fine")
}
