package config

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/hay-kot/criterio"
	"github.com/robfig/cron/v3"

	"MailPrompter/internal/classifier"
	"MailPrompter/internal/stage"
)

var categoryName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string
	Item     string
	Message  string
}

// Validate checks the structure of the configuration. Credentials are not checked here:
// they are only required by the phases that use them.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("directories.fetched", c.Directories.Fetched, required),
		criterio.Run("directories.archive", c.Directories.Archive, required),
		criterio.Run("directories.prompts", c.Directories.Prompts, required),
		criterio.Run("directories.completed", c.Directories.Completed, required),
		criterio.Run("mail.source", c.Mail.Source, oneOf(SourceIMAP, SourceEML)),
		criterio.Run("transform.provider", c.Transform.Provider, oneOf(ProviderGemini, ProviderOpenAI)),
		criterio.Run("transform.retry.maxAttempts", c.Transform.Retry.MaxAttempts, atLeastOne),
		criterio.Run("automation.backend", c.Automation.Backend, oneOf(BackendExec, BackendWebhook)),
		criterio.Run("automation.retry.maxAttempts", c.Automation.Retry.MaxAttempts, atLeastOne),
		criterio.Run("ledger.driver", c.Ledger.Driver, oneOf("", DriverSQLite, DriverPostgres)),
		criterio.Run("scheduler.cronExpression", c.Scheduler.CronExpression, cronSpec),
		c.validateRules(),
		c.validateCategories(),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	produced := map[string]struct{}{}
	for i, rule := range c.Rules {
		produced[rule.Category] = struct{}{}

		if i == len(c.Rules)-1 {
			continue
		}
		if expr, err := classifier.Compile(rule.Pattern); err == nil && expr.MatchString("") {
			warnings = append(warnings, ValidationWarning{
				Category: "Rules",
				Item:     fmt.Sprintf("rule %d", i),
				Message:  "pattern matches every subject; the rules after it are unreachable",
			})
		}
	}

	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, ok := produced[name]; !ok {
			warnings = append(warnings, ValidationWarning{
				Category: "Categories",
				Item:     name,
				Message:  "markers configured for a category no rule produces",
			})
		}
	}

	return warnings
}

func (c *Config) validateRules() error {
	if len(c.Rules) == 0 {
		return criterio.NewFieldErrors("rules", fmt.Errorf("at least one rule is required"))
	}

	var errs criterio.FieldErrorsBuilder
	for i, rule := range c.Rules {
		if _, err := classifier.Compile(rule.Pattern); err != nil {
			errs = errs.Append(fmt.Sprintf("rules[%d].pattern", i), err)
		}
		if err := validCategory(rule.Category); err != nil {
			errs = errs.Append(fmt.Sprintf("rules[%d].category", i), err)
		}
	}
	return errs.ToError()
}

func (c *Config) validateCategories() error {
	var errs criterio.FieldErrorsBuilder
	for name, markers := range c.Categories {
		if err := validCategory(name); err != nil {
			errs = errs.Append(fmt.Sprintf("categories[%q]", name), err)
		}
		if markers.Start == "" && markers.End != "" {
			errs = errs.Append(fmt.Sprintf("categories[%q].start", name), fmt.Errorf("end marker set without start marker"))
		}
	}
	return errs.ToError()
}

// validCategory keeps category names usable as the leading segment of item file names.
func validCategory(name string) error {
	if name == "" {
		return fmt.Errorf("category is required")
	}
	if !categoryName.MatchString(name) {
		return fmt.Errorf("category %q may only contain letters, digits, '-' and '_'", name)
	}
	if stage.HasStagePrefix(name + "_") {
		return fmt.Errorf("category %q collides with a stage prefix", name)
	}
	return nil
}

func required(v string) error {
	if v == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}

func atLeastOne(v int) error {
	if v < 1 {
		return fmt.Errorf("must be at least 1")
	}
	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(v string) error {
		if slices.Contains(allowed, v) {
			return nil
		}
		return fmt.Errorf("unknown value %q", v)
	}
}

func cronSpec(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
