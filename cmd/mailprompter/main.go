package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"MailPrompter/internal/app"
	"MailPrompter/internal/config"
	"MailPrompter/internal/domain"
	"MailPrompter/internal/logging"
	"MailPrompter/internal/usecase"
)

var (
	configFlag   string
	logLevelFlag string
	recentFlag   int
)

var rootCmd = &cobra.Command{
	Use:           "mailprompter",
	Short:         "Turn booking emails into automation prompts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Retrieve, transform and automate in one pass",
	RunE:  phaseRunner(domain.AllPhases...),
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Retrieve unread mail into the fetched directory",
	RunE:  phaseRunner(domain.PhaseRetrieve),
}

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Generate prompts for fetched items",
	RunE:  phaseRunner(domain.PhaseTransform),
}

var automateCmd = &cobra.Command{
	Use:   "automate",
	Short: "Submit pending prompts to the automation tool",
	RunE:  phaseRunner(domain.PhaseAutomate),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run all phases on the configured cron schedule",
	RunE:  runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show item counts per stage and recent transitions",
	RunE:  runStatus,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report warnings",
	RunE:  runValidate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default $MAILPROMPTER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error")
	statusCmd.Flags().IntVarP(&recentFlag, "recent", "n", 10, "number of ledger transitions to show")
	rootCmd.AddCommand(runCmd, fetchCmd, promptCmd, automateCmd, serveCmd, statusCmd, validateCmd)
}

func main() {
	// A missing .env file is normal; the environment may already be set.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig(stderr io.Writer) (config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintf(stderr, "warning: %s %s: %s\n", w.Category, w.Item, w.Message)
	}
	return cfg, nil
}

func newApplication(ctx context.Context, cmd *cobra.Command, phases ...domain.Phase) (*app.Application, error) {
	cfg, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level)
	return app.New(ctx, cfg, logger, phases...)
}

func newInspector(ctx context.Context, cmd *cobra.Command) (*app.Application, error) {
	cfg, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level)
	return app.NewInspector(ctx, cfg, logger)
}

func phaseRunner(phases ...domain.Phase) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := newApplication(ctx, cmd, phases...)
		if err != nil {
			return err
		}
		defer application.Close()

		report := application.Run(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), usecase.FormatSummary(report))

		var errs []error
		for _, phase := range report.Phases {
			if phase.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", phase.Phase, phase.Err))
			}
		}
		return errors.Join(errs...)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := newApplication(ctx, cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Serve(ctx)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	application, err := newInspector(ctx, cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Status(ctx, cmd.OutOrStdout(), recentFlag)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d rules, %d categories with markers, source %s\n",
		len(cfg.Rules), len(cfg.Categories), cfg.Mail.Source)
	return nil
}
