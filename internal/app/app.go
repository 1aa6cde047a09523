package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"MailPrompter/internal/classifier"
	"MailPrompter/internal/config"
	"MailPrompter/internal/domain"
	"MailPrompter/internal/infrastructure/automation"
	"MailPrompter/internal/infrastructure/llm"
	"MailPrompter/internal/infrastructure/mailbox"
	"MailPrompter/internal/infrastructure/scheduler"
	"MailPrompter/internal/infrastructure/storage"
	"MailPrompter/internal/infrastructure/telegram"
	"MailPrompter/internal/logging"
	"MailPrompter/internal/ports"
	"MailPrompter/internal/retry"
	"MailPrompter/internal/source"
	"MailPrompter/internal/stage"
	"MailPrompter/internal/usecase"
)

const stopTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	phases   []domain.Phase
	store    *stage.Store
	ledger   *storage.Ledger
	pipeline *usecase.Pipeline
}

// New builds the adapters the selected phases need; no phases means all of them.
// Missing credentials for a phase that is not selected are not an error.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, phases ...domain.Phase) (*Application, error) {
	if len(phases) == 0 {
		phases = domain.AllPhases
	}
	return build(ctx, cfg, baseLogger, phases)
}

// NewInspector builds an application without phase adapters, enough for Status.
func NewInspector(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	return build(ctx, cfg, baseLogger, nil)
}

func build(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, phases []domain.Phase) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	a := &Application{
		cfg:    cfg,
		logger: baseLogger,
		phases: phases,
		store:  stage.NewStore(cfg.StageDirs()),
	}

	rules, err := classifier.New(cfg.ClassifierRules(), cfg.Markers())
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	deps := usecase.PipelineDeps{
		Classifier:   rules,
		Store:        a.store,
		Logger:       baseLogger.With("component", "pipeline"),
		Instructions: cfg.Transform.Instructions,
		AppendLine:   cfg.Transform.AppendLine,
		TransformRetry: retry.Policy{
			MaxAttempts: cfg.Transform.Retry.MaxAttempts,
			Interval:    cfg.Transform.Retry.Interval,
		},
		AutomateRetry: retry.Policy{
			MaxAttempts: cfg.Automation.Retry.MaxAttempts,
			Interval:    cfg.Automation.Retry.Interval,
		},
		Location: cfg.Scheduler.Location(),
	}

	if cfg.Ledger.Driver != "" {
		dirs := cfg.StageDirs()
		ledger, err := storage.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN, stage.NewDirAllocator(dirs.Fetched, dirs.Archive))
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.ledger = ledger
		deps.Allocator = ledger
		deps.Recorder = ledger
	}

	if a.selected(domain.PhaseRetrieve) {
		if deps.Source, err = a.mailSource(); err != nil {
			return nil, a.abort(err)
		}
	}
	if a.selected(domain.PhaseTransform) {
		if deps.Transformer, err = a.transformer(); err != nil {
			return nil, a.abort(err)
		}
	}
	if a.selected(domain.PhaseAutomate) {
		if deps.Automator, err = a.automator(); err != nil {
			return nil, a.abort(err)
		}
	}
	if cfg.Notifications.Telegram.Enabled() {
		tg := cfg.Notifications.Telegram
		notifier, err := telegram.NewNotifier(tg.BotToken, tg.ChatID, tg.Endpoint)
		if err != nil {
			return nil, a.abort(err)
		}
		deps.Notifier = notifier
	}

	a.pipeline = usecase.NewPipeline(deps)
	return a, nil
}

func (a *Application) selected(phase domain.Phase) bool {
	return slices.Contains(a.phases, phase)
}

func (a *Application) abort(err error) error {
	return errors.Join(err, a.Close())
}

// mailSource registers every source that can be built and resolves the configured one.
func (a *Application) mailSource() (ports.MailSource, error) {
	mail := a.cfg.Mail
	decoder, err := mailbox.NewTextDecoder(mail.FallbackCharset)
	if err != nil {
		return nil, err
	}
	parser := mailbox.NewParser(decoder, mail.StripHTML)

	registry := source.NewRegistry()
	failures := map[string]error{}

	imapSrc, err := mailbox.NewIMAPSource(mailbox.IMAPOptions{
		Host:     mail.IMAP.Host,
		Port:     mail.IMAP.Port,
		Username: mail.IMAP.Username,
		Password: mail.IMAP.Password,
		Folder:   mail.IMAP.Folder,
		MarkSeen: mail.IMAP.MarkSeen,
		Timeout:  mail.IMAP.Timeout,
	}, parser, a.logger.With("component", "source.imap"))
	if err == nil {
		registry.Register(imapSrc)
	} else {
		failures[config.SourceIMAP] = err
	}

	emlSrc, err := mailbox.NewEMLSource(mail.EML.Dir, parser, a.logger.With("component", "source.eml"))
	if err == nil {
		registry.Register(emlSrc)
	} else {
		failures[config.SourceEML] = err
	}

	src, err := registry.Resolve(mail.Source)
	if err != nil {
		if cause, ok := failures[mail.Source]; ok {
			return nil, cause
		}
		return nil, err
	}
	a.logger.Debug("mail source selected", "source", src.Name(), "fallback_charset", decoder.Fallback())
	return src, nil
}

func (a *Application) transformer() (ports.Transformer, error) {
	switch a.cfg.Transform.Provider {
	case config.ProviderGemini:
		return llm.NewGeminiClient(a.cfg.Transform)
	case config.ProviderOpenAI:
		return llm.NewChatGPTClient(a.cfg.Transform)
	default:
		return nil, fmt.Errorf("unknown transform provider %q", a.cfg.Transform.Provider)
	}
}

func (a *Application) automator() (ports.Automator, error) {
	auto := a.cfg.Automation
	logger := a.logger.With("component", "automation")
	switch auto.Backend {
	case config.BackendExec:
		return automation.NewExecAutomator(automation.ExecOptions{
			Command:   auto.Command,
			Preflight: auto.Preflight,
			Timeout:   auto.Timeout,
			Settle:    auto.Settle,
		}, logger)
	case config.BackendWebhook:
		return automation.NewWebhookAutomator(automation.WebhookOptions{
			URL:     auto.WebhookURL,
			APIKey:  auto.APIKey,
			Timeout: auto.Timeout,
			Settle:  auto.Settle,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown automation backend %q", auto.Backend)
	}
}

// Run performs a single pipeline execution of the selected phases.
func (a *Application) Run(ctx context.Context) domain.RunReport {
	return a.pipeline.Run(ctx, a.phases...)
}

// Serve runs the selected phases on the configured cron schedule until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	driver, err := scheduler.NewCronScheduler(
		a.cfg.Scheduler.CronExpression,
		a.cfg.Scheduler.Location(),
		a.logger.With("component", "scheduler"),
	)
	if err != nil {
		return err
	}

	sched := usecase.NewScheduler(driver, a.pipeline, a.phases...)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("shutting down, waiting for the running pass")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return sched.Stop(stopCtx)
}

// Close releases the ledger connection, if any.
func (a *Application) Close() error {
	if a.ledger == nil {
		return nil
	}
	err := a.ledger.Close()
	a.ledger = nil
	return err
}
