package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"MailPrompter/internal/classifier"
	"MailPrompter/internal/domain"
	"MailPrompter/internal/extract"
	"MailPrompter/internal/ports"
	"MailPrompter/internal/retry"
	"MailPrompter/internal/stage"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
// Source, Transformer and Automator are only required by the phase that uses them.
type PipelineDeps struct {
	Source      ports.MailSource
	Classifier  *classifier.Classifier
	Store       *stage.Store
	Allocator   ports.SequenceAllocator
	Transformer ports.Transformer
	Automator   ports.Automator
	Recorder    ports.TransitionRecorder
	Notifier    ports.Notifier
	Logger      *slog.Logger

	Instructions   string
	AppendLine     string
	TransformRetry retry.Policy
	AutomateRetry  retry.Policy

	// Location is used for the calendar day of messages without a usable Date header.
	Location *time.Location
	Now      func() time.Time
}

// Pipeline moves items through retrieve, transform and automate.
type Pipeline struct {
	source      ports.MailSource
	classifier  *classifier.Classifier
	store       *stage.Store
	allocator   ports.SequenceAllocator
	transformer ports.Transformer
	automator   ports.Automator
	recorder    ports.TransitionRecorder
	notifier    ports.Notifier
	logger      *slog.Logger

	instructions   string
	appendLine     string
	transformRetry retry.Policy
	automateRetry  retry.Policy

	location *time.Location
	now      func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		source:         deps.Source,
		classifier:     deps.Classifier,
		store:          deps.Store,
		allocator:      deps.Allocator,
		transformer:    deps.Transformer,
		automator:      deps.Automator,
		recorder:       deps.Recorder,
		notifier:       deps.Notifier,
		logger:         deps.Logger,
		instructions:   deps.Instructions,
		appendLine:     deps.AppendLine,
		transformRetry: deps.TransformRetry,
		automateRetry:  deps.AutomateRetry,
		location:       deps.Location,
		now:            deps.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.location == nil {
		p.location = time.UTC
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.allocator == nil && p.store != nil {
		dirs := p.store.Dirs()
		p.allocator = stage.NewDirAllocator(dirs.Fetched, dirs.Archive)
	}
	return p
}

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Run executes the selected phases in pipeline order. Every selected phase runs even when
// an earlier one reported an error; each derives its work from the stage store.
func (p *Pipeline) Run(ctx context.Context, phases ...domain.Phase) domain.RunReport {
	if len(phases) == 0 {
		phases = domain.AllPhases
	}

	report := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
	}
	ctx = withRunID(ctx, report.RunID)
	logger := p.logger.With("run", report.RunID)
	logger.Info("run started", "phases", phases)

	for _, phase := range domain.AllPhases {
		if !slices.Contains(phases, phase) {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Phases = append(report.Phases, domain.PhaseReport{Phase: phase, Err: err})
			continue
		}

		var pr domain.PhaseReport
		switch phase {
		case domain.PhaseRetrieve:
			pr = p.Retrieve(ctx)
		case domain.PhaseTransform:
			pr = p.Transform(ctx)
		case domain.PhaseAutomate:
			pr = p.Automate(ctx)
		}
		report.Phases = append(report.Phases, pr)
	}

	report.FinishedAt = p.now()
	logger.Info("run finished", "duration", report.FinishedAt.Sub(report.StartedAt))

	if p.notifier != nil {
		if err := p.notifier.PublishSummary(ctx, FormatSummary(report)); err != nil {
			logger.Warn("publish summary failed", "error", err)
		}
	}

	return report
}

// Retrieve saves every unread message whose subject matches a rule as a fetched item.
func (p *Pipeline) Retrieve(ctx context.Context) domain.PhaseReport {
	report := domain.PhaseReport{Phase: domain.PhaseRetrieve}
	logger := p.phaseLogger(ctx, domain.PhaseRetrieve)

	if p.source == nil {
		report.Err = errors.New("no mail source configured")
		return p.finish(logger, report)
	}
	if err := p.store.Ensure(); err != nil {
		report.Err = err
		return p.finish(logger, report)
	}

	err := p.source.Fetch(ctx, func(msg domain.Message) bool {
		category, ok := p.classifier.Classify(msg.Subject)
		if !ok {
			report.Skipped++
			logger.Debug("subject matches no rule", "subject", msg.Subject)
			return false
		}

		content, found := extract.Content(msg.Body, category.Markers)
		if !found {
			logger.Warn("markers not found, saving full body", "category", category.Name, "message", msg.ID)
		}

		day := p.messageDay(msg.RawDate)
		ordinal, err := p.allocator.Next(ctx, category.Name, day)
		if err != nil {
			report.Failed++
			logger.Error("allocate sequence failed", "category", category.Name, "error", err)
			return false
		}

		item, err := p.store.CreateFetched(domain.Item{
			Category: category.Name,
			Day:      day,
			Ordinal:  ordinal,
		}, msg.Subject, msg.RawDate, content)
		if err != nil {
			report.Failed++
			logger.Error("save message failed", "category", category.Name, "message", msg.ID, "error", err)
			p.release(ctx, logger, category.Name, day, ordinal)
			return false
		}

		report.Processed++
		logger.Info("message saved", "item", item.Name, "category", item.Category)
		p.record(ctx, item, "", domain.StageFetched, msg.Subject)
		return true
	})
	if err != nil {
		report.Err = fmt.Errorf("fetch from %s: %w", p.source.Name(), err)
	}

	return p.finish(logger, report)
}

// Transform turns every fetched item into a pending prompt and archives the original.
// Items whose generation fails or comes back empty stay fetched for the next run.
func (p *Pipeline) Transform(ctx context.Context) domain.PhaseReport {
	report := domain.PhaseReport{Phase: domain.PhaseTransform}
	logger := p.phaseLogger(ctx, domain.PhaseTransform)

	if p.transformer == nil {
		report.Err = errors.New("no transformer configured")
		return p.finish(logger, report)
	}

	items, unclaimed, err := p.store.PendingFetched(p.classifier.Categories())
	if err != nil {
		report.Err = err
		return p.finish(logger, report)
	}
	for _, item := range unclaimed {
		logger.Warn("fetched item has no matching rule, left in place", "item", item.Name, "category", item.Category)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			report.Err = err
			break
		}

		ilog := logger.With("item", item.Name, "category", item.Category)

		data, err := p.store.Read(item)
		if err != nil {
			report.Failed++
			ilog.Error("read item failed", "error", err)
			continue
		}

		command, err := p.generate(ctx, string(data))
		if err != nil {
			report.Failed++
			ilog.Warn("generation failed, item stays fetched", "error", err)
			continue
		}

		prompt, err := p.store.Promote(item, []byte(p.withAppendLine(command)))
		if err != nil {
			report.Failed++
			ilog.Error("promote item failed", "error", err)
			continue
		}

		report.Processed++
		ilog.Info("prompt written", "prompt", prompt.Name)
		p.record(ctx, prompt, domain.StageFetched, domain.StagePrompted, stage.ArchivedName(item.Name))
	}

	return p.finish(logger, report)
}

// Automate submits every pending prompt and settles it as completed, failed or empty.
func (p *Pipeline) Automate(ctx context.Context) domain.PhaseReport {
	report := domain.PhaseReport{Phase: domain.PhaseAutomate}
	logger := p.phaseLogger(ctx, domain.PhaseAutomate)

	if p.automator == nil {
		report.Err = errors.New("no automator configured")
		return p.finish(logger, report)
	}

	items, err := p.store.PendingPrompts()
	if err != nil {
		report.Err = err
		return p.finish(logger, report)
	}
	if len(items) == 0 {
		return p.finish(logger, report)
	}

	if pf, ok := p.automator.(ports.Preflighter); ok {
		if err := pf.Preflight(ctx); err != nil {
			report.Err = fmt.Errorf("preflight: %w", err)
			return p.finish(logger, report)
		}
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			report.Err = err
			break
		}

		ilog := logger.With("item", item.Name, "category", item.Category)

		data, err := p.store.Read(item)
		if err != nil {
			report.Failed++
			ilog.Error("read prompt failed, left pending", "error", err)
			continue
		}

		command := strings.TrimSpace(string(data))
		if command == "" {
			report.Failed++
			p.settle(ctx, ilog, item, domain.StageEmpty, "prompt is empty")
			continue
		}

		if err := p.automator.Automate(ctx, command, p.automateRetry); err != nil {
			report.Failed++
			if ctxErr := ctx.Err(); ctxErr != nil {
				ilog.Warn("automation interrupted, prompt left pending", "error", err)
				report.Err = ctxErr
				break
			}
			ilog.Warn("automation failed", "error", err)
			p.settle(ctx, ilog, item, domain.StageFailed, err.Error())
			continue
		}

		if p.settle(ctx, ilog, item, domain.StageCompleted, "") {
			report.Processed++
		} else {
			report.Failed++
		}
	}

	return p.finish(logger, report)
}

// settle applies a terminal transition and reports whether it succeeded.
func (p *Pipeline) settle(ctx context.Context, logger *slog.Logger, item domain.Item, to domain.Stage, detail string) bool {
	var (
		next domain.Item
		err  error
	)
	switch to {
	case domain.StageCompleted:
		next, err = p.store.Complete(item)
	case domain.StageFailed:
		next, err = p.store.Fail(item)
	case domain.StageEmpty:
		next, err = p.store.MarkEmpty(item)
	default:
		err = fmt.Errorf("no transition to %s", to)
	}
	if err != nil {
		logger.Error("settle prompt failed, left pending", "to", to, "error", err)
		return false
	}

	logger.Info("prompt settled", "to", to, "file", next.Name)
	p.record(ctx, next, domain.StagePrompted, to, detail)
	return true
}

func (p *Pipeline) generate(ctx context.Context, source string) (string, error) {
	return retry.Value(ctx, p.transformRetry, func(ctx context.Context) (string, error) {
		out, err := p.transformer.Generate(ctx, p.instructions, source)
		if err != nil {
			if errors.Is(err, ports.ErrEmptyResult) {
				return "", retry.Permanent(err)
			}
			return "", err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return "", retry.Permanent(ports.ErrEmptyResult)
		}
		return out, nil
	})
}

func (p *Pipeline) withAppendLine(command string) string {
	if p.appendLine == "" {
		return command
	}
	return command + "\n" + p.appendLine
}

// messageDay returns the calendar day written in the Date header, or today when the
// header is missing or unparseable.
func (p *Pipeline) messageDay(raw string) time.Time {
	if t, err := mail.ParseDate(strings.TrimSpace(raw)); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	now := p.now().In(p.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.location)
}

// release hands an unused ordinal back to allocators that persist them.
func (p *Pipeline) release(ctx context.Context, logger *slog.Logger, category string, day time.Time, ordinal int) {
	r, ok := p.allocator.(ports.SequenceReleaser)
	if !ok {
		return
	}
	if err := r.Release(ctx, category, day, ordinal); err != nil {
		logger.Warn("release sequence failed", "category", category, "ordinal", ordinal, "error", err)
	}
}

func (p *Pipeline) record(ctx context.Context, item domain.Item, from, to domain.Stage, detail string) {
	if p.recorder == nil {
		return
	}
	err := p.recorder.Record(ctx, domain.Transition{
		ID:       uuid.NewString(),
		RunID:    runIDFrom(ctx),
		Item:     item,
		From:     from,
		To:       to,
		Detail:   detail,
		Recorded: p.now(),
	})
	if err != nil {
		p.logger.Warn("record transition failed", "item", item.Name, "error", err)
	}
}

func (p *Pipeline) phaseLogger(ctx context.Context, phase domain.Phase) *slog.Logger {
	logger := p.logger.With("phase", phase)
	if id := runIDFrom(ctx); id != "" {
		logger = logger.With("run", id)
	}
	return logger
}

func (p *Pipeline) finish(logger *slog.Logger, report domain.PhaseReport) domain.PhaseReport {
	attrs := []any{"processed", report.Processed, "failed", report.Failed, "skipped", report.Skipped}
	if report.Err != nil {
		logger.Error("phase aborted", append(attrs, "error", report.Err)...)
		return report
	}
	logger.Info("phase finished", attrs...)
	return report
}

// FormatSummary renders a run report as a short plain-text message.
func FormatSummary(report domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MailPrompter run %s\n", shortID(report.RunID))
	for _, pr := range report.Phases {
		fmt.Fprintf(&b, "%s: %d processed, %d failed", pr.Phase, pr.Processed, pr.Failed)
		if pr.Skipped > 0 {
			fmt.Fprintf(&b, ", %d skipped", pr.Skipped)
		}
		if pr.Err != nil {
			fmt.Fprintf(&b, " (error: %v)", pr.Err)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
