package ports

import (
	"context"
	"errors"
	"time"

	"MailPrompter/internal/domain"
	"MailPrompter/internal/retry"
)

// ErrEmptyResult is returned by a Transformer whose backend produced no text.
var ErrEmptyResult = errors.New("empty result")

// MailSource yields unread messages oldest first. handle returns true once the message
// is persisted, which lets the source acknowledge it upstream. Returned errors are
// connection or authentication failures.
type MailSource interface {
	Name() string
	Fetch(ctx context.Context, handle func(domain.Message) bool) error
}

// SequenceAllocator hands out the next ordinal for a category and calendar day.
type SequenceAllocator interface {
	Next(ctx context.Context, category string, day time.Time) (int, error)
}

// SequenceReleaser is implemented by allocators that persist ordinals. Release hands
// back an ordinal whose item was never written, keeping the day's numbering dense.
type SequenceReleaser interface {
	Release(ctx context.Context, category string, day time.Time, ordinal int) error
}

// Transformer turns fetched content into an automation command.
type Transformer interface {
	Generate(ctx context.Context, instructions, source string) (string, error)
}

// Automator submits one command to the downstream automation tool.
type Automator interface {
	Automate(ctx context.Context, command string, policy retry.Policy) error
}

// Preflighter is implemented by automators that must prepare the tool before a batch.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// TransitionRecorder keeps an audit trail of stage changes.
type TransitionRecorder interface {
	Record(ctx context.Context, t domain.Transition) error
}

// Notifier streams run summaries to Telegram or other channels.
type Notifier interface {
	PublishSummary(ctx context.Context, text string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
