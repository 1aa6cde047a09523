package app

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"MailPrompter/internal/domain"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

var censusOrder = []domain.Stage{
	domain.StageFetched,
	domain.StageArchived,
	domain.StagePrompted,
	domain.StageCompleted,
	domain.StageFailed,
	domain.StageEmpty,
}

// Status writes the item count per stage and, when a ledger is configured, the most
// recent transitions.
func (a *Application) Status(ctx context.Context, w io.Writer, recent int) error {
	census, err := a.store.Census()
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}

	counts := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STAGE", "ITEMS").
		StyleFunc(styleCell)
	for _, s := range censusOrder {
		counts.Row(string(s), strconv.Itoa(census[s]))
	}

	fmt.Fprintln(w, titleStyle.Render("Items"))
	fmt.Fprintln(w, counts.Render())

	if a.ledger == nil {
		fmt.Fprintln(w, mutedStyle.Render("No ledger configured; transition history unavailable."))
		return nil
	}

	transitions, err := a.ledger.Recent(ctx, recent)
	if err != nil {
		return fmt.Errorf("load transitions: %w", err)
	}

	fmt.Fprintln(w, titleStyle.Render("Recent transitions"))
	if len(transitions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("none"))
		return nil
	}

	history := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WHEN", "ITEM", "FROM", "TO", "DETAIL").
		StyleFunc(styleCell)
	for _, t := range transitions {
		from := string(t.From)
		if from == "" {
			from = "-"
		}
		history.Row(
			t.Recorded.In(a.cfg.Scheduler.Location()).Format("2006-01-02 15:04:05"),
			t.Item.Name,
			from,
			string(t.To),
			t.Detail,
		)
	}
	fmt.Fprintln(w, history.Render())
	return nil
}

func styleCell(row, _ int) lipgloss.Style {
	if row == table.HeaderRow {
		return headerStyle
	}
	return cellStyle
}
