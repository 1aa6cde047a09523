package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"MailPrompter/internal/domain"
	"MailPrompter/internal/ports"
)

const seenDir = "seen"

// EMLSource reads .eml files from a drop directory. Accepted messages are moved into
// its seen/ subdirectory, which plays the role of the IMAP \Seen flag.
type EMLSource struct {
	dir    string
	parser *Parser
	logger *slog.Logger
}

var _ ports.MailSource = (*EMLSource)(nil)

// NewEMLSource reads from dir.
func NewEMLSource(dir string, parser *Parser, logger *slog.Logger) (*EMLSource, error) {
	if dir == "" {
		return nil, fmt.Errorf("eml source: directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EMLSource{dir: dir, parser: parser, logger: logger}, nil
}

// Name identifies the strategy inside the registry.
func (s *EMLSource) Name() string {
	return "eml"
}

type emlFile struct {
	path string
	msg  domain.Message
}

// Fetch hands every .eml file to handle, oldest Date header first.
func (s *EMLSource) Fetch(ctx context.Context, handle func(domain.Message) bool) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("open %s: %w", s.dir, err)
	}
	names, err := doublestar.Glob(os.DirFS(s.dir), "*.eml")
	if err != nil {
		return fmt.Errorf("list %s: %w", s.dir, err)
	}

	files := make([]emlFile, 0, len(names))
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		msg, err := s.parseFile(path)
		if err != nil {
			s.logger.Warn("unparseable message left in place", "file", name, "error", err)
			continue
		}
		files = append(files, emlFile{path: path, msg: msg})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].msg.ReceivedAt.Before(files[j].msg.ReceivedAt)
	})

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !handle(f.msg) {
			continue
		}
		if err := s.markSeen(f.path); err != nil {
			s.logger.Warn("move to seen failed", "file", filepath.Base(f.path), "error", err)
		}
	}
	return nil
}

func (s *EMLSource) parseFile(path string) (domain.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return domain.Message{}, err
	}
	defer file.Close()

	msg, err := s.parser.Parse(file)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = filepath.Base(path)
	}

	msg.ReceivedAt = receivedAt(msg.RawDate, file)
	return msg, nil
}

func receivedAt(rawDate string, file *os.File) time.Time {
	if t, err := mail.ParseDate(rawDate); err == nil {
		return t
	}
	if info, err := file.Stat(); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

func (s *EMLSource) markSeen(path string) error {
	dir := filepath.Join(s.dir, seenDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}
