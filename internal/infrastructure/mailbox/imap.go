package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"MailPrompter/internal/domain"
	"MailPrompter/internal/ports"
)

// IMAPOptions holds the mailbox connection details.
type IMAPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
	MarkSeen bool
	Timeout  time.Duration
}

// DialFunc opens a client connection to addr.
type DialFunc func(addr string, timeout time.Duration) (*client.Client, error)

// IMAPSource reads unseen messages from one folder over IMAPS.
type IMAPSource struct {
	opts   IMAPOptions
	parser *Parser
	dial   DialFunc
	logger *slog.Logger
}

var _ ports.MailSource = (*IMAPSource)(nil)

// NewIMAPSource validates credentials and wires a TLS dialer.
func NewIMAPSource(opts IMAPOptions, parser *Parser, logger *slog.Logger) (*IMAPSource, error) {
	if opts.Host == "" || opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("imap source: host, username and password are required")
	}
	if opts.Port == 0 {
		opts.Port = 993
	}
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IMAPSource{opts: opts, parser: parser, dial: dialTLS(opts.Host), logger: logger}, nil
}

// WithDialer replaces the connection factory, e.g. for plain-text test servers.
func (s *IMAPSource) WithDialer(dial DialFunc) *IMAPSource {
	s.dial = dial
	return s
}

func dialTLS(host string) DialFunc {
	return func(addr string, timeout time.Duration) (*client.Client, error) {
		return client.DialWithDialerTLS(&net.Dialer{Timeout: timeout}, addr, &tls.Config{ServerName: host})
	}
}

// Name identifies the strategy inside the registry.
func (s *IMAPSource) Name() string {
	return "imap"
}

// Fetch hands every unseen message to handle, oldest first. Bodies are fetched with
// BODY.PEEK so nothing is marked read unless handle accepted it and MarkSeen is set.
func (s *IMAPSource) Fetch(ctx context.Context, handle func(domain.Message) bool) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	c, err := s.dial(addr, s.opts.Timeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer func() {
		if err := c.Logout(); err != nil {
			s.logger.Debug("imap logout", "error", err)
		}
	}()
	if s.opts.Timeout > 0 {
		c.Timeout = s.opts.Timeout
	}

	if err := c.Login(s.opts.Username, s.opts.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if _, err := c.Select(s.opts.Folder, false); err != nil {
		return fmt.Errorf("select %s: %w", s.opts.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("search unseen: %w", err)
	}
	s.logger.Debug("unseen messages", "folder", s.opts.Folder, "count", len(uids))
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var fetched []*imap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}

	sort.SliceStable(fetched, func(i, j int) bool {
		if fetched[i].InternalDate.Equal(fetched[j].InternalDate) {
			return fetched[i].Uid < fetched[j].Uid
		}
		return fetched[i].InternalDate.Before(fetched[j].InternalDate)
	})

	for _, raw := range fetched {
		if err := ctx.Err(); err != nil {
			return err
		}

		body := raw.GetBody(section)
		if body == nil {
			s.logger.Warn("message without body", "uid", raw.Uid)
			continue
		}
		msg, err := s.parser.Parse(body)
		if err != nil {
			s.logger.Warn("unparseable message left unread", "uid", raw.Uid, "error", err)
			continue
		}
		if msg.ID == "" {
			msg.ID = strconv.FormatUint(uint64(raw.Uid), 10)
		}
		msg.ReceivedAt = raw.InternalDate

		if !handle(msg) || !s.opts.MarkSeen {
			continue
		}
		if err := s.markSeen(c, raw.Uid); err != nil {
			s.logger.Warn("mark seen failed", "uid", raw.Uid, "error", err)
		}
	}

	return nil
}

func (s *IMAPSource) markSeen(c *client.Client, uid uint32) error {
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	flags := []interface{}{imap.SeenFlag}
	return c.UidStore(seq, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil)
}
