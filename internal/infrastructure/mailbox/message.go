// Package mailbox reads mail from an IMAP server or a directory of .eml files and
// reduces every message to the fields the pipeline consumes.
package mailbox

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"MailPrompter/internal/domain"
)

// Parser reduces raw RFC 5322 messages to domain.Message.
type Parser struct {
	decoder   *TextDecoder
	stripHTML bool
}

func init() {
	message.CharsetReader = declaredCharset
}

// NewParser decodes text that go-message could not convert with decoder's fallback.
// A nil decoder falls back to ISO-8859-1.
func NewParser(decoder *TextDecoder, stripHTML bool) *Parser {
	if decoder == nil {
		decoder, _ = NewTextDecoder("")
	}
	return &Parser{decoder: decoder, stripHTML: stripHTML}
}

// Parse reads one message. The body is the first text/plain part, else the first
// text/html part; attachments are never considered.
func (p *Parser) Parse(r io.Reader) (domain.Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && (mr == nil || !tolerable(err)) {
		return domain.Message{}, fmt.Errorf("read message: %w", err)
	}

	msg := domain.Message{RawDate: strings.TrimSpace(mr.Header.Get("Date"))}

	subject, err := mr.Header.Subject()
	if err != nil {
		subject = mr.Header.Get("Subject")
	}
	msg.Subject = strings.TrimSpace(p.decoder.Repair([]byte(subject)))

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	} else {
		msg.From = strings.TrimSpace(mr.Header.Get("From"))
	}

	if id, err := mr.Header.MessageID(); err == nil {
		msg.ID = id
	}

	body, err := p.body(mr)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Body = body

	return msg, nil
}

func (p *Parser) body(mr *mail.Reader) (string, error) {
	var html string
	haveHTML := false

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !tolerable(err) {
			return "", fmt.Errorf("read part: %w", err)
		}
		if part == nil {
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := inline.ContentType()
		if err != nil {
			continue
		}

		switch mediaType {
		case "text/plain":
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("read text part: %w", err)
			}
			return p.decoder.Repair(data), nil
		case "text/html":
			if haveHTML {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("read html part: %w", err)
			}
			html = p.decoder.Repair(data)
			haveHTML = true
		}
	}

	if !haveHTML || !p.stripHTML {
		return html, nil
	}
	text, err := HTMLToText(html)
	if err != nil {
		return html, nil
	}
	return text, nil
}

// tolerable reports errors after which go-message still returns a usable entity.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
