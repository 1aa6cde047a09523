package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// TextDecoder turns message text into UTF-8 in two steps: go-message converts the
// declared charset when it knows it, then Repair re-reads anything that is still not
// valid UTF-8 with the fallback encoding.
type TextDecoder struct {
	fallback encoding.Encoding
	name     string
}

// NewTextDecoder resolves the fallback encoding by its IANA name. Empty means ISO-8859-1.
func NewTextDecoder(fallback string) (*TextDecoder, error) {
	if fallback == "" {
		return &TextDecoder{fallback: charmap.ISO8859_1, name: "ISO-8859-1"}, nil
	}
	enc, err := ianaindex.IANA.Encoding(fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback charset %q: %w", fallback, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("fallback charset %q is not supported", fallback)
	}
	name, _ := ianaindex.IANA.Name(enc)
	return &TextDecoder{fallback: enc, name: name}, nil
}

// Fallback names the encoding used when the declared charset cannot be trusted.
func (d *TextDecoder) Fallback() string {
	return d.name
}

// declaredCharset converts input from a charset go-message knows about and passes
// anything else through untouched, leaving the bytes for the parser's own decoder.
// It is installed as go-message's process-wide charset hook and holds no state.
func declaredCharset(label string, input io.Reader) (io.Reader, error) {
	if r, err := charset.Reader(label, input); err == nil {
		return r, nil
	}
	return input, nil
}

// Repair returns data unchanged when it is valid UTF-8 and re-reads it with the
// fallback encoding otherwise.
func (d *TextDecoder) Repair(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := d.fallback.NewDecoder().Bytes(data)
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("�")))
	}
	return string(out)
}
