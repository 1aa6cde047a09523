package source

import (
	"context"
	"testing"

	"MailPrompter/internal/domain"
)

type namedSource string

func (n namedSource) Name() string { return string(n) }

func (n namedSource) Fetch(context.Context, func(domain.Message) bool) error { return nil }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(namedSource("imap"))
	reg.Register(namedSource("eml"))

	src, err := reg.Resolve("eml")
	if err != nil {
		t.Fatalf("resolve eml: %v", err)
	}
	if src.Name() != "eml" {
		t.Fatalf("expected eml, got %s", src.Name())
	}

	if _, err := reg.Resolve("pop3"); err == nil {
		t.Fatal("expected error for unknown source")
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "eml" || names[1] != "imap" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestRegistryZeroValue(t *testing.T) {
	t.Parallel()

	var reg Registry
	reg.Register(namedSource("imap"))
	if _, err := reg.Resolve("imap"); err != nil {
		t.Fatalf("resolve on zero registry: %v", err)
	}
}
