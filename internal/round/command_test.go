package round

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandConstructors(t *testing.T) {
	cfg := DefaultConfig()
	roster := []string{"alex", "bailey", "casey"}

	if _, err := NewStartRound(cfg, "g1", roster, "alex"); err != nil {
		t.Fatalf("valid roster rejected: %v", err)
	}
	bad := map[string]func() error{
		"too few players": func() error { _, err := NewStartRound(cfg, "g1", roster[:2], "alex"); return err },
		"whitespace id":   func() error { _, err := NewStartRound(cfg, "g1", []string{"alex", "bai ley", "casey"}, "alex"); return err },
		"duplicate":       func() error { _, err := NewStartRound(cfg, "g1", []string{"alex", "alex", "casey"}, "alex"); return err },
		"missing game":    func() error { _, err := NewStartNextRound(cfg, ""); return err },
		"empty prompt":    func() error { _, err := NewSubmitPrompt(cfg, "r1", "alex", " \t"); return err },
		"long decoy":      func() error { _, err := NewSubmitDecoy(cfg, "r1", "bailey", strings.Repeat("x", cfg.MaxPromptLength+1)); return err },
		"negative vote":   func() error { _, err := NewSubmitVote(cfg, "r1", "bailey", -1); return err },
		"untimed phase":   func() error { _, err := NewPhaseTimeout(cfg, "r1", PhaseFinished); return err },
	}
	for name, fn := range bad {
		if err := fn(); !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("%s: expected ErrInvalidCommand, got %v", name, err)
		}
	}

	c, err := NewSubmitPrompt(cfg, "r1", "alex", "  A cat  ")
	if err != nil {
		t.Fatal(err)
	}
	if c.Text != "A cat" {
		t.Fatalf("expected trimmed text, got %q", c.Text)
	}
}
