package passphrase

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func testSource(env map[string]string, tty bool, answers ...string) *Source {
	s := NewSource("TEST_SECRET", "test secret")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return tty }
	s.readSecret = func() ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no input")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
	s.prompt = io.Discard
	return s
}

func TestEnvironmentWins(t *testing.T) {
	s := testSource(map[string]string{"TEST_SECRET": "hunter2"}, true, "ignored")
	got, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("expected env value, got %q", got)
	}
}

func TestEmptyEnvironmentRejected(t *testing.T) {
	s := testSource(map[string]string{"TEST_SECRET": "  "}, true)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestNoTerminalFails(t *testing.T) {
	s := testSource(nil, false)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "TEST_SECRET") {
		t.Fatalf("expected hint naming env var, got %v", err)
	}
}

func TestPromptIsCached(t *testing.T) {
	s := testSource(nil, true, "first", "second")
	first, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	again, _ := s.Get()
	if first != "first" || again != "first" {
		t.Fatalf("expected cached value, got %q then %q", first, again)
	}
}

func TestConfirmationMismatch(t *testing.T) {
	s := testSource(nil, true, "one", "two").WithConfirmation()
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "do not match") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	s = testSource(nil, true, "same", "same").WithConfirmation()
	if got, err := s.Get(); err != nil || got != "same" {
		t.Fatalf("expected confirmed value, got %q, %v", got, err)
	}
}
