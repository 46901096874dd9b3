package delivery

import (
	"testing"

	"github.com/user/deepscout/internal/types"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotKey types.SessionKey
	var gotKind, gotText string
	reg.Register("test:", func(sessionKey types.SessionKey, kind, text string) error {
		gotKey = sessionKey
		gotKind = kind
		gotText = text
		return nil
	})

	err := reg.Deliver("test:123", "report", "findings")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test:123" {
		t.Errorf("expected session key %q, got %q", "test:123", gotKey)
	}
	if gotKind != "report" {
		t.Errorf("expected kind %q, got %q", "report", gotKind)
	}
	if gotText != "findings" {
		t.Errorf("expected text %q, got %q", "findings", gotText)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver("unknown:123", "notice", "hello")
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryMultiplePrefixes(t *testing.T) {
	reg := NewRegistry()

	var telegramCalls, taskCalls int
	reg.Register("telegram:", func(types.SessionKey, string, string) error {
		telegramCalls++
		return nil
	})
	reg.Register("task:", func(types.SessionKey, string, string) error {
		taskCalls++
		return nil
	})

	if err := reg.Deliver("telegram:42:100", "report", "msg1"); err != nil {
		t.Fatalf("telegram deliver error: %v", err)
	}
	if err := reg.Deliver("task:weekly", "report", "msg2"); err != nil {
		t.Fatalf("task deliver error: %v", err)
	}

	if telegramCalls != 1 {
		t.Errorf("expected 1 telegram call, got %d", telegramCalls)
	}
	if taskCalls != 1 {
		t.Errorf("expected 1 task call, got %d", taskCalls)
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()

	var short, long int
	reg.Register("task:", func(types.SessionKey, string, string) error {
		short++
		return nil
	})
	reg.Register("task:weekly:", func(types.SessionKey, string, string) error {
		long++
		return nil
	})

	if err := reg.Deliver("task:weekly:20260824", "report", "msg"); err != nil {
		t.Fatal(err)
	}
	if long != 1 || short != 0 {
		t.Errorf("expected longest prefix to win, short=%d long=%d", short, long)
	}
}

func TestRegistryReplaceHandler(t *testing.T) {
	reg := NewRegistry()

	var first, second int
	reg.Register("cli:", func(types.SessionKey, string, string) error {
		first++
		return nil
	})
	reg.Register("cli:", func(types.SessionKey, string, string) error {
		second++
		return nil
	})

	if err := reg.Deliver("cli:local", "assistant", "hi"); err != nil {
		t.Fatal(err)
	}
	if first != 0 || second != 1 {
		t.Errorf("expected replacement handler only, first=%d second=%d", first, second)
	}
}
