package logring

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestRing_KeepsMostRecentLines(t *testing.T) {
	r := New(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(r, "line %d\n", i)
	}

	got := r.Lines()
	want := []string{"line 3", "line 4", "line 5"}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRing_PartialFill(t *testing.T) {
	r := New(0)
	r.Write([]byte("a\nb\n"))

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	lines := r.Lines()
	if lines[0] != "a" || lines[1] != "b" {
		t.Errorf("unexpected lines %v", lines)
	}
	lines[0] = "mutated"
	if r.Lines()[0] != "a" {
		t.Error("Lines must return a copy")
	}
}

func TestRing_ConcurrentWrites(t *testing.T) {
	r := New(DefaultCapacity)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				fmt.Fprintf(r, "worker %d msg %d\n", i, j)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != DefaultCapacity {
		t.Errorf("Len() = %d, want %d", r.Len(), DefaultCapacity)
	}
}

func TestTee_WritesToBothHandlers(t *testing.T) {
	var primary bytes.Buffer
	ring := New(10)

	logger := slog.New(Tee(
		slog.NewTextHandler(&primary, &slog.HandlerOptions{Level: slog.LevelDebug}),
		ring,
		slog.LevelInfo,
	)).With("component", "engine")

	logger.Debug("sampling batch", "k", 5)
	logger.Warn("attack reverted", "kind", "execution_revert")

	if !strings.Contains(primary.String(), "sampling batch") {
		t.Error("primary handler should receive debug records")
	}

	lines := ring.Lines()
	if len(lines) != 1 {
		t.Fatalf("ring should hold only info+ records, got %v", lines)
	}
	if !strings.Contains(lines[0], "attack reverted") || !strings.Contains(lines[0], "component=engine") {
		t.Errorf("unexpected ring line %q", lines[0])
	}
}
