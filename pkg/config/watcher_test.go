package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "vars.yaml", "WORKERS: 1\n")
	writeFile(t, dir, "other.yaml", "IGNORED: true\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Source, 4)
	w := NewWatcher(NewLoader(zerolog.Nop()), zerolog.Nop(), 100*time.Millisecond)
	err := w.Watch(ctx, path, nil, func(src *Source) error {
		reloaded <- src
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer w.Close()

	writeFile(t, dir, "other.yaml", "IGNORED: false\n")
	for _, content := range []string{"WORKERS: 2\n", "WORKERS: 3\n"} {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}

	select {
	case src := <-reloaded:
		if src.Values["WORKERS"] != int64(3) {
			t.Errorf("Expected the settled content to be loaded, got %v", src.Values["WORKERS"])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for reload")
	}

	select {
	case src := <-reloaded:
		if src.Values["WORKERS"] != int64(3) {
			t.Errorf("Expected debounced writes to collapse, got extra reload with %v", src.Values)
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopsWithContext(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "vars.yaml", "WORKERS: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher(NewLoader(zerolog.Nop()), zerolog.Nop(), 0)
	if err := w.Watch(ctx, path, nil, func(*Source) error { return nil }); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Expected watcher to stop after cancellation")
	}
	if err := w.Close(); err != nil {
		t.Errorf("Expected repeated close to succeed, got %v", err)
	}
}
