package engine

import (
	"context"
	"testing"
)

func TestCommands_Register(t *testing.T) {
	noop := func(*Engine) error { return nil }

	tests := []struct {
		name    string
		cmd     *Command
		wantErr string
	}{
		{"valid", &Command{Name: "serve", Run: noop}, ""},
		{"missing name", &Command{Run: noop}, ErrCodeValidation},
		{"missing run", &Command{Name: "idle"}, ErrCodeValidation},
		{"duplicate", &Command{Name: "serve", Run: noop}, ErrCodeDuplicate},
	}

	cmds := NewCommands()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cmds.Register(tt.cmd)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if !hasCode(err, tt.wantErr) {
				t.Errorf("Expected %s, got %v", tt.wantErr, err)
			}
		})
	}

	if got := len(cmds.All()); got != 1 {
		t.Errorf("Expected 1 command, got %d", got)
	}
	if _, ok := cmds.Lookup("serve"); !ok {
		t.Errorf("Expected serve to be registered")
	}
}

func TestFinalAction_Kinds(t *testing.T) {
	sync := Call("sync", func(*Engine) error { return nil })
	async := CallAsync("async", func(context.Context, *Engine) error { return nil })
	both := RunCommand(&Command{
		Name:     "both",
		Run:      func(*Engine) error { return nil },
		RunAsync: func(context.Context, *Engine) error { return nil },
	})
	quiet := RunCommand(&Command{Name: "quiet", Run: func(*Engine) error { return nil }, NoSignals: true})

	if sync.IsAsync() {
		t.Errorf("Expected plain function to be synchronous")
	}
	if !async.IsAsync() {
		t.Errorf("Expected async function to be asynchronous")
	}
	if both.IsAsync() {
		t.Errorf("Expected command with a sync run function to be usable synchronously")
	}
	if !both.signalled() || quiet.signalled() || sync.signalled() {
		t.Errorf("Expected only commands without NoSignals to fire signals")
	}
	if both.Command() == nil || both.Name() != "both" {
		t.Errorf("Expected command to be attached, got %v", both.Command())
	}
}
