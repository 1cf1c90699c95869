package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/pflag"
)

// Func is a synchronous final action.
type Func func(e *Engine) error

// AsyncFunc is an asynchronous final action.
type AsyncFunc func(ctx context.Context, e *Engine) error

// Command is a named final action selectable from the command line.
type Command struct {
	Name  string `validate:"required,notblank"`
	Short string
	Long  string

	// Targets are force-selected when the command is chosen.
	Targets []*Unit `validate:"dive,required"`

	// Exactly one of Run and RunAsync is expected. RunAsync wins on the async path.
	Run      Func
	RunAsync AsyncFunc

	// NoSignals suppresses the ready and stopping signals around the command.
	NoSignals bool

	// Flags registers command specific flags.
	Flags func(fs *pflag.FlagSet)
}

// IsAsync reports whether the command can only run on the asynchronous path.
func (c *Command) IsAsync() bool {
	return c.Run == nil && c.RunAsync != nil
}

// Validate checks the command declaration.
func (c *Command) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewPermanentError("invalid command", err).
			WithCode(ErrCodeValidation).
			WithOperation(c.Name)
	}
	if c.Run == nil && c.RunAsync == nil {
		return NewPermanentError("command has no run function", nil).
			WithCode(ErrCodeValidation).
			WithOperation(c.Name)
	}
	return nil
}

// Commands keeps command declarations in registration order.
type Commands struct {
	mu     sync.RWMutex
	byName map[string]*Command
	order  []*Command
}

// NewCommands creates an empty command registry.
func NewCommands() *Commands {
	return &Commands{byName: make(map[string]*Command)}
}

// Register validates and adds cmd. Names must be unique.
func (c *Commands) Register(cmd *Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byName[cmd.Name]; ok {
		return NewPermanentError(fmt.Sprintf("command %s is already registered", cmd.Name), nil).
			WithCode(ErrCodeDuplicate).
			WithOperation("register_command")
	}
	c.byName[cmd.Name] = cmd
	c.order = append(c.order, cmd)
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Commands) MustRegister(cmd *Command) {
	if err := c.Register(cmd); err != nil {
		panic(err)
	}
}

// Lookup returns the command registered under name.
func (c *Commands) Lookup(name string) (*Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cmd, ok := c.byName[name]
	return cmd, ok
}

// All returns the commands in registration order.
func (c *Commands) All() []*Command {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Command, len(c.order))
	copy(out, c.order)
	return out
}

// FinalAction is what an engine runs once initialization completes: a function,
// an async function or a command. Units return one from setup to take over.
type FinalAction struct {
	name    string
	fn      Func
	asyncFn AsyncFunc
	command *Command
}

// Call wraps a synchronous function as a final action.
func Call(name string, fn Func) *FinalAction {
	return &FinalAction{name: name, fn: fn}
}

// CallAsync wraps an asynchronous function as a final action.
func CallAsync(name string, fn AsyncFunc) *FinalAction {
	return &FinalAction{name: name, asyncFn: fn}
}

// RunCommand wraps cmd as a final action.
func RunCommand(cmd *Command) *FinalAction {
	return &FinalAction{name: cmd.Name, fn: cmd.Run, asyncFn: cmd.RunAsync, command: cmd}
}

// Name returns the action name used in logs.
func (f *FinalAction) Name() string { return f.name }

// Command returns the wrapped command, or nil.
func (f *FinalAction) Command() *Command { return f.command }

// IsAsync reports whether the action can only run on the asynchronous path.
func (f *FinalAction) IsAsync() bool {
	return f.fn == nil && f.asyncFn != nil
}

// signalled reports whether ready and stopping are fired around the action.
func (f *FinalAction) signalled() bool {
	return f.command != nil && !f.command.NoSignals
}

func (f *FinalAction) invoke(ctx context.Context, e *Engine, async bool) error {
	if async && f.asyncFn != nil {
		return f.asyncFn(ctx, e)
	}
	if f.fn != nil {
		return f.fn(e)
	}
	return NewPermanentError("async final action called on the synchronous path", nil).
		WithCode(ErrCodeAsyncInSync).
		WithOperation(f.name)
}
