package commands

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/telemetry"
	"github.com/openfroyo/unitrun/pkg/units"
)

// Options configures a single invocation of the unitrun binary.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Argv is the command line without the program name.
	Argv []string

	// Output receives command output. Defaults to stdout.
	Output io.Writer

	// LogWriter is handed to units that redirect log output.
	LogWriter *telemetry.SwitchWriter

	Logger zerolog.Logger

	// Variables are set on the engine before initialization.
	Variables map[string]any

	Observers []engine.Observer
}

// New registers the standard units and the built-in commands and returns an
// engine that runs the command named on the command line.
func New(ctx context.Context, opts Options) (*engine.Engine, error) {
	reg := engine.NewRegistry(opts.Logger)
	cmds := engine.NewCommands()
	for _, cmd := range builtinCommands(opts) {
		if err := cmds.Register(cmd); err != nil {
			return nil, err
		}
	}

	set, err := units.Register(reg, cmds, units.WithLogger(opts.Logger))
	if err != nil {
		return nil, err
	}

	vars := map[string]any{
		units.ArgvVar.Name():        opts.Argv,
		units.ContextVar.Name():     ctx,
		units.ProjectNameVar.Name(): "unitrun",
		units.VersionVar.Name():     opts.Version,
	}
	if opts.Output != nil {
		vars[units.OutputVar.Name()] = opts.Output
	}
	if opts.LogWriter != nil {
		vars[units.LogWriterVar.Name()] = opts.LogWriter
	}
	for name, value := range opts.Variables {
		vars[name] = value
	}

	engineOpts := []engine.Option{
		engine.WithLogger(opts.Logger),
		engine.WithVariables(vars),
	}
	for _, o := range opts.Observers {
		engineOpts = append(engineOpts, engine.WithObserver(o))
	}
	return engine.New(reg, nil, []*engine.Unit{set.RunCommand}, engineOpts...)
}

// Execute builds the engine for opts and runs it to completion.
func Execute(ctx context.Context, opts Options) error {
	e, err := New(ctx, opts)
	if err != nil {
		return err
	}
	return engine.Run(e)
}

func builtinCommands(opts Options) []*engine.Command {
	return []*engine.Command{
		newGraphCommand(),
		newUnitsCommand(),
		newJournalCommand(),
		newServeCommand(),
		newVersionCommand(opts),
	}
}
