package units

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openfroyo/unitrun/pkg/engine"
)

// Args is the result of parsing the command line.
type Args struct {
	Help      bool
	Verbose   int
	Vars      bool
	Targets   []string
	Blacklist []string
	Disable   []string
	Config    string

	// Command is the chosen sub-command, empty when none was given.
	Command     string
	CommandArgs []string

	// Flags holds the flags of the chosen sub-command, nil until the full parse.
	Flags *pflag.FlagSet
}

// Flags returns the flag set of the command chosen on the command line.
func Flags(e *engine.Engine) (*pflag.FlagSet, error) {
	args, err := ArgsVar.Get(e)
	if err != nil {
		return nil, err
	}
	if args == nil || args.Flags == nil {
		return nil, engine.NewPermanentError("command line has not been parsed", nil).
			WithCode(engine.ErrCodeNotSet).
			WithOperation("flags")
	}
	return args.Flags, nil
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.BoolP("help", "h", false, "show help and exit")
	fs.CountP("verbose", "v", "increase verbosity, repeat for more")
	fs.BoolP("vars", "V", false, "list variables instead of running the command")
	fs.StringArray("target", nil, "additionally select the unit `name`")
	fs.StringArray("blacklist-target", nil, "never run the unit `name`")
	fs.StringArray("disable-target", nil, "alias of --blacklist-target")
	fs.StringP("config", "c", "", "load variables from `file`")
}

func globalArgs(fs *pflag.FlagSet) *Args {
	args := &Args{}
	args.Help, _ = fs.GetBool("help")
	args.Verbose, _ = fs.GetCount("verbose")
	args.Vars, _ = fs.GetBool("vars")
	args.Targets, _ = fs.GetStringArray("target")
	args.Blacklist, _ = fs.GetStringArray("blacklist-target")
	args.Disable, _ = fs.GetStringArray("disable-target")
	args.Config, _ = fs.GetString("config")
	return args
}

// storeGlobals copies flags that were given on the command line into variables,
// leaving values from variable files in place otherwise.
func storeGlobals(e *engine.Engine, fs *pflag.FlagSet, args *Args) {
	if fs.Changed("verbose") {
		VerboseVar.Set(e, args.Verbose)
	}
	if fs.Changed("config") {
		ConfigVar.Set(e, args.Config)
	}
}

func argv(e *engine.Engine) ([]string, error) {
	raw, err := stringSlice(e, ArgvVar)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []string{}, nil
	}
	return raw, nil
}

func (s *Set) initArgParser(e *engine.Engine) error {
	name := ProjectNameVar.MustGet(e)
	root := &cobra.Command{
		Use:               name + " [flags] <command>",
		Short:             fmt.Sprintf("%s runs commands on top of a unit lifecycle", name),
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE:              func(*cobra.Command, []string) error { return nil },
	}
	addGlobalFlags(root.PersistentFlags())
	ArgParserVar.Set(e, root)

	args, err := argv(e)
	if err != nil {
		return err
	}

	// Known flags only: sub-command flags are not declared yet.
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.ParseErrorsAllowlist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return engine.NewPermanentError("invalid arguments", err).
			WithCode(engine.ErrCodeValidation).
			WithOperation("init_arg_parser")
	}

	known := globalArgs(fs)
	ArgsVar.Set(e, known)
	storeGlobals(e, fs, known)

	if cfg, _ := ConfigVar.Get(e); cfg != "" {
		if err := e.AddTarget(s.ParseConfig, true); err != nil {
			return err
		}
	}

	for _, target := range known.Targets {
		u, ok := s.registry.LookupName(target)
		if !ok {
			return unknownUnit(target, "target")
		}
		if err := e.AddTarget(u, true); err != nil {
			return err
		}
	}
	for _, target := range append(known.Blacklist, known.Disable...) {
		u, ok := s.registry.LookupName(target)
		if !ok {
			return unknownUnit(target, "blacklist-target")
		}
		e.Blacklist(u)
	}
	return nil
}

func unknownUnit(name, flag string) error {
	return engine.NewPermanentError(fmt.Sprintf("unknown unit %q", name), nil).
		WithCode(engine.ErrCodeValidation).
		WithOperation(flag).
		WithDetail("unit", name)
}

func (s *Set) initArgSubparser(e *engine.Engine) error {
	root, err := ArgParserVar.Get(e)
	if err != nil {
		return err
	}

	for _, cmd := range s.commands.All() {
		sub := &cobra.Command{
			Use:   cmd.Name,
			Short: cmd.Short,
			Long:  cmd.Long,
			RunE:  func(*cobra.Command, []string) error { return nil },
		}
		if cmd.Flags != nil {
			cmd.Flags(sub.Flags())
		}
		root.AddCommand(sub)
	}
	return nil
}

func parseParameters(e *engine.Engine) error {
	root, err := ArgParserVar.Get(e)
	if err != nil {
		return err
	}
	args, err := argv(e)
	if err != nil {
		return err
	}
	out := OutputVar.MustGet(e)

	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	cmd, err := root.ExecuteContextC(ContextVar.MustGet(e))
	if err != nil {
		return engine.NewPermanentError("invalid arguments", err).
			WithCode(engine.ErrCodeValidation).
			WithOperation("parse_parameters")
	}

	parsed := globalArgs(root.PersistentFlags())
	if cmd != nil && cmd != root {
		parsed.Command = cmd.Name()
		parsed.CommandArgs = cmd.Flags().Args()
		parsed.Flags = cmd.Flags()
	}
	ArgsVar.Set(e, parsed)
	storeGlobals(e, root.PersistentFlags(), parsed)

	switch {
	case parsed.Help:
		return engine.StopInit("help requested")
	case parsed.Command == "" && !parsed.Vars:
		if err := root.Help(); err != nil {
			return err
		}
		return engine.StopInit("no command given")
	}
	return nil
}
