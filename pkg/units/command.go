package units

import (
	"fmt"

	"github.com/openfroyo/unitrun/pkg/engine"
)

func (s *Set) runCommand(e *engine.Engine) error {
	args, err := ArgsVar.Get(e)
	if err != nil {
		return err
	}

	var cmd *engine.Command
	if args.Command != "" {
		var ok bool
		cmd, ok = s.commands.Lookup(args.Command)
		if !ok {
			return engine.NewPermanentError(fmt.Sprintf("unknown command %q", args.Command), nil).
				WithCode(engine.ErrCodeValidation).
				WithOperation("run_command")
		}
		if err := e.AddTargets(cmd.Targets, true); err != nil {
			return err
		}
	}

	if err := e.AddTarget(s.SelectionPolicy, true); err != nil {
		return err
	}
	if err := e.AddTarget(s.Workers, true); err != nil {
		return err
	}

	if args.Vars {
		out := OutputVar.MustGet(e)
		return e.SetFinal(engine.Call("vars", func(e *engine.Engine) error {
			return s.vars.Print(out, e)
		}))
	}

	if cmd == nil {
		return engine.NewPermanentError("no command given", nil).
			WithCode(engine.ErrCodeValidation).
			WithOperation("run_command")
	}

	// Watching needs the asynchronous lifecycle, selected along with the unit.
	if watch, _ := WatchConfigVar.Get(e); watch {
		if err := e.AddTarget(s.WatchConfig, true); err != nil {
			return err
		}
	}

	s.logger.Debug().
		Str("command", cmd.Name).
		Int("targets", len(cmd.Targets)).
		Bool("async", cmd.IsAsync()).
		Msg("Running command")
	return e.SetFinal(engine.RunCommand(cmd))
}
