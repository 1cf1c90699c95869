package units

import (
	"context"
	"errors"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/journal"
)

func (s *Set) journal(e *engine.Engine) (engine.Teardown, error) {
	path := JournalPathVar.MustGet(e)
	if path == "" {
		return nil, nil
	}

	ctx := ContextVar.MustGet(e)
	j, err := journal.Open(ctx, journal.Config{Path: path})
	if err != nil {
		return nil, err
	}

	var command string
	if args, _ := ArgsVar.Get(e); args != nil {
		command = args.Command
	}

	rec := journal.NewRecorder(j, s.logger)
	run, err := rec.StartRun(ctx, e, command)
	if err != nil {
		return nil, errors.Join(err, j.Close())
	}
	e.AddObserver(rec)
	JournalRunVar.Set(e, run.ID)

	s.logger.Debug().Str("path", path).Str("run_id", run.ID).Msg("Journaling run")

	return func(e *engine.Engine) error {
		e.RemoveObserver(rec)
		err := rec.FinishRun(context.Background(), e)
		return errors.Join(err, j.Close())
	}, nil
}
