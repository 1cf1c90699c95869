package units

import (
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/unitrun/pkg/engine"
)

// eventLoop takes over the synchronous run and continues it on the
// asynchronous path in a derived engine, under the CONTEXT variable.
func (s *Set) eventLoop(e *engine.Engine) (*engine.FinalAction, error) {
	return engine.Call("event_loop", func(e *engine.Engine) error {
		d := e.Derive()
		s.logger.Debug().Str("engine_id", d.ID()).Msg("Entering asynchronous lifecycle")
		return engine.RunAsync(ContextVar.MustGet(e), d)
	}), nil
}

// workerPool takes over the run when WORKERS is above one and runs the rest
// of the lifecycle in that many derived engines. The first failing worker
// cancels the CONTEXT of the others.
func (s *Set) workerPool(e *engine.Engine) (*engine.FinalAction, error) {
	n, err := WorkersVar.Get(e)
	if err != nil {
		return nil, err
	}
	if n <= 1 {
		return nil, nil
	}

	return engine.Call("worker_pool", func(e *engine.Engine) error {
		g, ctx := errgroup.WithContext(ContextVar.MustGet(e))
		for i := 0; i < n; i++ {
			d := e.Derive()
			WorkerIDVar.Set(d, i)
			ContextVar.Set(d, ctx)

			logger := s.logger.With().Int("worker", i).Str("engine_id", d.ID()).Logger()
			g.Go(func() error {
				logger.Info().Msg("Started worker")
				err := engine.Run(d)
				if err != nil {
					logger.Error().Err(err).Msg("Worker failed")
				} else {
					logger.Info().Msg("Worker finished")
				}
				return err
			})
		}
		return g.Wait()
	}), nil
}
