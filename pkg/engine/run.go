package engine

import (
	"context"
	"errors"
	"fmt"
)

// Run initializes e, runs the takeover or final action and always tears down.
// Commands that want signals are bracketed by ready and stopping. All errors
// are returned joined after teardown.
func Run(e *Engine) error {
	defer e.Detach()

	takeover, err := e.Init()
	if err != nil {
		return errors.Join(err, e.Exit())
	}
	return e.finish(context.Background(), takeover, false)
}

// RunAsync is Run on the asynchronous path.
func RunAsync(ctx context.Context, e *Engine) error {
	defer e.Detach()

	takeover, err := e.InitAsync(ctx)
	if err != nil {
		return errors.Join(err, e.ExitAsync(ctx))
	}
	return e.finish(ctx, takeover, true)
}

func (e *Engine) finish(ctx context.Context, takeover *FinalAction, async bool) (err error) {
	defer func() {
		var exitErr error
		if async {
			exitErr = e.ExitAsync(ctx)
		} else {
			exitErr = e.Exit()
		}
		err = errors.Join(err, exitErr)
	}()

	if takeover != nil {
		e.setState(StateRunning)
		err = takeover.invoke(ctx, e, async)
		e.fail(err)
		return err
	}

	f := e.final
	if f == nil {
		return nil
	}

	if f.signalled() {
		if serr := e.fire(ctx, SignalReady, async); serr != nil {
			e.fail(serr)
			return serr
		}
		defer func() {
			if serr := e.fire(ctx, SignalStopping, async); serr != nil {
				err = errors.Join(err, serr)
			}
		}()
	}

	e.setState(StateRunning)
	e.logger.Debug().Str("final", f.Name()).Msg("Running final action")
	err = f.invoke(ctx, e, async)
	e.fail(err)
	return err
}

func (e *Engine) fire(ctx context.Context, signal string, async bool) error {
	if async {
		return e.TriggerAsync(context.WithoutCancel(ctx), signal, true)
	}
	e.Trigger(signal)
	return nil
}

// Within initializes e, calls fn and always tears down. A unit taking over
// during initialization is an error since fn is the only action allowed to run.
// fn is not called when a unit stopped initialization.
func Within(e *Engine, fn Func) error {
	defer e.Detach()

	takeover, err := e.Init()
	if err == nil && takeover != nil {
		err = NewPermanentError(fmt.Sprintf("cannot run takeover %s inside a scoped run", takeover.Name()), nil).
			WithCode(ErrCodeValidation).
			WithOperation("within")
	}
	if err != nil {
		e.fail(err)
		return errors.Join(err, e.Exit())
	}
	if e.stopped {
		return e.Exit()
	}

	err = fn(e)
	e.fail(err)
	return errors.Join(err, e.Exit())
}

// WithinAsync is Within on the asynchronous path. The async group is
// blacklisted since the caller already runs asynchronously.
func WithinAsync(ctx context.Context, e *Engine, fn AsyncFunc) error {
	defer e.Detach()

	e.Blacklist(e.registry.AsyncGroup())

	takeover, err := e.InitAsync(ctx)
	if err == nil && takeover != nil {
		err = NewPermanentError(fmt.Sprintf("cannot run takeover %s inside a scoped run", takeover.Name()), nil).
			WithCode(ErrCodeValidation).
			WithOperation("within_async")
	}
	if err != nil {
		e.fail(err)
		return errors.Join(err, e.ExitAsync(ctx))
	}
	if e.stopped {
		return e.ExitAsync(ctx)
	}

	err = fn(ctx, e)
	e.fail(err)
	return errors.Join(err, e.ExitAsync(ctx))
}
