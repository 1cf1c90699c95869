// Package engine provides the unit scheduler and lifecycle engine of unitrun.
//
// # Overview
//
// A program is assembled from units: named nodes related to each other by
// ordering and grouping relations. The engine selects the units a run needs,
// computes a valid order on the fly, drives each unit through setup and
// teardown, and finally hands control to a final action. The lifecycle is:
//
//  1. Selection - Targets are force-selected; their dependencies and members follow (AddTarget)
//  2. Init - Units are set up in dependency order (Init / InitAsync)
//  3. Run - The final action or a unit takeover executes (Run / RunAsync)
//  4. Exit - Units are torn down in exact reverse order (Exit / ExitAsync)
//
// # Relations
//
//   - Depends: selecting a unit selects its dependencies
//   - Before / After: pure ordering, symmetric after registration
//   - Contains / Belongs: grouping; selecting a group selects its members
//   - Exclusive: at most one member of the group is ever scheduled
//   - Conflicts: the two units can never be selected together
//
// Units are registered in a Registry, which completes reciprocal relations and
// notifies every engine listening to it, so units registered after an engine
// was created are still picked up when a group they belong to is selected.
//
// # Actions
//
// A unit carries one of five action shapes:
//
//	engine.Do(func(e *engine.Engine) error { ... })                        // one-shot
//	engine.DoAsync(func(ctx context.Context, e *engine.Engine) error { ... })
//	engine.Around(func(e *engine.Engine) (engine.Teardown, error) { ... }) // two-phase
//	engine.AroundAsync(...)
//
// The underlying OneShot and TwoPhase constructors also let setup return a
// *FinalAction. That is a takeover: initialization stops there and the
// returned action runs instead of the configured one. The async group uses it
// to continue the run on the asynchronous path in a derived engine.
//
// # Example Usage
//
//	reg := engine.NewRegistry(logger)
//	db := engine.MustNewUnit(engine.UnitSpec{Name: "db", Action: engine.Around(openDB)})
//	api := engine.MustNewUnit(engine.UnitSpec{Name: "api", Depends: []*engine.Unit{db}, After: []*engine.Unit{db}})
//	reg.MustRegister("app.db", db)
//	reg.MustRegister("app.api", api)
//
//	e, err := engine.New(reg, engine.Call("serve", serve), []*engine.Unit{api})
//	if err != nil {
//	    return err
//	}
//	return engine.Run(e)
//
// # Error Classification
//
// Errors are EngineError values carrying a class and a code. StopInit is the
// only control-class error: a unit returns it to end initialization early,
// for example after printing help. Use the helpers to inspect errors:
//
//	if engine.IsCycle(err) {
//	    // report the units listed in the error details
//	}
//
// # Thread Safety
//
// An engine is driven by a single goroutine. Variables, signals and observers
// are guarded so background units may touch them. Derived engines share no
// mutable scheduling state with their parent and can run concurrently.
package engine
