package telemetry_test

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/telemetry"
)

// Example_observer attaches telemetry to an engine and follows its events.
func Example_observer() {
	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig(), telemetry.WithLogger(zerolog.Nop()))
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(ev telemetry.Event) {
		fmt.Println(ev.Type, ev.Unit)
	}, telemetry.FilterByType(telemetry.EventTypeUnitCompleted))

	reg := engine.NewRegistry(zerolog.Nop())
	hello := engine.MustNewUnit(engine.UnitSpec{
		Name:   "hello",
		Action: engine.Do(func(*engine.Engine) error { return nil }),
	})
	reg.MustRegister("example.hello", hello)

	e, err := engine.New(reg, nil, []*engine.Unit{hello},
		engine.WithLogger(zerolog.Nop()),
		engine.WithObserver(tel.Observer()))
	if err != nil {
		panic(err)
	}
	if err := engine.Run(e); err != nil {
		panic(err)
	}
	// Output:
	// unit.completed hello
}
