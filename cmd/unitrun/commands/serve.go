package commands

import (
	"context"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/units"
)

func newServeCommand() *engine.Command {
	return &engine.Command{
		Name:  "serve",
		Short: "Run the asynchronous lifecycle until interrupted",
		Long: `Enter the asynchronous lifecycle, signal readiness and wait for SIGINT or
SIGTERM. Useful as a systemd service to exercise notifications, config
watching and the metrics endpoint:

  unitrun serve -v -c unitrun.yaml`,
		RunAsync: func(ctx context.Context, e *engine.Engine) error {
			logger := e.Logger().With().Str("engine_id", e.ID()).Logger()
			if addr, err := units.MetricsListenAddrVar.Get(e); err == nil {
				logger = logger.With().Str("metrics", addr).Logger()
			}
			logger.Info().Msg("Serving until interrupted")
			<-ctx.Done()
			logger.Info().Msg("Shutting down")
			return nil
		},
	}
}
