package units

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func (s *Set) telemetryConfig(e *engine.Engine) (*telemetry.Config, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = ProjectNameVar.MustGet(e)
	cfg.ServiceVersion = VersionVar.MustGet(e)

	v, err := verbosity(e)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = telemetry.VerbosityLevel(v).String()

	exporter, err := TracingExporterVar.Get(e)
	if err != nil {
		return nil, err
	}
	cfg.Tracing.Enabled = exporter != "none"
	cfg.Tracing.Exporter = exporter
	cfg.Tracing.Endpoint = TracingEndpointVar.MustGet(e)
	return cfg, cfg.Validate()
}

func (s *Set) telemetry(e *engine.Engine) (engine.Teardown, error) {
	enabled, err := TelemetryVar.Get(e)
	if err != nil || !enabled {
		return nil, err
	}

	cfg, err := s.telemetryConfig(e)
	if err != nil {
		return nil, err
	}
	ctx := ContextVar.MustGet(e)
	tel, err := telemetry.NewTelemetry(cfg,
		telemetry.WithLogger(s.logger),
		telemetry.WithContext(ctx),
		telemetry.WithOutput(OutputVar.MustGet(e)),
	)
	if err != nil {
		return nil, err
	}

	var command string
	if args, _ := ArgsVar.Get(e); args != nil {
		command = args.Command
	}

	obs := tel.Observer()
	e.AddObserver(obs)
	_, endRun := obs.BeginRun(ctx, e, command)
	TelemetryStateVar.Set(e, tel)

	s.logger.Debug().
		Str("exporter", cfg.Tracing.Exporter).
		Bool("tracing", cfg.Tracing.Enabled).
		Msg("Telemetry enabled")

	return func(e *engine.Engine) error {
		endRun()
		e.RemoveObserver(obs)
		e.Delete(TelemetryStateVar.Name())

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return tel.Shutdown(ctx)
	}, nil
}

func (s *Set) metricsServer(e *engine.Engine) (engine.Teardown, error) {
	addr := MetricsAddrVar.MustGet(e)
	if addr == "" {
		return nil, nil
	}
	tel, err := TelemetryStateVar.Get(e)
	if engine.IsNotSet(err) {
		s.logger.Warn().Str("addr", addr).Msg("METRICS_ADDR is set while telemetry is disabled, not serving metrics")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, engine.NewPermanentError("failed to listen for metrics", err).
			WithOperation("metrics_server").
			WithDetail("addr", addr)
	}
	srv := tel.Metrics.NewServer(addr, tel.Config.Metrics.Path)
	MetricsListenAddrVar.Set(e, ln.Addr().String())

	logger := s.logger.With().Str("addr", ln.Addr().String()).Logger()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	logger.Info().Msg("Serving metrics")

	return func(*engine.Engine) error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(ctx)
		<-done
		return err
	}, nil
}
