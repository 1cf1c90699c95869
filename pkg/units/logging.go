package units

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/journald"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/telemetry"
)

// newJournalWriter is replaced in tests.
var newJournalWriter = journald.NewJournalDWriter

func verbosity(e *engine.Engine) (int, error) {
	v, err := VerboseVar.Get(e)
	if engine.IsNotSet(err) {
		return 0, nil
	}
	return v, err
}

func setLogLevel(e *engine.Engine) error {
	v, err := verbosity(e)
	if err != nil {
		return err
	}
	level := telemetry.VerbosityLevel(v)
	zerolog.SetGlobalLevel(level)
	logger := e.Logger()
	logger.Debug().Str("level", level.String()).Msg("Set log level")
	return nil
}

func (s *Set) journaldLogging(e *engine.Engine) (engine.Teardown, error) {
	enabled, err := SystemdLoggingVar.Get(e)
	if err != nil || !enabled {
		return nil, err
	}

	out := newJournalWriter()
	if sw, err := LogWriterVar.Get(e); err == nil && sw != nil {
		prev := sw.Swap(out)
		s.logger.Info().Msg("Enabled systemd logging")
		return func(*engine.Engine) error {
			sw.Swap(prev)
			return nil
		}, nil
	}

	// Without a switchable writer only the global logger can be redirected.
	prev := log.Logger
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	log.Logger.Info().Msg("Enabled systemd logging")
	return func(*engine.Engine) error {
		log.Logger = prev
		return nil
	}, nil
}
