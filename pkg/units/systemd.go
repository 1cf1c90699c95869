package units

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/openfroyo/unitrun/pkg/engine"
)

// sdNotify is replaced in tests.
var sdNotify = daemon.SdNotify

var notifyStates = map[string]string{
	engine.SignalReady:     daemon.SdNotifyReady,
	engine.SignalReloading: daemon.SdNotifyReloading,
	engine.SignalStopping:  daemon.SdNotifyStopping,
}

func (s *Set) systemdNotify(e *engine.Engine) (engine.Teardown, error) {
	enabled, err := SystemdNotifyVar.Get(e)
	if err != nil || !enabled {
		return nil, err
	}

	notify := func(e *engine.Engine, signal string) {
		sent, err := sdNotify(false, notifyStates[signal])
		if err != nil {
			s.logger.Warn().Err(err).Str("signal", signal).Msg("Failed to notify systemd")
			return
		}
		if !sent {
			s.logger.Debug().Str("signal", signal).Msg("Not running under systemd, notification dropped")
		}
	}

	ids := make(map[string]engine.HandlerID, len(notifyStates))
	for signal := range notifyStates {
		ids[signal] = e.Signals().Add(signal, notify)
	}
	s.logger.Info().Msg("Enabled systemd notifications")

	return func(e *engine.Engine) error {
		for signal, id := range ids {
			e.Signals().Remove(signal, id)
		}
		return nil
	}, nil
}
