package units

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/unitrun/pkg/engine"
)

// PathPrefix is the registry path prefix of every standard unit.
const PathPrefix = "units."

// Set holds the standard units registered by Register.
type Set struct {
	InitArgParser    *engine.Unit
	ParseConfig      *engine.Unit
	SetLogLevel      *engine.Unit
	InitArgSubparser *engine.Unit
	ParseParameters  *engine.Unit
	JournaldLogging  *engine.Unit
	SystemdNotify    *engine.Unit
	Telemetry        *engine.Unit
	MetricsServer    *engine.Unit
	Journal          *engine.Unit
	RunCommand       *engine.Unit
	SelectionPolicy  *engine.Unit
	EventLoop        *engine.Unit
	Workers          *engine.Unit
	WorkerPool       *engine.Unit
	WatchConfig      *engine.Unit

	registry *engine.Registry
	commands *engine.Commands
	vars     *engine.VarSet
	logger   zerolog.Logger
}

// Option configures Register.
type Option func(*Set)

// WithLogger sets the logger used by the standard units.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Set) {
		s.logger = logger
	}
}

// WithVarSet adds application variables to the --vars listing.
func WithVarSet(vars *engine.VarSet) Option {
	return func(s *Set) {
		if err := s.vars.Merge(vars); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to merge variable declarations")
		}
	}
}

// Register creates the standard units and registers them in reg. Commands
// registered in cmds, now or later, become sub-commands of the command line.
// Select RunCommand to parse the command line and run the chosen command.
func Register(reg *engine.Registry, cmds *engine.Commands, opts ...Option) (*Set, error) {
	s := &Set{
		registry: reg,
		commands: cmds,
		vars:     engine.NewVarSet(),
		logger:   zerolog.Nop(),
	}
	if err := s.vars.Merge(Vars); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "units").Logger()

	if err := s.build(); err != nil {
		return nil, err
	}

	for _, u := range s.Units() {
		if err := reg.Register(PathPrefix+u.Name(), u); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", u.Name(), err)
		}
	}
	return s, nil
}

// MustRegister is like Register but panics on error.
func MustRegister(reg *engine.Registry, cmds *engine.Commands, opts ...Option) *Set {
	s, err := Register(reg, cmds, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Units returns the standard units in registration order.
func (s *Set) Units() []*engine.Unit {
	return []*engine.Unit{
		s.InitArgParser,
		s.ParseConfig,
		s.SetLogLevel,
		s.InitArgSubparser,
		s.ParseParameters,
		s.JournaldLogging,
		s.SystemdNotify,
		s.Telemetry,
		s.MetricsServer,
		s.Journal,
		s.RunCommand,
		s.SelectionPolicy,
		s.Workers,
		s.WorkerPool,
		s.EventLoop,
		s.WatchConfig,
	}
}

// Vars returns every variable declaration known to the set.
func (s *Set) Vars() *engine.VarSet { return s.vars }

func (s *Set) build() error {
	var err error
	unit := func(spec engine.UnitSpec) *engine.Unit {
		if err != nil {
			return nil
		}
		var u *engine.Unit
		u, err = engine.NewUnit(spec)
		return u
	}

	s.InitArgParser = unit(engine.UnitSpec{
		Name:        "init_arg_parser",
		Description: "Builds the command line parser and applies the global flags",
		Action:      engine.Do(s.initArgParser),
	})
	s.ParseConfig = unit(engine.UnitSpec{
		Name:        "parse_config",
		Description: "Loads the CONFIG variable file",
		Depends:     []*engine.Unit{s.InitArgParser},
		After:       []*engine.Unit{s.InitArgParser},
		Action:      engine.Do(s.parseConfig),
	})
	s.SetLogLevel = unit(engine.UnitSpec{
		Name:        "set_log_level",
		Description: "Maps VERBOSE to the global log level",
		Depends:     []*engine.Unit{s.InitArgParser},
		After:       []*engine.Unit{s.InitArgParser, s.ParseConfig},
		Action:      engine.Do(setLogLevel),
	})
	s.InitArgSubparser = unit(engine.UnitSpec{
		Name:        "init_arg_subparser",
		Description: "Adds one sub-command per registered command",
		Depends:     []*engine.Unit{s.InitArgParser},
		After:       []*engine.Unit{s.InitArgParser, s.ParseConfig, s.SetLogLevel},
		Action:      engine.Do(s.initArgSubparser),
	})
	s.ParseParameters = unit(engine.UnitSpec{
		Name:        "parse_parameters",
		Description: "Parses the full command line",
		Depends:     []*engine.Unit{s.InitArgParser, s.InitArgSubparser},
		After:       []*engine.Unit{s.InitArgParser, s.InitArgSubparser},
		Action:      engine.Do(parseParameters),
	})

	ambient := []*engine.Unit{s.ParseParameters, s.ParseConfig, s.SetLogLevel}
	s.JournaldLogging = unit(engine.UnitSpec{
		Name:        "journald_logging",
		Description: "Sends logs to the systemd journal when SYSTEMD_LOGGING is set",
		After:       ambient,
		Action:      engine.Around(s.journaldLogging),
	})
	s.SystemdNotify = unit(engine.UnitSpec{
		Name:        "systemd_notify",
		Description: "Notifies systemd of readiness, reloads and shutdown when SYSTEMD_NOTIFY is set",
		After:       ambient,
		Action:      engine.Around(s.systemdNotify),
	})
	s.Telemetry = unit(engine.UnitSpec{
		Name:        "telemetry",
		Description: "Traces, measures and publishes unit phases when TELEMETRY is set",
		After:       append(ambient, s.JournaldLogging),
		Action:      engine.Around(s.telemetry),
	})
	s.MetricsServer = unit(engine.UnitSpec{
		Name:        "metrics_server",
		Description: "Serves prometheus metrics on METRICS_ADDR",
		Depends:     []*engine.Unit{s.Telemetry},
		After:       []*engine.Unit{s.Telemetry},
		Action:      engine.Around(s.metricsServer),
	})
	s.Journal = unit(engine.UnitSpec{
		Name:        "journal",
		Description: "Records the run in the SQLite journal at JOURNAL_PATH",
		After:       ambient,
		Action:      engine.Around(s.journal),
	})
	s.RunCommand = unit(engine.UnitSpec{
		Name:        "run_command",
		Description: "Runs the command chosen on the command line",
		Depends: []*engine.Unit{
			s.ParseParameters,
			s.InitArgSubparser,
			s.SetLogLevel,
			s.SystemdNotify,
			s.JournaldLogging,
			s.Telemetry,
			s.MetricsServer,
			s.Journal,
		},
		After: []*engine.Unit{
			s.SetLogLevel,
			s.ParseConfig,
			s.ParseParameters,
			s.InitArgSubparser,
			s.SystemdNotify,
			s.JournaldLogging,
			s.Telemetry,
			s.MetricsServer,
			s.Journal,
		},
		Action: engine.Do(s.runCommand),
	})
	s.SelectionPolicy = unit(engine.UnitSpec{
		Name:        "selection_policy",
		Description: "Checks the selection against the policies in POLICY_PATHS",
		After:       []*engine.Unit{s.RunCommand, s.Telemetry},
		Action:      engine.Do(s.selectionPolicy),
	})
	s.Workers = unit(engine.UnitSpec{
		Name:        "workers",
		Description: "Runs the rest of the lifecycle in several engines",
		Exclusive:   true,
		After:       []*engine.Unit{s.RunCommand, s.SelectionPolicy},
		Before:      []*engine.Unit{s.registry.AsyncGroup()},
	})
	s.WorkerPool = unit(engine.UnitSpec{
		Name:        "worker_pool",
		Description: "Runs WORKERS derived engines concurrently",
		Belongs:     []*engine.Unit{s.Workers},
		Action:      engine.OneShot(s.workerPool),
	})
	s.EventLoop = unit(engine.UnitSpec{
		Name:        "event_loop",
		Description: "Continues the run on the asynchronous path",
		Belongs:     []*engine.Unit{s.registry.AsyncGroup()},
		After:       []*engine.Unit{s.RunCommand, s.SelectionPolicy},
		Action:      engine.OneShot(s.eventLoop),
	})
	s.WatchConfig = unit(engine.UnitSpec{
		Name:        "watch_config",
		Description: "Reloads CONFIG on change when WATCH_CONFIG is set",
		Action:      engine.AroundAsync(s.watchConfig),
	})
	return err
}
