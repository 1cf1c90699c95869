package units

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/telemetry"
)

// Vars declares every variable read or written by the standard units.
var Vars = engine.NewVarSet()

var (
	ArgsVar = engine.NewVar[*Args](Vars, "ARGS",
		"Result of the command line parse")
	ArgvVar = engine.NewVar(Vars, "ARGV",
		"Command line arguments to parse", engine.Default(os.Args[1:]))
	ArgParserVar = engine.NewVar[*cobra.Command](Vars, "ARG_PARSER",
		"Root command line parser")
	OutputVar = engine.NewVar[io.Writer](Vars, "OUTPUT",
		"Writer for help and command output", engine.Default[io.Writer](os.Stdout))
	ContextVar = engine.NewVar(Vars, "CONTEXT",
		"Context cancelled when the process should stop", engine.Default(context.Background()))
	ProjectNameVar = engine.NewVar(Vars, "PROJECT_NAME",
		"Program name shown in usage and telemetry", engine.Default("unitrun"))
	VersionVar = engine.NewVar(Vars, "VERSION",
		"Program version shown in telemetry", engine.Default("dev"))

	VerboseVar = engine.NewVar[int](Vars, "VERBOSE",
		"Verbosity level")
	ConfigVar = engine.NewVar[string](Vars, "CONFIG",
		"Variable file to load")
	LogWriterVar = engine.NewVar[*telemetry.SwitchWriter](Vars, "LOG_WRITER",
		"Writer behind the process logger, swapped by journald logging")
	SystemdLoggingVar = engine.NewVar(Vars, "SYSTEMD_LOGGING",
		"Send logs to the systemd journal", engine.Default(false))
	SystemdNotifyVar = engine.NewVar(Vars, "SYSTEMD_NOTIFY",
		"Notify systemd of startup, reload and shutdown", engine.Default(false))

	WorkersVar = engine.NewVar(Vars, "WORKERS",
		"Number of engines run concurrently", engine.Default(1))
	WorkerIDVar = engine.NewVar[int](Vars, "WORKER_ID",
		"Index of the worker running the engine")

	TelemetryVar = engine.NewVar(Vars, "TELEMETRY",
		"Enable tracing, metrics and events", engine.Default(true))
	TracingExporterVar = engine.NewVar(Vars, "TRACING_EXPORTER",
		"Span exporter (otlp, stdout, none)", engine.Default("none"))
	TracingEndpointVar = engine.NewVar(Vars, "TRACING_ENDPOINT",
		"OTLP collector endpoint", engine.Default(""))
	TelemetryStateVar = engine.NewVar[*telemetry.Telemetry](Vars, "TELEMETRY_STATE",
		"Telemetry of the running process")
	MetricsAddrVar = engine.NewVar(Vars, "METRICS_ADDR",
		"Address of the prometheus endpoint, empty to disable", engine.Default(""))
	MetricsListenAddrVar = engine.NewVar[string](Vars, "METRICS_LISTEN_ADDR",
		"Address the prometheus endpoint actually listens on")

	JournalPathVar = engine.NewVar(Vars, "JOURNAL_PATH",
		"SQLite run journal, empty to disable", engine.Default(""))
	JournalRunVar = engine.NewVar[string](Vars, "JOURNAL_RUN",
		"Journal run of the current process")

	PolicyPathsVar = engine.NewVar(Vars, "POLICY_PATHS",
		"Rego or JSON policy files and directories checked against the selection", engine.Default([]string{}))
	WatchConfigVar = engine.NewVar(Vars, "WATCH_CONFIG",
		"Reload CONFIG when it changes", engine.Default(false))
)

// varSchema validates variable files. Unknown variables are accepted.
const varSchema = `
ARGV?:             [...string]
PROJECT_NAME?:     string
VERSION?:          string
VERBOSE?:          int & >=0
CONFIG?:           string
SYSTEMD_LOGGING?:  bool
SYSTEMD_NOTIFY?:   bool
WORKERS?:          int & >=1
TELEMETRY?:        bool
TRACING_EXPORTER?: "otlp" | "stdout" | "none"
TRACING_ENDPOINT?: string
METRICS_ADDR?:     string
JOURNAL_PATH?:     string
POLICY_PATHS?:     [...string] | string
WATCH_CONFIG?:     bool
...
`

// stringSlice reads a list of strings, accepting the shapes variable files
// produce: a single string or a list of strings.
func stringSlice(e *engine.Engine, v *engine.Var[[]string]) ([]string, error) {
	raw, ok := e.Lookup(v.Name())
	if !ok {
		def, _ := v.Default()
		return def, nil
	}
	switch val := raw.(type) {
	case []string:
		return val, nil
	case string:
		if val == "" {
			return nil, nil
		}
		return []string{val}, nil
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, engine.NewPermanentError("variable "+v.Name()+" must hold strings", nil).
					WithCode(engine.ErrCodeValidation).
					WithDetail("variable", v.Name())
			}
			out = append(out, s)
		}
		return out, nil
	}
	return v.Get(e)
}
