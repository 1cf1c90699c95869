package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/unitrun/cmd/unitrun/commands"
	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	out := setupLogging()

	// Create context that cancels on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, commands.Options{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Argv:      os.Args[1:],
		Output:    os.Stdout,
		LogWriter: out,
		Logger:    log.Logger,
	})
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		stop()
		if engine.IsPermanent(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// setupLogging configures zerolog for structured logging. The returned writer
// lets units redirect log output, to journald for instance.
func setupLogging() *telemetry.SwitchWriter {
	out := telemetry.NewSwitchWriter(zerolog.ConsoleWriter{Out: os.Stderr})
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	// Set log level from environment until the command line is parsed
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	return out
}
