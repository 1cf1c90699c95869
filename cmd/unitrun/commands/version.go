package commands

import (
	"fmt"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/units"
)

func newVersionCommand(opts Options) *engine.Command {
	return &engine.Command{
		Name:      "version",
		Short:     "Print version information",
		NoSignals: true,
		Run: func(e *engine.Engine) error {
			_, err := fmt.Fprintf(units.OutputVar.MustGet(e), "%s %s (commit: %s, built: %s)\n",
				units.ProjectNameVar.MustGet(e), units.VersionVar.MustGet(e), opts.Commit, opts.BuildDate)
			return err
		},
	}
}
