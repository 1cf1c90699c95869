package commands

import (
	"fmt"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/units"
)

func newGraphCommand() *engine.Command {
	return &engine.Command{
		Name:  "graph",
		Short: "Print the unit graph of this run in DOT format",
		Long: `Print the units selected for this run as a Graphviz digraph.

Units are numbered in the order they were set up, exclusive groups are
drawn as clusters and blacklisted units are greyed out. Combine with
--target and --blacklist-target to inspect other selections:

  unitrun graph --target units.worker_pool | dot -Tsvg > units.svg`,
		NoSignals: true,
		Run: func(e *engine.Engine) error {
			_, err := fmt.Fprint(units.OutputVar.MustGet(e), e.ToDOT())
			return err
		},
	}
}
