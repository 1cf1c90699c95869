package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/units"
)

func newUnitsCommand() *engine.Command {
	return &engine.Command{
		Name:  "units",
		Short: "List registered units",
		Long: `List every registered unit with its kind, the groups it belongs to
and whether it was selected for this run.`,
		NoSignals: true,
		Flags: func(fs *pflag.FlagSet) {
			fs.Bool("selected", false, "only list units selected for this run")
		},
		Run: listUnits,
	}
}

func listUnits(e *engine.Engine) error {
	fs, err := units.Flags(e)
	if err != nil {
		return err
	}
	onlySelected, err := fs.GetBool("selected")
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(units.OutputVar.MustGet(e), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tKIND\tGROUPS\tSTATE")
	for _, u := range e.Registry().Units() {
		state := "-"
		switch {
		case e.IsBlacklisted(u):
			state = "blacklisted"
		case e.IsSelected(u):
			state = "selected"
		case onlySelected:
			continue
		}

		groups := make([]string, 0, len(u.Belongs()))
		for _, g := range u.Belongs() {
			groups = append(groups, g.Name())
		}
		if len(groups) == 0 {
			groups = append(groups, "-")
		}

		kind := u.Kind().String()
		if u.Exclusive() {
			kind += ",exclusive"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Path(), kind, strings.Join(groups, ","), state)
	}
	return w.Flush()
}
