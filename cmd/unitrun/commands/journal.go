package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/journal"
	"github.com/openfroyo/unitrun/pkg/units"
)

func newJournalCommand() *engine.Command {
	return &engine.Command{
		Name:  "journal",
		Short: "Show recorded runs",
		Long: `List the runs recorded in the journal configured by JOURNAL_PATH, newest
first. With --run, list the unit events of a single run instead.`,
		NoSignals: true,
		Flags: func(fs *pflag.FlagSet) {
			fs.Int("limit", 20, "maximum number of runs to list")
			fs.String("run", "", "show the unit events of the run with this `id`")
			fs.Bool("json", false, "output in JSON format")
		},
		Run: showJournal,
	}
}

func showJournal(e *engine.Engine) error {
	fs, err := units.Flags(e)
	if err != nil {
		return err
	}
	limit, _ := fs.GetInt("limit")
	runID, _ := fs.GetString("run")
	asJSON, _ := fs.GetBool("json")

	path := units.JournalPathVar.MustGet(e)
	if path == "" {
		return engine.NewPermanentError("no journal configured, set JOURNAL_PATH", nil).
			WithCode(engine.ErrCodeValidation).
			WithOperation("journal")
	}

	ctx := units.ContextVar.MustGet(e)
	j, err := journal.Open(ctx, journal.Config{Path: path})
	if err != nil {
		return err
	}
	defer j.Close()

	out := units.OutputVar.MustGet(e)
	if runID != "" {
		if _, err := j.GetRun(ctx, runID); err != nil {
			if errors.Is(err, journal.ErrNotFound) {
				return engine.NewPermanentError(fmt.Sprintf("run %q not found", runID), err).
					WithCode(engine.ErrCodeValidation).
					WithOperation("journal")
			}
			return err
		}
		events, err := j.ListUnitEvents(ctx, runID)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(out, events)
		}
		return writeEvents(out, events)
	}

	runs, err := j.ListRuns(ctx, limit, 0)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(out, runs)
	}
	current, _ := units.JournalRunVar.Get(e)
	return writeRuns(out, runs, current)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRuns(out io.Writer, runs []*journal.Run, current string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tSTATUS\tSTARTED\tDURATION")
	for _, run := range runs {
		status := string(run.Status)
		if run.ID == current {
			status += " (this run)"
		}
		command := run.Command
		if command == "" {
			command = "-"
		}
		duration := "-"
		if run.CompletedAt != nil {
			duration = run.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.ID, command, status, run.StartedAt.Local().Format(time.DateTime), duration)
	}
	return w.Flush()
}

func writeEvents(out io.Writer, events []*journal.UnitEvent) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENGINE\tUNIT\tPHASE\tOUTCOME\tDURATION\tERROR")
	for _, ev := range events {
		msg := "-"
		if ev.Error != nil {
			msg = *ev.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			shortID(ev.EngineID), ev.Unit, ev.Phase, ev.Outcome, ev.DurationMS, msg)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
