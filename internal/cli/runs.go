package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/internal/trace"
	"github.com/me/kthreads/pkg/model"
)

// eventsPerPage is the page size used when fetching a whole trace.
const eventsPerPage = 100

func eventsPage() store.EventFilter {
	return store.EventFilter{ListOptions: model.ListOptions{Limit: eventsPerPage}}
}

var (
	stateColors = map[model.RunState]*color.Color{
		model.RunStateRunning:   color.New(color.FgYellow),
		model.RunStateCompleted: color.New(color.FgGreen),
		model.RunStateFailed:    color.New(color.FgRed, color.Bold),
	}
	kindColors = map[model.EventKind]*color.Color{
		model.EventCreate: color.New(color.FgCyan),
		model.EventExit:   color.New(color.FgCyan),
		model.EventDonate: color.New(color.FgMagenta),
		model.EventBlock:  color.New(color.FgYellow),
		model.EventSleep:  color.New(color.FgYellow),
		model.EventLog:    color.New(color.FgGreen),
	}
)

func stateString(s model.RunState) string {
	if c, ok := stateColors[s]; ok {
		return c.Sprint(s)
	}
	return string(s)
}

// writeEvents prints a trace, one event per line.
func writeEvents(w io.Writer, events []model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTICK\tKIND\tTID\tTHREAD\tPRI\tDETAIL")
	for _, ev := range events {
		kind := string(ev.Kind)
		if c, ok := kindColors[ev.Kind]; ok {
			kind = c.Sprint(kind)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%d\t%s\n",
			ev.Seq, ev.Tick, kind, ev.TID, ev.Thread, ev.Priority, ev.Detail)
	}
	tw.Flush()
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsDeleteCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var opts model.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, done, err := source(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			opts.Clamp()
			runs, total, err := src.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWORKLOAD\tSCHEDULER\tSTATE\tTICKS\tCREATED")
			for _, r := range runs {
				sched := "priority"
				if r.MLFQS {
					sched = "mlfqs"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Workload, sched, stateString(r.State),
					humanize.Comma(r.Ticks), humanize.Time(r.CreatedAt))
			}
			tw.Flush()

			if opts.Offset+len(runs) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "Only runs in this state (RUNNING, COMPLETED, FAILED)")
	cmd.Flags().StringVar(&opts.Workload, "workload", "", "Only runs of this workload")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Skip this many runs")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var (
		events bool
		kind   string
		tid    int
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run's report and, optionally, its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, done, err := source(ctx)
			if err != nil {
				return err
			}
			defer done()

			id := args[0]
			run, err := src.GetRun(ctx, id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return fmt.Errorf("run %s not found", id)
			}
			threads, err := src.ListThreads(ctx, id)
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}

			all, err := fetchEvents(cmd, src, id, eventsPage())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			trace.WriteReport(out, *run, threads, summaryOf(all))

			if !events {
				return nil
			}
			filter := eventsPage()
			filter.Kind = model.EventKind(kind)
			if cmd.Flags().Changed("tid") {
				filter.TID = &tid
			}
			shown := all
			if filter.Kind != "" || filter.TID != nil {
				if shown, err = fetchEvents(cmd, src, id, filter); err != nil {
					return err
				}
			}
			fmt.Fprintln(out)
			writeEvents(out, shown)
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "Print the scheduler trace")
	cmd.Flags().StringVar(&kind, "kind", "", "Only trace events of this kind (run, block, donate, ...)")
	cmd.Flags().IntVar(&tid, "tid", 0, "Only trace events of this thread")
	return cmd
}

// fetchEvents pages through a run's trace.
func fetchEvents(cmd *cobra.Command, src runSource, id string, filter store.EventFilter) ([]model.Event, error) {
	var all []model.Event
	for {
		page, total, err := src.ListEvents(cmd.Context(), id, filter)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			return all, nil
		}
		filter.Offset += len(page)
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete recorded runs from the local database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagServer != "" {
				return fmt.Errorf("delete works on the local database only; unset --server")
			}
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			for _, id := range args {
				if err := st.DeleteRun(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted "+strconv.Quote(id))
			}
			return nil
		},
	}
}
