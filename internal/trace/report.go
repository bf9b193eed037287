package trace

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/me/kthreads/pkg/model"
)

// WriteReport prints a human-readable run report.
func WriteReport(w io.Writer, run model.Run, threads []model.ThreadSummary, sum Summary) {
	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "Workload:  %s\n", run.Workload)
	fmt.Fprintf(w, "Scheduler: %s\n", schedulerName(run.MLFQS))
	fmt.Fprintf(w, "State:     %s\n", run.State)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", run.Error)
	}
	fmt.Fprintf(w, "Ticks:     %s (%s)\n", humanize.Comma(run.Ticks), ticksPerSecond(run.Ticks))
	fmt.Fprintf(w, "Started:   %s\n", humanize.Time(run.CreatedAt))
	fmt.Fprintf(w, "Thread: %d idle ticks, %d kernel ticks, %d user ticks\n",
		run.Stats.IdleTicks, run.Stats.KernelTicks, run.Stats.UserTicks)
	fmt.Fprintf(w, "Events:    %s, %s context switches\n", humanize.Comma(int64(sum.Events)), humanize.Comma(int64(sum.Switches)))
	fmt.Fprintf(w, "Wait:      mean %.1f  p50 %.1f  p95 %.1f  max %.1f ticks\n\n",
		sum.WaitMean, sum.WaitP50, sum.WaitP95, sum.WaitMax)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TID\tNAME\tPRIORITY\tRUNS\tFIRST RUN\tEXITED\tWAIT P50\tWAIT P95")
	for _, t := range threads {
		exited := "-"
		if t.Exited >= 0 {
			exited = humanize.Comma(t.Exited)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\t%.1f\t%.1f\n",
			t.TID, t.Name, t.FinalPriority, t.Runs, t.FirstRun, exited, t.WaitP50, t.WaitP95)
	}
	tw.Flush()
}

func schedulerName(mlfqs bool) string {
	if mlfqs {
		return "mlfqs"
	}
	return "priority"
}

// ticksPerSecond renders ticks as simulated seconds at the default 100 Hz.
func ticksPerSecond(ticks int64) string {
	return fmt.Sprintf("%.2fs at 100 Hz", float64(ticks)/100)
}
