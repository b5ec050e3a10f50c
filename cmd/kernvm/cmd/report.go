package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/kernvm/datarecording"
	"github.com/sarchlab/kernvm/simulation"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <recording>",
	Short: "Summarize a recording of memory events.",
	Long: `report reads a recording written by "run --record" and prints ` +
		`how faults were resolved, how many pages went out to swap and ` +
		`came back, and which events were traced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		rep, err := simulation.Summarize(cmd.Context(), reader)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		printReport(cmd.OutOrStdout(), rep)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func printReport(out io.Writer, rep simulation.Summary) {
	for _, s := range rep.Sessions {
		fmt.Fprintf(out, "Session %d: %.3fs-%.3fs, %d events\n",
			s.Session, s.SessionStart, s.SessionEnd, s.Events)
	}

	fmt.Fprintf(out, "Faults:    %d\n", rep.Faults())
	printCounts(out, rep.FaultOutcomes)

	fmt.Fprintf(out, "Accesses:\n")
	printCounts(out, rep.FaultTypes)

	fmt.Fprintf(out, "Evictions: %d (%d swap slots)\n",
		rep.Evictions, rep.SwapSlots)
	fmt.Fprintf(out, "Swap-ins:  %d\n", rep.SwapIns)

	fmt.Fprintf(out, "Events:    %d\n", rep.Events)
	printCounts(out, rep.EventsByPos)
}

func printCounts(out io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(out, "  %-18s %d\n", k, counts[k])
	}
}
