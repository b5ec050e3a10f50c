package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/browser"
	"github.com/sarchlab/kernvm/simulation"
	"github.com/sarchlab/kernvm/synch"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload of user processes.",
	Long: `run boots the memory system and starts processes that fill their ` +
		`data pages with patterns, check them back, grow and shrink their ` +
		`heaps, and fork children that check a copy of their memory.`,
	RunE: runWorkload,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("procs", 4, "Number of processes")
	runCmd.Flags().Int("pages", 16, "Data pages per process")
	runCmd.Flags().Int("heap", 4, "Heap pages each process grows by")
	runCmd.Flags().Int("forks", 2, "Children forked by each process")
	runCmd.Flags().Bool("record", false, "Record memory events to SQLite")
	runCmd.Flags().String("record-path", "",
		"Path of the recording without the .sqlite3 suffix")
	runCmd.Flags().Bool("monitor", false, "Serve the monitoring page")
	runCmd.Flags().Int("monitor-port", 0, "Port of the monitoring page")
	runCmd.Flags().Bool("open-monitor", false,
		"Open the monitoring page in a browser")
	runCmd.Flags().Bool("keep-alive", false,
		"Keep serving the monitoring page until interrupted")
	runCmd.Flags().Bool("verbose", false, "Print boot messages")
	runCmd.Flags().Bool("log-events", false, "Log every memory event")
}

func runWorkload(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	openMonitor, _ := cmd.Flags().GetBool("open-monitor")
	keepAlive, _ := cmd.Flags().GetBool("keep-alive")
	if openMonitor || keepAlive {
		c.Monitor = true
	}

	builder := simulation.MakeBuilder().WithConfig(c)
	if logEvents, _ := cmd.Flags().GetBool("log-events"); logEvents {
		builder = builder.WithLogWriter(cmd.ErrOrStderr())
	}

	s := builder.Build()
	atexit.Register(func() { _ = s.Terminate() })

	printConfig(cmd, c)

	if openMonitor {
		if err := browser.OpenURL(s.MonitorURL()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Cannot open browser: %v\n", err)
		}
	}

	w := simulation.Workload{}
	w.NumProcs, _ = cmd.Flags().GetInt("procs")
	w.DataPages, _ = cmd.Flags().GetInt("pages")
	w.HeapPages, _ = cmd.Flags().GetInt("heap")
	w.Forks, _ = cmd.Flags().GetInt("forks")

	result, runErr := s.RunWorkload(w)
	printResult(cmd, s, result)

	if keepAlive {
		fmt.Fprintf(cmd.ErrOrStderr(),
			"Serving %s, press Ctrl-C to stop\n", s.MonitorURL())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		<-ctx.Done()
		stop()
	}

	return runErr
}

func printResult(
	cmd *cobra.Command,
	s *simulation.Simulation,
	result simulation.WorkloadResult,
) {
	out := cmd.OutOrStdout()
	stats := s.Stats(synch.NewThread("report"))

	fmt.Fprintf(out, "Processes: %d\n", result.Processes)
	fmt.Fprintf(out, "Pages:     %d written, %d verified\n",
		result.PagesWritten, result.PagesVerified)
	fmt.Fprintf(out, "Faults:    %d (%d zero-fill, %d refill, %d swap-in)\n",
		stats.MMU.Faults, stats.MMU.ZeroFills, stats.MMU.Refills,
		stats.MMU.SwapIns)
	fmt.Fprintf(out, "Evictions: %d, swap slots in use %d of %d\n",
		stats.MMU.Evictions, stats.Swap.Used, stats.Swap.Slots)
	fmt.Fprintf(out, "TLB:       %d hits, %d misses, %d IPIs sent, %d serviced\n",
		stats.TLB.Hits, stats.TLB.Misses, stats.TLB.IPIsSent,
		stats.TLB.IPIsServiced)

	if rec := s.Config().RecordPath; s.DataRecorder() != nil && rec != "" {
		fmt.Fprintf(out, "Recorded:  %s.sqlite3\n", rec)
	}
}
