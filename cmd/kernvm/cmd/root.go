// Package cmd provides the command-line interface of kernvm.
package cmd

import (
	"fmt"

	"github.com/sarchlab/kernvm/config"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kernvm",
	Short: "kernvm runs the virtual memory system of a teaching kernel.",
	Long: `kernvm boots physical memory, the coremap, swap, and a set of ` +
		`cores with TLBs, then runs user processes that fault, swap, fork, ` +
		`and exit on top of them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func init() {
	rootCmd.PersistentFlags().StringSlice("env", nil,
		"Env files to read settings from (default .env if present)")
	rootCmd.PersistentFlags().Int("ram-pages", 0, "Pages of physical memory")
	rootCmd.PersistentFlags().Int("kernel-pages", 0,
		"Pages taken by the kernel image")
	rootCmd.PersistentFlags().Int("cores", 0, "Number of cores")
	rootCmd.PersistentFlags().Int("tlb-entries", 0, "TLB entries per core")
	rootCmd.PersistentFlags().String("swap-file", "", "Swap device file")
	rootCmd.PersistentFlags().Int("swap-pages", -1,
		"Pages of swap, 0 to run without swap")
}

// loadConfig reads the env files and applies the flags that were given.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	files, _ := cmd.Flags().GetStringSlice("env")

	c, err := config.Load(files...)
	if err != nil {
		return c, err
	}

	flags := cmd.Flags()

	overrideInt := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	overrideInt("ram-pages", &c.RAMPages)
	overrideInt("kernel-pages", &c.KernelPages)
	overrideInt("cores", &c.NumCores)
	overrideInt("tlb-entries", &c.TLBEntries)
	overrideInt("swap-pages", &c.SwapPages)

	if flags.Changed("swap-file") {
		c.SwapFile, _ = flags.GetString("swap-file")
	}

	if flags.Lookup("record") != nil && flags.Changed("record") {
		c.Record, _ = flags.GetBool("record")
	}

	if flags.Lookup("record-path") != nil && flags.Changed("record-path") {
		c.RecordPath, _ = flags.GetString("record-path")
		c.Record = true
	}

	if flags.Lookup("monitor") != nil && flags.Changed("monitor") {
		c.Monitor, _ = flags.GetBool("monitor")
	}

	if flags.Lookup("monitor-port") != nil && flags.Changed("monitor-port") {
		c.MonitorPort, _ = flags.GetInt("monitor-port")
		c.Monitor = true
	}

	if flags.Lookup("verbose") != nil && flags.Changed("verbose") {
		c.Verbose, _ = flags.GetBool("verbose")
	}

	if err := c.Validate(); err != nil {
		return c, err
	}

	return c, nil
}

func printConfig(cmd *cobra.Command, c config.Config) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "RAM:      %d pages (%d for the kernel)\n",
		c.RAMPages, c.KernelPages)
	fmt.Fprintf(out, "Cores:    %d, %d TLB entries each\n",
		c.NumCores, c.TLBEntries)

	if c.SwapPages > 0 {
		fmt.Fprintf(out, "Swap:     %d pages in %s\n", c.SwapPages, c.SwapFile)
	} else {
		fmt.Fprintln(out, "Swap:     none")
	}
}
