package cmd

import (
	"fmt"

	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/simulation"
	"github.com/sarchlab/kernvm/synch"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Boot the memory system and print its layout.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		c.Record = false
		c.Monitor = false

		s := simulation.MakeBuilder().WithConfig(c).Build()
		defer s.Terminate()

		printConfig(cmd, c)

		t := synch.NewThread("info")
		stats := s.Coremap().Stats(t)
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Frames:   %d total, %d fixed, %d free\n",
			s.Coremap().NumFrames(), stats.Fixed, stats.Free)
		fmt.Fprintf(out, "Page:     %d bytes\n", vm.PageSize)
		fmt.Fprintf(out, "Stack:    0x%08x-0x%08x\n", vm.StackBase, vm.UserStack)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
