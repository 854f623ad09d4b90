package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/spf13/cobra"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Print the supported characters and their codes",
	Args:  cobra.NoArgs,
	RunE:  runTable,
}

func runTable(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, char := range cw.Standard.Characters() {
		code, err := cw.Standard.Encode(char)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%c\t%s\n", char, code)
	}
	return w.Flush()
}
