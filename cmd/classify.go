package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lunarelay/pkg/intent"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Print the intent a message would be dispatched as",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classified := intent.Classify(strings.Join(args, " "))
		if classified.Payload == "" {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), classified.Kind)
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", classified.Kind, classified.Payload)
		return err
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
