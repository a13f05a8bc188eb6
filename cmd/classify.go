package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/txlens/internal/pipeline"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <input>",
	Short: "Print the input kind without analyzing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		if input == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
			input = strings.TrimSpace(string(data))
		}
		fmt.Fprintln(cmd.OutOrStdout(), pipeline.Classify(input))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
