package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered model parsers",
	Run: func(cmd *cobra.Command, args []string) {
		for _, id := range model.Default().IDs() {
			fmt.Println(id)
		}
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
