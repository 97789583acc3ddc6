package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "debate",
		Short:         "AI debate simulator",
		Long:          "Runs debates between two AI speakers, or between a human and an AI, with an AI judge.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yml", "Path to the YAML config file")

	rootCmd.AddCommand(GetServeCommand(a))
	rootCmd.AddCommand(GetRunCommand(a))
	rootCmd.AddCommand(GetHistoryCommand(a))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
