package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor   bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:           "pdfdeck",
	Short:         "Convert PDF documents into PPTX slide decks",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default: http://127.0.0.1:<server.port>)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(convertCmd, mergeCmd, jobsCmd, downloadCmd)
	rootCmd.AddCommand(validateCmd, enginesCmd, sweepCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
