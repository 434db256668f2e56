// Command privcount runs one PrivCount node role: Tally Server, Share
// Keeper, or Data Collector (spec.md §6 "CLI surface").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per spec.md §6.
const (
	exitOK             = 0
	exitConfigOrNetErr = 1
	exitAggregationInv = 2
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "privcount",
	Short: "PrivCount: differentially-private distributed aggregation over Tor relay statistics",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	rootCmd.AddCommand(tsCmd, skCmd, dcCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigOrNetErr)
	}
}
