package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hyperfsd",
	Short: "Content-addressed file storage service",
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
