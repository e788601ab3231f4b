// corpusd serves and maintains a universal pattern corpus: a catalog
// of formally specified concepts, patterns, and flows stored in SQLite
// and exposed over HTTP in canonical JSON, compact JSON, CSV, and XML.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corpusd",
		Short: "Universal pattern corpus service",
		Long: `corpusd manages a catalog of formally specified patterns.
It serves the catalog over HTTP and converts it between the canonical
JSON form and the compact, CSV, and XML interchange formats.`,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
