package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/corpora/internal/cli"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "corporad",
		Short: "Corpora ingestion daemon and CLI",
		Long: `Corpora scans document sources, segments their content into units and
drives each unit through annotation and indexing.

Environment variables:
  CORPORA_DATABASE_URL     Postgres connection string (required)
  CORPORA_SOURCE           Source to scan: local, gdrive or s3 (default: local)
  CORPORA_OPENAI_API_KEY   Enables annotation, segmentation and transcription
  CORPORA_INDEX_URL        Enables submission to the search index`,
		Version: version,
	}

	rootCmd.AddCommand(cli.RunCmd())
	rootCmd.AddCommand(cli.WorkerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
