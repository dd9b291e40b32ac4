// Command import-monarchs seeds monarch records into a family-tree API by
// posting a local JSON array to /api/cosmos/monarchs/import.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dukerupert/familytree/internal/config"
	"github.com/dukerupert/familytree/internal/importer"
	"github.com/dukerupert/familytree/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	monarchsFile string
	baseURL      string
	timeout      time.Duration
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "import-monarchs",
	Short: "Import monarch records through the family-tree API",
	Long: `Reads a JSON array of monarch records from a local file and posts it as
{"monarchs":[...]} to <base-url>/api/cosmos/monarchs/import.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runImport,
}

func init() {
	rootCmd.Flags().StringVarP(&monarchsFile, "file", "f", "monarchs.json", "JSON array of monarch records")
	rootCmd.Flags().StringVar(&baseURL, "base-url", config.New().ImportBaseURL, "base URL of the import API (default from import_base_url config)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func runImport(cmd *cobra.Command, args []string) error {
	logger := logging.Setup(logLevel).With("component", "import")

	if !cmd.Flags().Changed("base-url") {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		baseURL = cfg.ImportBaseURL
	}

	monarchs, err := importer.LoadFile(monarchsFile)
	if err != nil {
		return err
	}
	logger.Info("loaded monarchs", "file", monarchsFile, "count", len(monarchs))

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := importer.NewClient(baseURL, importer.WithHTTPClient(&http.Client{Timeout: timeout}))
	logger.Debug("posting monarchs", "endpoint", client.Endpoint())

	res, err := client.Import(ctx, monarchs)
	if err != nil {
		return err
	}

	logger.Info("import complete", "status", res.StatusCode, "count", res.Count)
	if len(res.Body) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), string(res.Body))
	}
	return nil
}

func main() {
	// .env is optional; real environment variables still win.
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}
}
