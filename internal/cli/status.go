package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/flowgate/internal/core/domain"
	"github.com/vietddude/flowgate/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show import counts per status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("Database URL is not set")
		os.Exit(1)
	}

	ctx := context.Background()
	repo, err := postgres.OpenImportRepo(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = repo.Close()
	}()

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count imports", "error", err)
		os.Exit(1)
	}

	printStatus(cmd.OutOrStdout(), counts)
}

func printStatus(out io.Writer, counts map[domain.ImportStatus]int) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")

	total := 0
	for _, status := range domain.AllImportStatuses {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
		total += counts[status]
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", total)
	_ = w.Flush()
}
