package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vietddude/flowgate/internal/control"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reset imports left importing/updating by a crash back to pending",
	Long: `Recover resets every import whose status is importing or updating to pending.
It is safe to run repeatedly and always exits 0 so it never blocks a deploy.`,
	Run: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) {
	cfg, err := readConfig()
	if err != nil {
		slog.Error("Failed to load config, skipping recovery", "error", err)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Reset 0 stuck import(s)")
		return
	}
	n := control.Recover(context.Background(), cfg, slog.Default())
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reset %d stuck import(s)\n", n)
}
