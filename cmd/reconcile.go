package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ledgersync/internal/logger"
	"ledgersync/internal/reconciliation"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare ledger store totals with the billing spreadsheet",
	Long: `Reconcile sums every company and billing month held in the ledger store
and compares subtotal and tax with the matching row of the billing
spreadsheet. Every difference is reported; nothing is written.

Differences are shown as spreadsheet minus store. Company names are matched
the same way batches are mirrored, so "株式会社アクメ" in the store and
"アクメ 御中" in the spreadsheet are the same row.

Required configuration:
  MIRROR_SPREADSHEET_URL - billing spreadsheet URL or ID
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string`,
	Example: `  # Text report
  ledgersync reconcile

  # Also list spreadsheet rows with amounts but no stored notes
  ledgersync reconcile --include-mirror-only

  # JSON for further processing, failing when anything drifted
  ledgersync reconcile --format json --strict`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().Bool("include-mirror-only", false, "Report spreadsheet rows no stored company matched")
	reconcileCmd.Flags().String("format", "text", "Output format: text or json")
	reconcileCmd.Flags().Bool("strict", false, "Exit with an error when discrepancies are found")
	reconcileCmd.Flags().Int("timeout", 300, "Timeout in seconds")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	includeMirrorOnly, _ := cmd.Flags().GetBool("include-mirror-only")
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	if format != "text" && format != "json" {
		return fmt.Errorf("invalid --format %q, use text or json", format)
	}

	log.Info().
		Bool("include_mirror_only", includeMirrorOnly).
		Str("format", format).
		Msg("Starting reconciliation")

	ctx, cancel := commandContext(cmd.Context(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	r, err := a.reconciler(reconciliation.Options{IncludeMirrorOnly: includeMirrorOnly})
	if err != nil {
		return err
	}

	discrepancies, err := r.FindDiscrepancies(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if format == "json" {
		err = writeJSON(cmd.OutOrStdout(), discrepancies)
	} else {
		err = reconciliation.WriteReport(cmd.OutOrStdout(), discrepancies)
	}
	if err != nil {
		return err
	}

	log.Info().
		Int("discrepancies", len(discrepancies)).
		Msg("Reconciliation completed")

	if strict && len(discrepancies) > 0 {
		return fmt.Errorf("%d discrepancies found", len(discrepancies))
	}
	return nil
}
