package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ledgersync/internal/logger"
	"ledgersync/pkg/models"
)

var saveCmd = &cobra.Command{
	Use:   "save [batch-file]",
	Short: "Save a batch of notes for one company and billing month",
	Long: `Save reads a batch file (YAML or JSON) holding the extracted notes of one
company for one billing month and stores them in the ledger store. The
batch's subtotal and tax are then added to the billing spreadsheet when one
is configured.

A batch carrying a request token already seen is skipped. Notes whose
reference number is already stored for the period are reported as a
duplicate conflict unless --force is given; forced notes replace the stored
ones and only the difference is added to the spreadsheet.

The outcome is printed as JSON.`,
	Example: `  # Save a batch
  ledgersync save batch.yaml

  # Replace already stored slips and tag the request
  ledgersync save batch.json --force --request-token 7f9c2a

  # Derive subtotal, tax and total from the line items
  ledgersync save batch.yaml --compute-totals`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)
	saveCmd.Flags().Bool("force", false, "Overwrite notes whose reference number is already stored")
	saveCmd.Flags().String("request-token", "", "Idempotency token, overrides request_token in the file")
	saveCmd.Flags().Bool("allow-unresolved", false, "Save even if the company cannot be matched in the spreadsheet")
	saveCmd.Flags().Bool("compute-totals", false, "Compute note totals from line items using TAX_RATE")
	saveCmd.Flags().Int("timeout", 60, "Timeout in seconds")
}

func runSave(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("save")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	token, _ := cmd.Flags().GetString("request-token")
	allowUnresolved, _ := cmd.Flags().GetBool("allow-unresolved")
	computeTotals, _ := cmd.Flags().GetBool("compute-totals")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	req, err := readBatchFile(args[0], log)
	if err != nil {
		return err
	}
	if force {
		req.ForceOverwrite = true
	}
	if allowUnresolved {
		req.AllowUnresolved = true
	}
	if token != "" {
		req.RequestToken = token
	}
	if computeTotals {
		for i := range req.Notes {
			req.Notes[i].ComputeTotals(cfg.TaxRate)
		}
	}

	ctx, cancel := commandContext(cmd.Context(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	resp, err := a.billing().SaveBatch(ctx, *req)
	if err != nil {
		return err
	}

	return writeJSON(cmd.OutOrStdout(), resp)
}

// readBatchFile decodes a batch request. JSON is accepted as YAML.
func readBatchFile(path string, log zerolog.Logger) (*models.BatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().
			Err(err).
			Str("file", path).
			Msg("Failed to read batch file")
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var req models.BatchRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Str("company", req.Company).
		Str("period", req.Period.String()).
		Int("notes", len(req.Notes)).
		Msg("Batch file loaded")
	return &req, nil
}
