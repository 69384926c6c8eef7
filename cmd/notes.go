package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ledgersync/internal/logger"
	"ledgersync/pkg/models"
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Inspect and edit stored notes",
	Long: `Notes lists, edits and resets the notes held in the ledger store.

Editing a note's amounts moves the billing spreadsheet by the difference.
Resetting a period removes its notes from the store only; the spreadsheet
must be corrected by hand or checked with reconcile.`,
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the notes stored for a company and billing month",
	Example: `  ledgersync notes list --company "Acme Co., Ltd." --period 2025-03
  ledgersync notes list --company アクメ --period 2025年3月 --tag Suzuki`,
	Args: cobra.NoArgs,
	RunE: runNotesList,
}

var notesUpdateCmd = &cobra.Command{
	Use:     "update [note-id]",
	Short:   "Overwrite a note's amounts after review",
	Example: `  ledgersync notes update 42 --subtotal 12000 --tax 1200 --total 13200`,
	Args:    cobra.ExactArgs(1),
	RunE:    runNotesUpdate,
}

var notesResetCmd = &cobra.Command{
	Use:     "reset",
	Short:   "Delete everything stored for a company and billing month",
	Example: `  ledgersync notes reset --company "Acme Co., Ltd." --period 2025-03`,
	Args:    cobra.NoArgs,
	RunE:    runNotesReset,
}

var notesCompaniesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List the companies present in the ledger store",
	Args:  cobra.NoArgs,
	RunE:  runNotesCompanies,
}

var notesTagsCmd = &cobra.Command{
	Use:     "tags",
	Short:   "List the salesperson tags used for a company",
	Example: `  ledgersync notes tags --company "Acme Co., Ltd."`,
	Args:    cobra.NoArgs,
	RunE:    runNotesTags,
}

func init() {
	rootCmd.AddCommand(notesCmd)
	notesCmd.AddCommand(notesListCmd, notesUpdateCmd, notesResetCmd, notesCompaniesCmd, notesTagsCmd)

	for _, c := range []*cobra.Command{notesListCmd, notesResetCmd} {
		c.Flags().String("company", "", "Company name")
		c.Flags().String("period", "", "Billing month, e.g. 2025-03")
		_ = c.MarkFlagRequired("company")
		_ = c.MarkFlagRequired("period")
	}
	notesListCmd.Flags().String("tag", "", "Only notes attributed to this salesperson")

	notesUpdateCmd.Flags().Int64("subtotal", 0, "New subtotal")
	notesUpdateCmd.Flags().Int64("tax", 0, "New tax")
	notesUpdateCmd.Flags().Int64("total", 0, "New total")
	for _, name := range []string{"subtotal", "tax", "total"} {
		_ = notesUpdateCmd.MarkFlagRequired(name)
	}

	notesTagsCmd.Flags().String("company", "", "Company name")
	_ = notesTagsCmd.MarkFlagRequired("company")
}

func companyAndPeriod(cmd *cobra.Command) (string, models.Period, error) {
	company, _ := cmd.Flags().GetString("company")
	raw, _ := cmd.Flags().GetString("period")

	period, err := models.ParsePeriod(raw)
	if err != nil {
		return "", models.Period{}, fmt.Errorf("invalid --period: %w", err)
	}
	return company, period, nil
}

func runNotesList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("notes")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	company, period, err := companyAndPeriod(cmd)
	if err != nil {
		return err
	}
	tag, _ := cmd.Flags().GetString("tag")

	ctx, cancel := commandContext(cmd.Context(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	notes, err := a.store.ListNotes(ctx, period, company, tag)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), notes)
}

func runNotesUpdate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("notes")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid note id %q: %w", args[0], err)
	}
	subtotal, _ := cmd.Flags().GetInt64("subtotal")
	tax, _ := cmd.Flags().GetInt64("tax")
	total, _ := cmd.Flags().GetInt64("total")

	ctx, cancel := commandContext(cmd.Context(), 60*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	upd, err := a.billing().UpdateNote(ctx, id, subtotal, tax, total)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), upd)
}

func runNotesReset(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("notes")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	company, period, err := companyAndPeriod(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd.Context(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.billing().ResetPeriod(ctx, period, company); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %s %s\n", company, period)
	return nil
}

func runNotesCompanies(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("notes")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd.Context(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	companies, err := a.store.Companies(ctx)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), companies)
}

func runNotesTags(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("notes")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	company, _ := cmd.Flags().GetString("company")

	ctx, cancel := commandContext(cmd.Context(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	tags, err := a.store.Tags(ctx, company)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), tags)
}
