package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ledgersync/internal/logger"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Work with the billing spreadsheet",
	Long: `Mirror reads and updates the billing spreadsheet directly: payments
received, the carried-over position of an invoice, and the companies and
billing months the spreadsheet knows about.`,
}

var mirrorPaymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Record a payment received from a company",
	Example: `  # Add a payment to what is already booked for the month
  ledgersync mirror payment --company "Acme Co., Ltd." --period 2025-03 --amount 11000

  # Replace the booked payment
  ledgersync mirror payment --company "Acme Co., Ltd." --period 2025-03 --amount 11000 --replace`,
	Args: cobra.NoArgs,
	RunE: runMirrorPayment,
}

var mirrorPreviousCmd = &cobra.Command{
	Use:     "previous",
	Short:   "Show the previous balance and payment carried onto an invoice",
	Example: `  ledgersync mirror previous --company "Acme Co., Ltd." --period 2025-01`,
	Args:    cobra.NoArgs,
	RunE:    runMirrorPrevious,
}

var mirrorCompaniesCmd = &cobra.Command{
	Use:     "companies",
	Short:   "List the companies of a year's sheet",
	Example: `  ledgersync mirror companies --year 2025`,
	Args:    cobra.NoArgs,
	RunE:    runMirrorCompanies,
}

var mirrorPeriodsCmd = &cobra.Command{
	Use:     "periods",
	Short:   "List the billing months of a year's sheet",
	Example: `  ledgersync mirror periods --year 2025`,
	Args:    cobra.NoArgs,
	RunE:    runMirrorPeriods,
}

func init() {
	rootCmd.AddCommand(mirrorCmd)
	mirrorCmd.AddCommand(mirrorPaymentCmd, mirrorPreviousCmd, mirrorCompaniesCmd, mirrorPeriodsCmd)

	for _, c := range []*cobra.Command{mirrorPaymentCmd, mirrorPreviousCmd} {
		c.Flags().String("company", "", "Company name")
		c.Flags().String("period", "", "Billing month, e.g. 2025-03")
		_ = c.MarkFlagRequired("company")
		_ = c.MarkFlagRequired("period")
	}
	mirrorPaymentCmd.Flags().Int64("amount", 0, "Payment amount")
	mirrorPaymentCmd.Flags().Bool("replace", false, "Replace the booked payment instead of adding to it")
	_ = mirrorPaymentCmd.MarkFlagRequired("amount")

	for _, c := range []*cobra.Command{mirrorCompaniesCmd, mirrorPeriodsCmd} {
		c.Flags().Int("year", time.Now().Year(), "Sheet year")
	}
}

func runMirrorPayment(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("mirror")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	company, period, err := companyAndPeriod(cmd)
	if err != nil {
		return err
	}
	amount, _ := cmd.Flags().GetInt64("amount")
	replace, _ := cmd.Flags().GetBool("replace")
	if amount < 0 {
		return fmt.Errorf("--amount must not be negative")
	}

	ctx, cancel := commandContext(cmd.Context(), 60*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.requireMirror()
	if err != nil {
		return err
	}
	res, err := m.RecordPayment(ctx, company, period, amount, !replace)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func runMirrorPrevious(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("mirror")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	company, period, err := companyAndPeriod(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd.Context(), 60*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.requireMirror()
	if err != nil {
		return err
	}
	prev, err := m.PreviousBilling(ctx, company, period)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), prev)
}

func runMirrorCompanies(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("mirror")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	year, _ := cmd.Flags().GetInt("year")

	ctx, cancel := commandContext(cmd.Context(), 60*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.requireMirror()
	if err != nil {
		return err
	}
	companies, err := m.Companies(ctx, year)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), companies)
}

func runMirrorPeriods(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("mirror")
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	year, _ := cmd.Flags().GetInt("year")

	ctx, cancel := commandContext(cmd.Context(), 60*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.requireMirror()
	if err != nil {
		return err
	}
	periods, err := m.Periods(ctx, year)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), periods)
}
