package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/payroll-portal/pkg/payroll/tds"
)

type taxOutput struct {
	Annual     tds.AnnualResult `json:"annual"`
	MonthlyTDS decimal.Decimal  `json:"monthly_tds"`
}

func (c *cli) taxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tax",
		Short: "Income tax arithmetic",
	}

	var gross, deductions, deducted, regime string
	compute := &cobra.Command{
		Use:   "compute",
		Short: "Compute annual tax and the monthly TDS instalment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := tds.AnnualInput{Regime: tds.Regime(regime)}
			var err error
			if in.GrossSalary, err = decimal.NewFromString(gross); err != nil {
				return fmt.Errorf("--gross: %w", err)
			}
			if in.ClaimedDeductions, err = decimal.NewFromString(deductions); err != nil {
				return fmt.Errorf("--deductions: %w", err)
			}
			if in.TDSDeducted, err = decimal.NewFromString(deducted); err != nil {
				return fmt.Errorf("--tds-deducted: %w", err)
			}
			res, err := tds.ComputeAnnual(in)
			if err != nil {
				return err
			}
			monthly, err := tds.MonthlyTDS(res.TotalTax, 1)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), taxOutput{Annual: res, MonthlyTDS: monthly})
		},
	}
	compute.Flags().StringVar(&gross, "gross", "", "annual gross salary")
	compute.Flags().StringVar(&deductions, "deductions", "0", "claimed deductions, already capped")
	compute.Flags().StringVar(&deducted, "tds-deducted", "0", "tax already withheld this year")
	compute.Flags().StringVar(&regime, "regime", string(tds.RegimeOld), "tax regime (old, new)")
	_ = compute.MarkFlagRequired("gross")

	var fy string
	window := &cobra.Command{
		Use:   "window",
		Short: "Print the declaration window of a financial year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := tds.ParseFinancialYear(fy)
			if err != nil {
				return err
			}
			w := tds.DeclarationWindow(parsed, time.UTC)
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"financial_year": parsed.String(),
				"opens":          w.Opens,
				"closes":         w.Closes,
			})
		},
	}
	window.Flags().StringVar(&fy, "financial-year", "", "financial year, e.g. 2024-25")
	_ = window.MarkFlagRequired("financial-year")

	cmd.AddCommand(compute, window)
	return cmd
}
