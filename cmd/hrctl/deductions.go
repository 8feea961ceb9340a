package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/payroll-portal/pkg/deduction"
)

type summaryOutput struct {
	Summary     deduction.Summary `json:"summary"`
	CappedTotal decimal.Decimal   `json:"capped_total"`
	Metrics     deduction.Metrics `json:"metrics"`
}

func (c *cli) loadCatalog() (deduction.Catalog, error) {
	return deduction.LoadCatalog(c.v.GetString("tax.catalog_path"))
}

func (c *cli) deductionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deductions",
		Short: "Deduction catalog and arithmetic",
	}

	var file, base string
	var rate float64
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Summarize a list of deduction entries against the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := c.loadCatalog()
			if err != nil {
				return err
			}
			var entries []deduction.Entry
			if err := readDocument(cmd, file, &entries); err != nil {
				return err
			}
			b := decimal.Zero
			if base != "" {
				if b, err = decimal.NewFromString(base); err != nil {
					return err
				}
			}
			s := deduction.ComputeSummary(entries, catalog.Caps())
			m, err := deduction.ComputeMetrics(s, rate, b)
			if err != nil {
				return err
			}
			c.logger.Debug("deductions summarized", "entries", len(entries), "over_limit", len(s.OverLimitCategories))
			return writeJSON(cmd.OutOrStdout(), summaryOutput{Summary: s, CappedTotal: s.CappedTotal(), Metrics: m})
		},
	}
	summary.Flags().StringVarP(&file, "file", "f", "", "entries file (yaml or json, - for stdin)")
	summary.Flags().Float64Var(&rate, "rate", 0.30, "marginal savings rate for the impact estimate")
	summary.Flags().StringVar(&base, "base", "", "annual base salary for percent_of_base")

	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Print the deduction catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := c.loadCatalog()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cat)
		},
	}

	cmd.AddCommand(summary, catalog)
	return cmd
}
