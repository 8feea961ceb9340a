package main

import (
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
)

func (c *cli) templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the eKYC flow templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"templates": types.ListTemplates()})
		},
	}
}
