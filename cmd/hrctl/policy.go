package main

import (
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/payroll-portal/pkg/authz"
	"github.com/jacksonlee411/payroll-portal/pkg/declpolicy"
	"github.com/jacksonlee411/payroll-portal/pkg/rules"
)

func (c *cli) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Dry-run the declaration submission policy, acceptance rules and role grants",
	}

	var file, policyPath string
	check := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a submission policy input document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in declpolicy.Input
			if err := readDocument(cmd, file, &in); err != nil {
				return err
			}
			p, err := declpolicy.Load(cmd.Context(), policyPath)
			if err != nil {
				return err
			}
			d, err := p.Evaluate(cmd.Context(), in)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), d)
		},
	}
	check.Flags().StringVarP(&file, "file", "f", "", "policy input (yaml or json, - for stdin)")
	check.Flags().StringVar(&policyPath, "policy", "", "rego module (default: built-in)")

	var expr string
	acceptance := &cobra.Command{
		Use:   "acceptance",
		Short: "Validate a provider acceptance expression",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rules.Validate(expr); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "expression": expr})
		},
	}
	acceptance.Flags().StringVar(&expr, "expr", "", "CEL expression over success, score, kind, data")

	var role, modelPath, grantsPath string
	permissions := &cobra.Command{
		Use:   "permissions",
		Short: "List the effective grants of a role, inherited roles included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := authz.NewAuthorizer(modelPath, grantsPath, authz.ModeEnforce)
			if err != nil {
				return err
			}
			grants, err := a.Permissions(role)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"subject": authz.SubjectFromRoleSlug(role),
				"grants":  grants,
			})
		},
	}
	permissions.Flags().StringVar(&role, "role", "", "role slug (employee, contractor, hr-admin, ...)")
	permissions.Flags().StringVar(&modelPath, "model", "config/access/model.conf", "casbin model")
	permissions.Flags().StringVar(&grantsPath, "grants", "config/access/policy.csv", "casbin policy csv")

	cmd.AddCommand(check, acceptance, permissions)
	return cmd
}
