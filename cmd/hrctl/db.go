package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/payroll-portal/migrations"
)

func (c *cli) dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	var url string
	cmd.PersistentFlags().StringVar(&url, "url", "", "postgres connection string (default: $DATABASE_URL)")
	_ = c.v.BindPFlag("db.url", cmd.PersistentFlags().Lookup("url"))
	_ = c.v.BindEnv("db.url", "DATABASE_URL")

	connect := func(ctx context.Context) (*pgx.Conn, error) {
		dsn := c.v.GetString("db.url")
		if dsn == "" {
			return nil, errors.New("missing --url")
		}
		return pgx.Connect(ctx, dsn)
	}

	openDB := func() (*sql.DB, error) {
		dsn := c.v.GetString("db.url")
		if dsn == "" {
			return nil, errors.New("missing --url")
		}
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, err
		}
		return stdlib.OpenDB(*cfg), nil
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			applied, version, err := migrations.Up(ctx, db)
			if err != nil {
				return err
			}
			for _, m := range applied {
				c.logger.Info("migration applied", "version", m.Version, "name", m.Name, "duration", m.Duration)
			}
			if applied == nil {
				applied = []migrations.Applied{}
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"applied": applied, "version": version})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List embedded migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			list, err := migrations.List(ctx, db)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"migrations": list})
		},
	}

	var tenantID, name string
	var domains []string
	addTenant := &cobra.Command{
		Use:   "add-tenant",
		Short: "Register a tenant and the hostnames that resolve to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenantID == "" || name == "" || len(domains) == 0 {
				return errors.New("--id, --name and --domain are required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(context.Background())

			tx, err := conn.Begin(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback(context.Background()) }()

			if _, err := tx.Exec(ctx, `
INSERT INTO iam.tenants (id, name) VALUES ($1::uuid, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, is_active = true
`, tenantID, name); err != nil {
				return err
			}
			for _, d := range domains {
				if _, err := tx.Exec(ctx, `
INSERT INTO iam.tenant_domains (hostname, tenant_id) VALUES ($1, $2::uuid)
ON CONFLICT (hostname) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
`, strings.ToLower(strings.TrimSpace(d)), tenantID); err != nil {
					return err
				}
			}
			return tx.Commit(ctx)
		},
	}
	addTenant.Flags().StringVar(&tenantID, "id", "", "tenant uuid")
	addTenant.Flags().StringVar(&name, "name", "", "display name")
	addTenant.Flags().StringSliceVar(&domains, "domain", nil, "hostname (repeatable)")

	cmd.AddCommand(migrate, status, addTenant)
	return cmd
}
