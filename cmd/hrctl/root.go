package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/payroll-portal/internal/logging"
)

// cli carries state shared by subcommands. Each root command gets its own
// viper instance so tests can run commands side by side.
type cli struct {
	v       *viper.Viper
	cfgFile string
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "hrctl",
		Short:         "Operator tooling for the payroll portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (yaml)")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")
	root.PersistentFlags().String("catalog", "config/deductions/catalog.yaml", "deduction catalog")
	_ = c.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))
	_ = c.v.BindPFlag("tax.catalog_path", root.PersistentFlags().Lookup("catalog"))

	root.AddCommand(c.deductionsCmd())
	root.AddCommand(c.taxCmd())
	root.AddCommand(c.policyCmd())
	root.AddCommand(c.templatesCmd())
	root.AddCommand(c.dbCmd())
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.SetEnvPrefix("HRCTL")
	c.v.AutomaticEnv()

	logger, err := logging.New(cmd.ErrOrStderr(), c.v.GetString("log.level"), c.v.GetString("log.format"))
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readDocument decodes a YAML or JSON file (or stdin for "-") into v. YAML
// is routed through JSON so decimal fields keep their JSON decoding.
func readDocument(cmd *cobra.Command, path string, v any) error {
	if path == "" {
		return errors.New("missing --file")
	}
	var b []byte
	var err error
	if path == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(j, v)
}
