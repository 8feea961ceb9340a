// Package config loads the server configuration from defaults, an optional
// YAML file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	TenancyFile = "file"
	TenancyDB   = "db"
)

type Config struct {
	HTTP struct {
		Addr       string `mapstructure:"addr"`
		TrustProxy bool   `mapstructure:"trust_proxy"`
	} `mapstructure:"http"`
	Storage struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`
	DB struct {
		URL      string `mapstructure:"url"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Routing struct {
		AllowlistPath string `mapstructure:"allowlist_path"`
	} `mapstructure:"routing"`
	Tenancy struct {
		Source      string `mapstructure:"source"`
		TenantsPath string `mapstructure:"tenants_path"`
	} `mapstructure:"tenancy"`
	Authz struct {
		ModelPath     string `mapstructure:"model_path"`
		PolicyPath    string `mapstructure:"policy_path"`
		Mode          string `mapstructure:"mode"`
		AllowDisabled bool   `mapstructure:"allow_disabled"`
	} `mapstructure:"authz"`
	Tax struct {
		CatalogPath string `mapstructure:"catalog_path"`
		PolicyPath  string `mapstructure:"policy_path"`
		Timezone    string `mapstructure:"timezone"`
	} `mapstructure:"tax"`
	Verification struct {
		ProviderURL       string            `mapstructure:"provider_url"`
		ProviderAPIKey    string            `mapstructure:"provider_api_key"`
		StaticScore       float64           `mapstructure:"static_score"`
		StepTimeout       time.Duration     `mapstructure:"step_timeout"`
		MinInterval       time.Duration     `mapstructure:"min_interval"`
		MinLivenessFrames int               `mapstructure:"min_liveness_frames"`
		Acceptance        map[string]string `mapstructure:"acceptance"`
	} `mapstructure:"verification"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// envBindings keeps the variable names operators already use.
var envBindings = map[string]string{
	"http.addr":                        "HTTP_ADDR",
	"http.trust_proxy":                 "TRUST_PROXY",
	"storage.driver":                   "STORAGE_DRIVER",
	"db.url":                           "DATABASE_URL",
	"db.host":                          "DB_HOST",
	"db.port":                          "DB_PORT",
	"db.user":                          "DB_USER",
	"db.password":                      "DB_PASSWORD",
	"db.name":                          "DB_NAME",
	"db.sslmode":                       "DB_SSLMODE",
	"routing.allowlist_path":           "ALLOWLIST_PATH",
	"tenancy.source":                   "TENANCY_SOURCE",
	"tenancy.tenants_path":             "TENANTS_PATH",
	"authz.model_path":                 "AUTHZ_MODEL_PATH",
	"authz.policy_path":                "AUTHZ_POLICY_PATH",
	"authz.mode":                       "AUTHZ_MODE",
	"authz.allow_disabled":             "AUTHZ_UNSAFE_ALLOW_DISABLED",
	"tax.catalog_path":                 "DEDUCTION_CATALOG_PATH",
	"tax.policy_path":                  "DECLARATION_POLICY_PATH",
	"tax.timezone":                     "TAX_TIMEZONE",
	"verification.provider_url":        "VERIFICATION_PROVIDER_URL",
	"verification.provider_api_key":    "VERIFICATION_PROVIDER_API_KEY",
	"verification.static_score":        "VERIFICATION_STATIC_SCORE",
	"verification.step_timeout":        "VERIFICATION_STEP_TIMEOUT",
	"verification.min_interval":        "VERIFICATION_MIN_INTERVAL",
	"verification.min_liveness_frames": "VERIFICATION_MIN_LIVENESS_FRAMES",
	"log.level":                        "LOG_LEVEL",
	"log.format":                       "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 5438)
	v.SetDefault("db.user", "app")
	v.SetDefault("db.password", "app")
	v.SetDefault("db.name", "payroll_portal")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("routing.allowlist_path", "config/routing/allowlist.yaml")
	v.SetDefault("tenancy.source", TenancyFile)
	v.SetDefault("tenancy.tenants_path", "config/tenants.yaml")
	v.SetDefault("authz.model_path", "config/access/model.conf")
	v.SetDefault("authz.policy_path", "config/access/policy.csv")
	v.SetDefault("authz.mode", "enforce")
	v.SetDefault("tax.catalog_path", "config/deductions/catalog.yaml")
	v.SetDefault("tax.timezone", "UTC")
	v.SetDefault("verification.static_score", 90)
	v.SetDefault("verification.step_timeout", 30*time.Second)
	v.SetDefault("verification.min_interval", 2*time.Second)
	v.SetDefault("verification.min_liveness_frames", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads path when it is not empty; a missing file is an error then.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, err
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("config: http.addr is required")
	}
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Tenancy.Source {
	case TenancyFile:
	case TenancyDB:
		if c.Storage.Driver != StoragePostgres {
			return errors.New("config: tenancy.source=db requires storage.driver=postgres")
		}
	default:
		return fmt.Errorf("config: unknown tenancy.source %q", c.Tenancy.Source)
	}
	if _, err := time.LoadLocation(c.Tax.Timezone); err != nil {
		return fmt.Errorf("config: tax.timezone: %w", err)
	}
	if c.Verification.StaticScore < 0 || c.Verification.StaticScore > 100 {
		return errors.New("config: verification.static_score must be within 0..100")
	}
	if c.Verification.StepTimeout <= 0 || c.Verification.MinInterval < 0 {
		return errors.New("config: verification durations must be positive")
	}
	return nil
}

// DSN prefers db.url and otherwise assembles a postgres URL from the parts.
func (c Config) DSN() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DB.User, c.DB.Password),
		Host:   c.DB.Host + ":" + strconv.Itoa(c.DB.Port),
		Path:   "/" + c.DB.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.DB.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Tax.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
