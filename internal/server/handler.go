package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jacksonlee411/payroll-portal/internal/config"
	"github.com/jacksonlee411/payroll-portal/internal/routing"
	taxports "github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/ports"
	taxpersistence "github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/infrastructure/persistence"
	taxcontrollers "github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/presentation/controllers"
	taxservices "github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/services"
	verificationports "github.com/jacksonlee411/payroll-portal/modules/verification/domain/ports"
	verificationpersistence "github.com/jacksonlee411/payroll-portal/modules/verification/infrastructure/persistence"
	"github.com/jacksonlee411/payroll-portal/modules/verification/infrastructure/provider"
	verificationcontrollers "github.com/jacksonlee411/payroll-portal/modules/verification/presentation/controllers"
	verificationservices "github.com/jacksonlee411/payroll-portal/modules/verification/services"
	"github.com/jacksonlee411/payroll-portal/pkg/authz"
	"github.com/jacksonlee411/payroll-portal/pkg/declpolicy"
	"github.com/jacksonlee411/payroll-portal/pkg/deduction"
	"github.com/jacksonlee411/payroll-portal/pkg/rules"
)

// HandlerOptions overrides the collaborators NewHandler would otherwise
// build from Config. Pool is required when storage.driver is postgres and
// no stores are given.
type HandlerOptions struct {
	Config            config.Config
	Logger            *slog.Logger
	Pool              *pgxpool.Pool
	TenancyResolver   TenancyResolver
	PrincipalResolver PrincipalResolver
	Authorizer        authorizer
	FlowStore         verificationports.FlowStore
	DeclarationStore  taxports.DeclarationStore
	Verifier          verificationports.Verifier
	NowUTC            func() time.Time
}

func NewHandler(ctx context.Context, opts HandlerOptions) (http.Handler, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowlistPath, err := resolveConfigPath(cfg.Routing.AllowlistPath)
	if err != nil {
		return nil, err
	}
	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	usePG := cfg.Storage.Driver == config.StoragePostgres
	if usePG && opts.Pool == nil && (opts.FlowStore == nil || opts.DeclarationStore == nil) {
		return nil, errors.New("server: postgres storage requires a pool")
	}

	tenancy := opts.TenancyResolver
	if tenancy == nil {
		tenancy, err = newTenancyResolver(cfg, opts.Pool)
		if err != nil {
			return nil, err
		}
	}
	principals := opts.PrincipalResolver
	if principals == nil {
		principals = headerPrincipalResolver{}
	}
	az := opts.Authorizer
	if az == nil {
		loaded, err := loadAuthorizer(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("authz loaded", "mode", string(loaded.Mode()))
		az = loaded
	}

	flowStore := opts.FlowStore
	if flowStore == nil {
		if usePG {
			flowStore = verificationpersistence.NewFlowPGStore(opts.Pool)
		} else {
			flowStore = verificationpersistence.NewFlowMemoryStore()
		}
	}
	declStore := opts.DeclarationStore
	if declStore == nil {
		if usePG {
			declStore = taxpersistence.NewDeclarationPGStore(opts.Pool)
		} else {
			declStore = taxpersistence.NewDeclarationMemoryStore()
		}
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier, err = newVerifier(cfg)
		if err != nil {
			return nil, err
		}
	}

	acceptance := maps.Clone(rules.DefaultAcceptance)
	maps.Copy(acceptance, cfg.Verification.Acceptance)
	acc, err := rules.NewAcceptance(acceptance)
	if err != nil {
		return nil, err
	}
	verificationSvc, err := verificationservices.NewVerificationService(flowStore, verifier, verificationservices.Options{
		StepTimeout:       cfg.Verification.StepTimeout,
		MinInterval:       cfg.Verification.MinInterval,
		MinLivenessFrames: cfg.Verification.MinLivenessFrames,
		Acceptance:        acc,
		Notifier:          provider.LogNotifier{Logger: logger},
		Logger:            logger,
		Clock:             opts.NowUTC,
	})
	if err != nil {
		return nil, err
	}

	catalogPath, err := resolveConfigPath(cfg.Tax.CatalogPath)
	if err != nil {
		return nil, err
	}
	catalog, err := deduction.LoadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	policyPath := cfg.Tax.PolicyPath
	if policyPath != "" {
		if policyPath, err = resolveConfigPath(policyPath); err != nil {
			return nil, err
		}
	}
	policy, err := declpolicy.Load(ctx, policyPath)
	if err != nil {
		return nil, err
	}
	declarationSvc, err := taxservices.NewDeclarationService(declStore, taxservices.Options{
		Catalog:  catalog,
		Policy:   policy,
		Location: cfg.Location(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	kyc := verificationcontrollers.VerificationController{
		Subject: subjectFromContext,
		NowUTC:  opts.NowUTC,
		Service: verificationSvc,
	}
	tax := taxcontrollers.TaxController{
		TenantID:   tenantIDFromContext,
		EmployeeID: employeeIDFromContext,
		NowUTC:     opts.NowUTC,
		Service:    declarationSvc,
	}

	router := routing.NewRouter(classifier, logger)
	router.Handle(http.MethodGet, "/health", healthHandler(opts.Pool))

	router.Handle(http.MethodGet, "/kyc/api/templates", http.HandlerFunc(kyc.HandleTemplatesAPI))
	router.Handle(http.MethodGet, "/kyc/api/flows", http.HandlerFunc(kyc.HandleFlowsAPI))
	router.Handle(http.MethodPost, "/kyc/api/flows", http.HandlerFunc(kyc.HandleFlowsAPI))
	router.Handle(http.MethodPost, "/kyc/api/flows/steps:run", http.HandlerFunc(kyc.HandleRunStepAPI))
	router.Handle(http.MethodPost, "/kyc/api/flows/steps:retry", http.HandlerFunc(kyc.HandleRetryStepAPI))
	router.Handle(http.MethodPost, "/kyc/api/flows/phases:advance", http.HandlerFunc(kyc.HandleAdvancePhaseAPI))
	router.Handle(http.MethodGet, "/kyc/api/flows/records", http.HandlerFunc(kyc.HandleRecordsAPI))

	router.Handle(http.MethodGet, "/tax/api/catalog", http.HandlerFunc(tax.HandleCatalogAPI))
	router.Handle(http.MethodPost, "/tax/api/deductions:preview", http.HandlerFunc(tax.HandleDeductionsPreviewAPI))
	router.Handle(http.MethodGet, "/tax/api/declarations", http.HandlerFunc(tax.HandleDeclarationsAPI))
	router.Handle(http.MethodPost, "/tax/api/declarations", http.HandlerFunc(tax.HandleDeclarationsAPI))
	router.Handle(http.MethodGet, "/tax/api/declarations/history", http.HandlerFunc(tax.HandleDeclarationHistoryAPI))
	router.Handle(http.MethodPost, "/tax/api/declarations:submit", http.HandlerFunc(tax.HandleSubmitDeclarationAPI))
	router.Handle(http.MethodPost, "/tax/api/declarations:review", http.HandlerFunc(tax.HandleReviewDeclarationAPI))
	router.Handle(http.MethodGet, "/tax/api/summary", http.HandlerFunc(tax.HandleTaxSummaryAPI))
	router.Handle(http.MethodGet, "/tax/api/deadline", http.HandlerFunc(tax.HandleDeadlineAPI))
	router.Handle(http.MethodPost, "/tax/api/salary-structures:preview", http.HandlerFunc(tax.HandleSalaryPreviewAPI))

	if missing := router.Unregistered(); len(missing) > 0 {
		return nil, fmt.Errorf("server: allowlisted routes without handler: %s", strings.Join(missing, ", "))
	}
	if extra := router.Undeclared(); len(extra) > 0 {
		return nil, fmt.Errorf("server: routes missing from allowlist: %s", strings.Join(extra, ", "))
	}

	var h http.Handler = router
	h = withAuthz(classifier, az, logger, h)
	h = withTenantAndPrincipal(classifier, tenancy, principals, cfg.HTTP.TrustProxy, h)
	h = withRequestLog(logger, h)
	return h, nil
}

func newTenancyResolver(cfg config.Config, pool *pgxpool.Pool) (TenancyResolver, error) {
	if cfg.Tenancy.Source == config.TenancyDB {
		if pool == nil {
			return nil, errors.New("server: db tenancy requires a pool")
		}
		return newTenancyDBResolver(pool), nil
	}
	path, err := resolveConfigPath(cfg.Tenancy.TenantsPath)
	if err != nil {
		return nil, err
	}
	tenants, err := loadTenants(path)
	if err != nil {
		return nil, err
	}
	return newStaticTenancyResolver(tenants), nil
}

func loadAuthorizer(cfg config.Config) (*authz.Authorizer, error) {
	modelPath, err := resolveConfigPath(cfg.Authz.ModelPath)
	if err != nil {
		return nil, err
	}
	policyPath, err := resolveConfigPath(cfg.Authz.PolicyPath)
	if err != nil {
		return nil, err
	}
	mode, err := authz.ParseMode(cfg.Authz.Mode, cfg.Authz.AllowDisabled)
	if err != nil {
		return nil, err
	}
	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

func newVerifier(cfg config.Config) (verificationports.Verifier, error) {
	if cfg.Verification.ProviderURL == "" {
		return provider.StaticVerifier{Score: cfg.Verification.StaticScore}, nil
	}
	return provider.NewHTTPVerifier(cfg.Verification.ProviderURL, cfg.Verification.ProviderAPIKey, cfg.Verification.StepTimeout)
}

// resolveConfigPath accepts absolute or working-directory paths and
// otherwise looks for a relative path in parent directories, so binaries
// and tests find the repo config from any package directory.
func resolveConfigPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("server: empty config path")
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	p := path
	for range 8 {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		p = filepath.Join("..", p)
	}
	return "", fmt.Errorf("server: %s not found", path)
}

func healthHandler(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["db"] = "unavailable"
			} else {
				body["db"] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}
