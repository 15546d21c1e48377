// Package startup provides verbose startup diagnostics and service
// initialization for the rulegate binaries.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5"

	"rulegate/internal/catalog"
	"rulegate/internal/config"
)

// DiagnosticResult represents the result of a diagnostic check
type DiagnosticResult struct {
	Name    string
	Status  Status
	Message string
	Details map[string]string
}

// Status represents the status of a diagnostic check
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusError:
		return "ERROR"
	case StatusSkipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// dialTimeout is how long reachability probes wait per endpoint.
const dialTimeout = 5 * time.Second

// Diagnostics runs all startup diagnostics
type Diagnostics struct {
	cfg     *config.Config
	results []DiagnosticResult
	logger  *slog.Logger
}

// NewDiagnostics creates a new diagnostics runner
func NewDiagnostics(cfg *config.Config, logger *slog.Logger) *Diagnostics {
	return &Diagnostics{
		cfg:    cfg,
		logger: logger,
	}
}

// RunAll runs all diagnostic checks
func (d *Diagnostics) RunAll(ctx context.Context) []DiagnosticResult {
	d.logger.Info("running startup diagnostics")

	d.checkSystem()
	d.checkConfiguration()
	d.checkCatalog()
	d.checkGovernance()
	d.checkModules()
	d.checkStores(ctx)

	d.printSummary()

	return d.results
}

func (d *Diagnostics) addResult(result DiagnosticResult) {
	d.results = append(d.results, result)

	attrs := []any{
		"check", result.Name,
		"status", result.Status.String(),
	}
	if result.Message != "" {
		attrs = append(attrs, "message", result.Message)
	}
	for k, v := range result.Details {
		attrs = append(attrs, k, v)
	}

	switch result.Status {
	case StatusOK:
		d.logger.Info("diagnostic check passed", attrs...)
	case StatusWarning:
		d.logger.Warn("diagnostic check warning", attrs...)
	case StatusError:
		d.logger.Error("diagnostic check failed", attrs...)
	case StatusSkipped:
		d.logger.Debug("diagnostic check skipped", attrs...)
	}
}

func (d *Diagnostics) checkSystem() {
	d.logger.Info("checking system requirements")

	d.addResult(DiagnosticResult{
		Name:    "runtime",
		Status:  StatusOK,
		Message: "Go runtime detected",
		Details: map[string]string{
			"go_version": runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"cpus":       fmt.Sprintf("%d", runtime.NumCPU()),
		},
	})
}

func (d *Diagnostics) checkConfiguration() {
	d.logger.Info("validating configuration")

	configPath := os.Getenv("RULEGATE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		d.addResult(DiagnosticResult{
			Name:    "config_file",
			Status:  StatusWarning,
			Message: "Config file not found, using defaults",
			Details: map[string]string{"path": configPath},
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "config_file",
			Status:  StatusOK,
			Message: "Config file found",
			Details: map[string]string{"path": configPath},
		})
	}

	if err := d.cfg.Validate(); err != nil {
		d.addResult(DiagnosticResult{
			Name:    "config_validation",
			Status:  StatusError,
			Message: fmt.Sprintf("Configuration validation failed: %s", err),
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "config_validation",
			Status:  StatusOK,
			Message: "Configuration is valid",
		})
	}
}

// checkCatalog loads the feature catalog and policy the service will run
// with, so a broken file fails here instead of on the first submission.
func (d *Diagnostics) checkCatalog() {
	d.logger.Info("checking feature catalog and policy")

	if d.cfg.Catalog.CatalogPath == "" {
		cat := catalog.Default()
		d.addResult(DiagnosticResult{
			Name:    "catalog",
			Status:  StatusOK,
			Message: "Using built-in feature catalog",
			Details: map[string]string{"features": fmt.Sprintf("%d", len(cat.Names()))},
		})
	} else if cat, err := catalog.Load(d.cfg.Catalog.CatalogPath); err != nil {
		d.addResult(DiagnosticResult{
			Name:    "catalog",
			Status:  StatusError,
			Message: fmt.Sprintf("Failed to load catalog: %s", err),
			Details: map[string]string{"path": d.cfg.Catalog.CatalogPath},
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "catalog",
			Status:  StatusOK,
			Message: "Catalog loaded",
			Details: map[string]string{
				"path":     d.cfg.Catalog.CatalogPath,
				"features": fmt.Sprintf("%d", len(cat.Names())),
			},
		})
	}

	if d.cfg.Catalog.PolicyPath == "" {
		d.addResult(DiagnosticResult{
			Name:    "policy",
			Status:  StatusOK,
			Message: "Using built-in compliance policy",
		})
	} else if pol, err := catalog.LoadPolicy(d.cfg.Catalog.PolicyPath); err != nil {
		d.addResult(DiagnosticResult{
			Name:    "policy",
			Status:  StatusError,
			Message: fmt.Sprintf("Failed to load policy: %s", err),
			Details: map[string]string{"path": d.cfg.Catalog.PolicyPath},
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "policy",
			Status:  StatusOK,
			Message: "Policy loaded",
			Details: map[string]string{
				"path":              d.cfg.Catalog.PolicyPath,
				"disallowed_fields": fmt.Sprintf("%d", len(pol.DisallowedFields)),
			},
		})
	}
}

// checkGovernance flags audit-trail configurations that would undermine
// the approval record.
func (d *Diagnostics) checkGovernance() {
	d.logger.Info("checking governance configuration")

	switch {
	case d.cfg.Audit.Secret == "" && d.cfg.Postgres.DSN != "":
		d.addResult(DiagnosticResult{
			Name:    "audit_secret",
			Status:  StatusError,
			Message: "Audit secret missing with persistent stores; chain verification breaks across restarts",
			Details: map[string]string{"recommendation": "Set audit.secret or RULEGATE_AUDIT_SECRET"},
		})
	case d.cfg.Audit.Secret == "":
		d.addResult(DiagnosticResult{
			Name:    "audit_secret",
			Status:  StatusWarning,
			Message: "Audit secret missing; an ephemeral signing key will be generated",
		})
	default:
		d.addResult(DiagnosticResult{
			Name:    "audit_secret",
			Status:  StatusOK,
			Message: "Audit signing secret configured",
		})
	}

	d.addResult(DiagnosticResult{
		Name:    "review_settings",
		Status:  StatusOK,
		Message: "Review settings",
		Details: map[string]string{
			"ttl":             d.cfg.Suggestion.TTL.String(),
			"sweep_interval":  d.cfg.Suggestion.SweepInterval.String(),
			"min_note_length": fmt.Sprintf("%d", d.cfg.Suggestion.MinNoteLength),
			"sample_size":     fmt.Sprintf("%d", d.cfg.Suggestion.SampleSize),
		},
	})
}

func (d *Diagnostics) checkModules() {
	d.logger.Info("checking enabled modules")

	modules := []struct {
		name    string
		enabled bool
	}{
		{"Postgres Persistence", d.cfg.Postgres.DSN != ""},
		{"ClickHouse Records", d.cfg.Records.Mode == "clickhouse"},
		{"Redis Generation Cache", d.cfg.Generation.CacheBackend == "redis"},
		{"Kafka Lifecycle Events", d.cfg.Events.Enabled()},
		{"S3 Archival", d.cfg.Archive.Enabled()},
	}

	enabledCount := 0
	for _, m := range modules {
		status := StatusSkipped
		message := "Disabled"
		if m.enabled {
			status = StatusOK
			message = "Enabled"
			enabledCount++
		}
		d.addResult(DiagnosticResult{
			Name:    fmt.Sprintf("module_%s", m.name),
			Status:  status,
			Message: message,
		})
	}

	d.logger.Info("modules summary", "enabled", enabledCount, "total", len(modules))
}

// checkStores probes each configured backend with a TCP dial. A probe
// failure is an error for stores the pipeline cannot run without and a
// warning for optional ones.
func (d *Diagnostics) checkStores(ctx context.Context) {
	d.logger.Info("checking store connectivity")

	if d.cfg.Postgres.DSN == "" {
		d.addResult(DiagnosticResult{
			Name:    "postgres",
			Status:  StatusWarning,
			Message: "No Postgres DSN; suggestions and audit entries are lost on restart",
			Details: map[string]string{"mode": "memory"},
		})
	} else if connCfg, err := pgx.ParseConfig(d.cfg.Postgres.DSN); err != nil {
		d.addResult(DiagnosticResult{
			Name:    "postgres",
			Status:  StatusError,
			Message: fmt.Sprintf("Invalid Postgres DSN: %s", err),
		})
	} else {
		addr := net.JoinHostPort(connCfg.Host, fmt.Sprintf("%d", connCfg.Port))
		d.probe(ctx, "postgres", addr, StatusError)
	}

	if d.cfg.Records.Mode == "clickhouse" {
		host := "localhost:9000"
		if len(d.cfg.Records.ClickHouse.Hosts) > 0 {
			host = d.cfg.Records.ClickHouse.Hosts[0]
		}
		d.probe(ctx, "clickhouse", host, StatusError)
	} else {
		d.addResult(DiagnosticResult{
			Name:    "records",
			Status:  StatusOK,
			Message: "Synthetic record store",
			Details: map[string]string{
				"count": fmt.Sprintf("%d", d.cfg.Records.Synthetic.Count),
				"seed":  fmt.Sprintf("%d", d.cfg.Records.Synthetic.Seed),
			},
		})
	}

	if u, err := url.Parse(d.cfg.Generation.Client.BaseURL); err == nil && u.Host != "" {
		host := u.Host
		if u.Port() == "" {
			switch u.Scheme {
			case "https":
				host = net.JoinHostPort(u.Hostname(), "443")
			default:
				host = net.JoinHostPort(u.Hostname(), "80")
			}
		}
		// Generation failures are survivable per request, so
		// unreachable is only a warning here.
		d.probe(ctx, "generation_endpoint", host, StatusWarning)
	}

	if d.cfg.Generation.CacheBackend == "redis" {
		d.probe(ctx, "redis", d.cfg.Generation.Redis.Addr, StatusWarning)
	}

	if d.cfg.Events.Enabled() && len(d.cfg.Events.Brokers) > 0 {
		d.probe(ctx, "kafka", d.cfg.Events.Brokers[0], StatusWarning)
	}
}

// probe dials addr and records failStatus on failure.
func (d *Diagnostics) probe(ctx context.Context, name, addr string, failStatus Status) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		d.addResult(DiagnosticResult{
			Name:    fmt.Sprintf("%s_connectivity", name),
			Status:  failStatus,
			Message: fmt.Sprintf("Cannot connect to %s: %s", name, err),
			Details: map[string]string{"addr": addr},
		})
		return
	}
	conn.Close()
	d.addResult(DiagnosticResult{
		Name:    fmt.Sprintf("%s_connectivity", name),
		Status:  StatusOK,
		Message: fmt.Sprintf("%s is reachable", name),
		Details: map[string]string{"addr": addr},
	})
}

func (d *Diagnostics) printSummary() {
	var ok, warnings, errors, skipped int
	for _, r := range d.results {
		switch r.Status {
		case StatusOK:
			ok++
		case StatusWarning:
			warnings++
		case StatusError:
			errors++
		case StatusSkipped:
			skipped++
		}
	}

	d.logger.Info("diagnostics summary",
		"passed", ok,
		"warnings", warnings,
		"errors", errors,
		"skipped", skipped,
	)

	if errors > 0 {
		d.logger.Error("startup diagnostics found critical errors - service may not function correctly")
	} else if warnings > 0 {
		d.logger.Warn("startup diagnostics found warnings - review for production readiness")
	} else {
		d.logger.Info("all startup diagnostics passed")
	}
}

// HasErrors returns true if any diagnostic check failed
func (d *Diagnostics) HasErrors() bool {
	for _, r := range d.results {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any diagnostic check has warnings
func (d *Diagnostics) HasWarnings() bool {
	for _, r := range d.results {
		if r.Status == StatusWarning {
			return true
		}
	}
	return false
}
