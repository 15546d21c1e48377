package startup

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rulegate/internal/config"
)

// ---------- helpers ----------

// newTestLogger returns a slog.Logger that writes to a buffer so tests
// can inspect log output without polluting stdout.
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler)
}

// newTestDiagnostics creates a Diagnostics with a default config and a
// buffer-backed logger. The caller can tweak cfg before running checks.
func newTestDiagnostics() (*Diagnostics, *config.Config, *bytes.Buffer) {
	cfg := config.DefaultConfig()
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	d := NewDiagnostics(cfg, logger)
	return d, cfg, &buf
}

// findResult searches a slice of DiagnosticResults for one whose Name
// matches the given name. Returns nil if not found.
func findResult(results []DiagnosticResult, name string) *DiagnosticResult {
	for i := range results {
		if results[i].Name == name {
			return &results[i]
		}
	}
	return nil
}

// findResultsPrefix returns all results whose Name starts with prefix.
func findResultsPrefix(results []DiagnosticResult, prefix string) []DiagnosticResult {
	var out []DiagnosticResult
	for _, r := range results {
		if strings.HasPrefix(r.Name, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// ---------- Status.String() ----------

func TestStatusString(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusOK, "OK"},
		{StatusWarning, "WARNING"},
		{StatusError, "ERROR"},
		{StatusSkipped, "SKIPPED"},
		{Status(99), "UNKNOWN"},
		{Status(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := tt.status.String()
			if got != tt.expected {
				t.Errorf("Status(%d).String() = %q, want %q", int(tt.status), got, tt.expected)
			}
		})
	}
}

// ---------- Construction and result plumbing ----------

func TestNewDiagnostics(t *testing.T) {
	d, cfg, _ := newTestDiagnostics()
	if d == nil {
		t.Fatal("NewDiagnostics returned nil")
	}
	if d.cfg != cfg {
		t.Error("Diagnostics does not hold the given config")
	}
	if len(d.results) != 0 {
		t.Errorf("fresh Diagnostics has %d results, want 0", len(d.results))
	}
}

func TestAddResult(t *testing.T) {
	d, _, buf := newTestDiagnostics()

	d.addResult(DiagnosticResult{
		Name:    "sample_check",
		Status:  StatusOK,
		Message: "all good",
		Details: map[string]string{"key": "value"},
	})

	if len(d.results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(d.results))
	}
	if d.results[0].Name != "sample_check" {
		t.Errorf("result name = %q, want sample_check", d.results[0].Name)
	}

	logged := buf.String()
	if !strings.Contains(logged, "sample_check") {
		t.Error("addResult should log the check name")
	}
	if !strings.Contains(logged, "value") {
		t.Error("addResult should log detail values")
	}
}

func TestHasErrors(t *testing.T) {
	d, _, _ := newTestDiagnostics()
	if d.HasErrors() {
		t.Error("empty diagnostics should have no errors")
	}

	d.addResult(DiagnosticResult{Name: "warn", Status: StatusWarning})
	if d.HasErrors() {
		t.Error("a warning alone is not an error")
	}

	d.addResult(DiagnosticResult{Name: "err", Status: StatusError})
	if !d.HasErrors() {
		t.Error("expected HasErrors after an error result")
	}
}

func TestHasWarnings(t *testing.T) {
	d, _, _ := newTestDiagnostics()
	if d.HasWarnings() {
		t.Error("empty diagnostics should have no warnings")
	}

	d.addResult(DiagnosticResult{Name: "ok", Status: StatusOK})
	d.addResult(DiagnosticResult{Name: "warn", Status: StatusWarning})
	if !d.HasWarnings() {
		t.Error("expected HasWarnings after a warning result")
	}
}

// ---------- Configuration checks ----------

func TestCheckConfiguration_NoConfigFile(t *testing.T) {
	t.Setenv("RULEGATE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	d, _, _ := newTestDiagnostics()
	d.checkConfiguration()

	r := findResult(d.results, "config_file")
	if r == nil {
		t.Fatal("missing config_file result")
	}
	if r.Status != StatusWarning {
		t.Errorf("config_file status = %s, want WARNING", r.Status)
	}
}

func TestCheckConfiguration_ConfigFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RULEGATE_CONFIG_PATH", path)

	d, _, _ := newTestDiagnostics()
	d.checkConfiguration()

	r := findResult(d.results, "config_file")
	if r == nil {
		t.Fatal("missing config_file result")
	}
	if r.Status != StatusOK {
		t.Errorf("config_file status = %s, want OK", r.Status)
	}
}

func TestCheckConfiguration_ValidationFails(t *testing.T) {
	d, cfg, _ := newTestDiagnostics()
	cfg.Logging.Level = "noisy"
	d.checkConfiguration()

	r := findResult(d.results, "config_validation")
	if r == nil {
		t.Fatal("missing config_validation result")
	}
	if r.Status != StatusError {
		t.Errorf("config_validation status = %s, want ERROR", r.Status)
	}
}

// ---------- Catalog and policy checks ----------

func TestCheckCatalog_Defaults(t *testing.T) {
	d, _, _ := newTestDiagnostics()
	d.checkCatalog()

	cat := findResult(d.results, "catalog")
	if cat == nil || cat.Status != StatusOK {
		t.Fatalf("catalog result = %+v, want OK", cat)
	}
	if cat.Details["features"] == "0" {
		t.Error("built-in catalog should have features")
	}

	pol := findResult(d.results, "policy")
	if pol == nil || pol.Status != StatusOK {
		t.Fatalf("policy result = %+v, want OK", pol)
	}
}

func TestCheckCatalog_BadPath(t *testing.T) {
	d, cfg, _ := newTestDiagnostics()
	cfg.Catalog.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	d.checkCatalog()

	r := findResult(d.results, "catalog")
	if r == nil {
		t.Fatal("missing catalog result")
	}
	if r.Status != StatusError {
		t.Errorf("catalog status = %s, want ERROR", r.Status)
	}
}

func TestCheckCatalog_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `features:
  - name: amount
    type: number
    description: Transaction amount
  - name: device
    type: string
    description: Device class
    enum: [web, mobile]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, cfg, _ := newTestDiagnostics()
	cfg.Catalog.CatalogPath = path
	d.checkCatalog()

	r := findResult(d.results, "catalog")
	if r == nil {
		t.Fatal("missing catalog result")
	}
	if r.Status != StatusOK {
		t.Fatalf("catalog status = %s, want OK (%s)", r.Status, r.Message)
	}
	if r.Details["features"] != "2" {
		t.Errorf("features = %s, want 2", r.Details["features"])
	}
}

// ---------- Governance checks ----------

func TestCheckGovernance_SecretCombos(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		dsn    string
		want   Status
	}{
		{name: "no secret memory stores", secret: "", dsn: "", want: StatusWarning},
		{name: "no secret with postgres", secret: "", dsn: "postgres://rg@localhost/rg", want: StatusError},
		{name: "secret configured", secret: "s3cret", dsn: "", want: StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, cfg, _ := newTestDiagnostics()
			cfg.Audit.Secret = tt.secret
			cfg.Postgres.DSN = tt.dsn
			d.checkGovernance()

			r := findResult(d.results, "audit_secret")
			if r == nil {
				t.Fatal("missing audit_secret result")
			}
			if r.Status != tt.want {
				t.Errorf("audit_secret status = %s, want %s", r.Status, tt.want)
			}
		})
	}
}

func TestCheckGovernance_ReviewSettings(t *testing.T) {
	d, _, _ := newTestDiagnostics()
	d.checkGovernance()

	r := findResult(d.results, "review_settings")
	if r == nil {
		t.Fatal("missing review_settings result")
	}
	if r.Details["ttl"] != "72h0m0s" {
		t.Errorf("ttl detail = %s, want 72h0m0s", r.Details["ttl"])
	}
	if r.Details["min_note_length"] != "20" {
		t.Errorf("min_note_length detail = %s, want 20", r.Details["min_note_length"])
	}
}

// ---------- Module checks ----------

func TestCheckModules_DefaultConfig(t *testing.T) {
	d, _, _ := newTestDiagnostics()
	d.checkModules()

	modules := findResultsPrefix(d.results, "module_")
	if len(modules) != 5 {
		t.Fatalf("module results = %d, want 5", len(modules))
	}
	for _, m := range modules {
		if m.Status != StatusSkipped {
			t.Errorf("%s status = %s, want SKIPPED with defaults", m.Name, m.Status)
		}
	}
}

func TestCheckModules_AllEnabled(t *testing.T) {
	d, cfg, _ := newTestDiagnostics()
	cfg.Postgres.DSN = "postgres://rg@localhost/rg"
	cfg.Records.Mode = "clickhouse"
	cfg.Generation.CacheBackend = "redis"
	cfg.Events.Brokers = []string{"localhost:9092"}
	cfg.Events.Topic = "rulegate.suggestions"
	cfg.Archive.Bucket = "rulegate-archive"

	d.checkModules()

	for _, m := range findResultsPrefix(d.results, "module_") {
		if m.Status != StatusOK {
			t.Errorf("%s status = %s, want OK", m.Name, m.Status)
		}
	}
}

// ---------- Store checks ----------

func TestCheckStores_MemoryDefaults(t *testing.T) {
	d, _, _ := newTestDiagnostics()
	d.checkStores(context.Background())

	pg := findResult(d.results, "postgres")
	if pg == nil {
		t.Fatal("missing postgres result")
	}
	if pg.Status != StatusWarning {
		t.Errorf("postgres status = %s, want WARNING for memory mode", pg.Status)
	}

	rec := findResult(d.results, "records")
	if rec == nil {
		t.Fatal("missing records result")
	}
	if rec.Status != StatusOK {
		t.Errorf("records status = %s, want OK for synthetic mode", rec.Status)
	}
	if rec.Details["count"] != "20000" {
		t.Errorf("records count = %s, want 20000", rec.Details["count"])
	}
}

func TestCheckStores_UnreachablePostgres(t *testing.T) {
	d, cfg, _ := newTestDiagnostics()
	// Port 9 is the discard service, not running on test machines.
	cfg.Postgres.DSN = "postgres://rg:rg@127.0.0.1:9/rulegate"
	d.checkStores(context.Background())

	r := findResult(d.results, "postgres_connectivity")
	if r == nil {
		t.Fatal("missing postgres_connectivity result")
	}
	if r.Status != StatusError {
		t.Errorf("postgres_connectivity status = %s, want ERROR", r.Status)
	}
}

// ---------- RunAll ----------

func TestRunAll_DefaultsHaveNoErrors(t *testing.T) {
	t.Setenv("RULEGATE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	d, _, _ := newTestDiagnostics()
	results := d.RunAll(context.Background())

	if d.HasErrors() {
		for _, r := range results {
			if r.Status == StatusError {
				t.Errorf("unexpected error result: %s: %s", r.Name, r.Message)
			}
		}
	}

	for _, name := range []string{"runtime", "config_validation", "catalog", "policy", "audit_secret", "review_settings", "records"} {
		if findResult(results, name) == nil {
			t.Errorf("RunAll missing %q result", name)
		}
	}
}
