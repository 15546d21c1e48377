// Package main provides a CLI tool for working with rulegate YAML rules.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rulegate/internal/catalog"
	"rulegate/internal/dryrun"
	"rulegate/internal/policygate"
	"rulegate/internal/records"
	"rulegate/internal/rules"
	"rulegate/internal/sampling"
	"rulegate/internal/validate"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		runValidateCmd(os.Args[2:])
	case "lint":
		runLintCmd(os.Args[2:])
	case "dryrun":
		runDryRunCmd(os.Args[2:])
	case "catalog":
		runCatalogCmd(os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("rulegate-rules %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: rulegate-rules <command> [flags] [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  validate  Validate YAML rule files or directories against the catalog\n")
	fmt.Fprintf(os.Stderr, "  lint      Run the policy gate over YAML rule files or directories\n")
	fmt.Fprintf(os.Stderr, "  dryrun    Evaluate a rule file against a JSON record fixture\n")
	fmt.Fprintf(os.Stderr, "  catalog   Print the feature catalog and policy constants\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

func runValidateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	catalogPath := fs.String("catalog", "", "Feature catalog YAML (default built-in)")
	policyPath := fs.String("policy", "", "Policy constants YAML (default built-in)")
	verbose := fs.Bool("verbose", false, "Show detailed rule information")
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one path is required\n")
		fmt.Fprintf(os.Stderr, "Usage: rulegate-rules validate [--catalog file] [--verbose] <path> [<path>...]\n")
		os.Exit(1)
	}

	cat, policy, err := loadCatalogAndPolicy(*catalogPath, *policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	v := validate.New(cat, policy)
	os.Exit(runOverFiles(paths, func(path string) bool {
		return validateFile(v, path, *verbose)
	}))
}

func runLintCmd(args []string) {
	fs := flag.NewFlagSet("lint", flag.ExitOnError)
	catalogPath := fs.String("catalog", "", "Feature catalog YAML (default built-in)")
	policyPath := fs.String("policy", "", "Policy constants YAML (default built-in)")
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one path is required\n")
		fmt.Fprintf(os.Stderr, "Usage: rulegate-rules lint [--catalog file] [--policy file] <path> [<path>...]\n")
		os.Exit(1)
	}

	cat, policy, err := loadCatalogAndPolicy(*catalogPath, *policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	gate, err := policygate.New(cat, policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(runOverFiles(paths, func(path string) bool {
		return lintFile(gate, path)
	}))
}

func runDryRunCmd(args []string) {
	fs := flag.NewFlagSet("dryrun", flag.ExitOnError)
	fixture := fs.String("records", "", "JSON fixture with an array of transaction records (required)")
	catalogPath := fs.String("catalog", "", "Feature catalog YAML (default built-in)")
	policyPath := fs.String("policy", "", "Policy constants YAML (default built-in)")
	examples := fs.Int("examples", 5, "Max example decision changes to print")
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) != 1 || *fixture == "" {
		fmt.Fprintf(os.Stderr, "Error: exactly one rule file and --records are required\n")
		fmt.Fprintf(os.Stderr, "Usage: rulegate-rules dryrun --records fixture.json <rule.yaml>\n")
		os.Exit(1)
	}

	os.Exit(runDryRun(paths[0], *fixture, *catalogPath, *policyPath, *examples))
}

func runCatalogCmd(args []string) {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	catalogPath := fs.String("catalog", "", "Feature catalog YAML (default built-in)")
	policyPath := fs.String("policy", "", "Policy constants YAML (default built-in)")
	fs.Parse(args)

	cat, policy, err := loadCatalogAndPolicy(*catalogPath, *policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	printCatalog(cat, policy)
}

// runOverFiles applies check to every YAML file reachable from paths and
// returns the process exit code.
func runOverFiles(paths []string, check func(string) bool) int {
	var totalFiles, validFiles, invalidFiles int

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			invalidFiles++
			continue
		}

		if info.IsDir() {
			files, err := collectYAMLFiles(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading directory %s: %v\n", path, err)
				invalidFiles++
				continue
			}
			for _, f := range files {
				totalFiles++
				if check(f) {
					validFiles++
				} else {
					invalidFiles++
				}
			}
		} else {
			totalFiles++
			if check(path) {
				validFiles++
			} else {
				invalidFiles++
			}
		}
	}

	fmt.Printf("\nResults: %d files checked, %d valid, %d invalid\n", totalFiles, validFiles, invalidFiles)

	if invalidFiles > 0 {
		return 1
	}
	return 0
}

func validateFile(v *validate.Validator, path string, verbose bool) bool {
	ruleList, err := parseRuleFile(path)
	if err != nil {
		fmt.Printf("  FAIL  %s: %v\n", path, err)
		return false
	}

	ok := true
	for _, rule := range ruleList {
		res := v.Run(rule)
		if !res.Valid {
			ok = false
			fmt.Printf("  FAIL  %s [%s]:\n", path, rule.Name)
			for _, vio := range res.Errors {
				fmt.Printf("        - %s\n", vio)
			}
		}
		for _, vio := range res.Warnings {
			fmt.Printf("  warn  %s [%s]: %s\n", path, rule.Name, vio)
		}
	}

	if ok {
		fmt.Printf("  OK    %s (%d rule(s))\n", path, len(ruleList))
		if verbose {
			for _, rule := range ruleList {
				fields := make([]string, 0, len(rule.Fields()))
				for f := range rule.Fields() {
					fields = append(fields, f)
				}
				fmt.Printf("        - %s (decision=%s, conditions=%d)\n",
					rule.Name, rule.Decision, rule.ConditionCount())
				if len(fields) > 0 {
					fmt.Printf("          fields: %s\n", strings.Join(fields, ", "))
				}
			}
		}
	}
	return ok
}

func lintFile(gate *policygate.Gate, path string) bool {
	ruleList, err := parseRuleFile(path)
	if err != nil {
		fmt.Printf("  FAIL  %s: %v\n", path, err)
		return false
	}

	ok := true
	for _, rule := range ruleList {
		violations := gate.CheckRule(rule)
		errs, warns := rules.SplitBySeverity(violations)
		if len(errs) > 0 {
			ok = false
			fmt.Printf("  FAIL  %s [%s]:\n", path, rule.Name)
			for _, vio := range errs {
				fmt.Printf("        - %s\n", vio)
			}
		}
		for _, vio := range warns {
			fmt.Printf("  warn  %s [%s]: %s\n", path, rule.Name, vio)
		}
	}

	if ok {
		fmt.Printf("  OK    %s (%d rule(s))\n", path, len(ruleList))
	}
	return ok
}

func runDryRun(rulePath, fixturePath, catalogPath, policyPath string, maxExamples int) int {
	cat, policy, err := loadCatalogAndPolicy(catalogPath, policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ruleList, err := parseRuleFile(rulePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", rulePath, err)
		return 1
	}
	if len(ruleList) != 1 {
		fmt.Fprintf(os.Stderr, "Error: %s: dryrun wants exactly one rule, found %d\n", rulePath, len(ruleList))
		return 1
	}
	rule := ruleList[0]

	v := validate.New(cat, policy)
	if res := v.Run(rule); !res.Valid {
		fmt.Fprintf(os.Stderr, "Error: %s [%s] failed validation:\n", rulePath, rule.Name)
		for _, vio := range res.Errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", vio)
		}
		return 1
	}

	recs, err := loadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", fixturePath, err)
		return 1
	}
	if len(recs) == 0 {
		fmt.Fprintf(os.Stderr, "Error: %s: fixture holds no records\n", fixturePath)
		return 1
	}

	engine := dryrun.New(0)
	sample := &sampling.Sample{Records: recs, Requested: len(recs)}
	report, err := engine.DryRun(context.Background(), rule, sample)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: dry run failed: %v\n", err)
		return 1
	}

	printImpact(rule, fixturePath, report, maxExamples)
	return 0
}

func printImpact(rule *rules.Rule, fixturePath string, report *dryrun.ImpactReport, maxExamples int) {
	fmt.Printf("Rule: %s (decision=%s)\n", rule.Name, rule.Decision)
	fmt.Printf("Sample: %d records from %s\n\n", report.SampleSize, fixturePath)

	fmt.Printf("Matches: %d (%.1f%%)\n", report.Matches, report.MatchRate)
	fmt.Printf("False-positive risk: %s\n\n", report.FPRisk)

	fmt.Printf("%-10s %8s %8s %8s\n", "", "allow", "review", "block")
	fmt.Printf("%-10s %7.1f%% %7.1f%% %7.1f%%\n", "baseline",
		report.BaselineRates.Allow, report.BaselineRates.Review, report.BaselineRates.Block)
	fmt.Printf("%-10s %7.1f%% %7.1f%% %7.1f%%\n", "proposed",
		report.ProposedRates.Allow, report.ProposedRates.Review, report.ProposedRates.Block)
	fmt.Printf("%-10s %+7.1f%% %+7.1f%% %+7.1f%%\n", "delta",
		report.Deltas.Allow, report.Deltas.Review, report.Deltas.Block)

	if len(report.Examples) == 0 {
		return
	}
	fmt.Printf("\nExample decision changes:\n")
	for i, ex := range report.Examples {
		if i >= maxExamples {
			break
		}
		fmt.Printf("  %-20s %10.2f  %-8s %s -> %s\n",
			ex.ID, ex.Amount, ex.Device, ex.Baseline, ex.Proposed)
	}
}

func printCatalog(cat *catalog.Catalog, policy *catalog.PolicyConfig) {
	names := cat.Names()
	fmt.Printf("Catalog: %d features (%d PII)\n\n", len(names), len(cat.PIIFields()))

	fmt.Printf("  %-20s %-8s %s\n", "NAME", "TYPE", "CONSTRAINTS")
	for _, name := range names {
		fd, ok := cat.Lookup(name)
		if !ok {
			continue
		}
		fmt.Printf("  %-20s %-8s %s\n", fd.Name, fd.Type, describeConstraints(fd))
	}

	fmt.Printf("\nPolicy:\n")
	fmt.Printf("  max_conditions:     %d\n", policy.MaxConditions)
	fmt.Printf("  disallowed_fields:  %s\n", joinOrNone(policy.DisallowedFields))
	fmt.Printf("  pii_fields:         %s\n", joinOrNone(policy.PIIFields))
	fmt.Printf("  sensitive_patterns: %d\n", len(policy.SensitivePatterns))
}

func describeConstraints(fd *catalog.FeatureDescriptor) string {
	var parts []string
	if fd.PII {
		parts = append(parts, "pii")
	}
	if fd.Min != nil {
		parts = append(parts, fmt.Sprintf("min=%g", *fd.Min))
	}
	if fd.Max != nil {
		parts = append(parts, fmt.Sprintf("max=%g", *fd.Max))
	}
	if len(fd.Enum) > 0 {
		parts = append(parts, "enum="+strings.Join(fd.Enum, ","))
	}
	if fd.MaxLength > 0 {
		parts = append(parts, fmt.Sprintf("max_length=%d", fd.MaxLength))
	}
	if fd.Nullable {
		parts = append(parts, "nullable")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func loadCatalogAndPolicy(catalogPath, policyPath string) (*catalog.Catalog, *catalog.PolicyConfig, error) {
	cat := catalog.Default()
	if catalogPath != "" {
		loaded, err := catalog.Load(catalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading catalog: %w", err)
		}
		cat = loaded
	}

	policy := catalog.DefaultPolicy()
	if policyPath != "" {
		loaded, err := catalog.LoadPolicy(policyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading policy: %w", err)
		}
		policy = loaded
	}

	return cat, policy, nil
}

func parseRuleFile(path string) ([]*rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return rules.ParseRules(data)
}

func loadFixture(path string) ([]records.TransactionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs []records.TransactionRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return recs, nil
}

func collectYAMLFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
