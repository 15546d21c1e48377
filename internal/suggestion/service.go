package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"rulegate/internal/archive"
	"rulegate/internal/audit"
	"rulegate/internal/catalog"
	"rulegate/internal/dryrun"
	"rulegate/internal/events"
	"rulegate/internal/generation"
	"rulegate/internal/overlap"
	"rulegate/internal/policygate"
	"rulegate/internal/rules"
	"rulegate/internal/sampling"
	"rulegate/internal/validate"
)

// Config holds governance settings.
type Config struct {
	// TTL is how long a suggestion stays pending before the sweep
	// expires it.
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval is how often the expiry sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MinNoteLength is the minimum approval-note length.
	MinNoteLength int `yaml:"min_note_length"`

	// SampleSize is the dry-run sample size per submission.
	SampleSize int `yaml:"sample_size"`
}

func DefaultConfig() Config {
	return Config{
		TTL:           72 * time.Hour,
		SweepInterval: 10 * time.Minute,
		MinNoteLength: 20,
		SampleSize:    1000,
	}
}

// Deps collects the service's collaborators. Trail, Events, and
// Archiver are optional; the rest are required.
type Deps struct {
	Catalog   *catalog.Catalog
	Validator *validate.Validator
	Gate      *policygate.Gate
	Generator *generation.Service
	Sampler   *sampling.Sampler
	Engine    *dryrun.Engine
	Analyzer  *overlap.Analyzer
	Store     Store

	Trail    *audit.Trail
	Events   events.Sink
	Archiver *archive.Archiver
	Logger   *slog.Logger
}

// Service runs the submission pipeline and owns every status
// transition. Each request is stateless; cross-request coordination
// happens in the store.
type Service struct {
	cfg  Config
	deps Deps

	logger *slog.Logger
	now    func() time.Time
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("suggestion: catalog is required")
	case deps.Validator == nil:
		return nil, errors.New("suggestion: validator is required")
	case deps.Gate == nil:
		return nil, errors.New("suggestion: policy gate is required")
	case deps.Generator == nil:
		return nil, errors.New("suggestion: generator is required")
	case deps.Sampler == nil:
		return nil, errors.New("suggestion: sampler is required")
	case deps.Engine == nil:
		return nil, errors.New("suggestion: dry-run engine is required")
	case deps.Analyzer == nil:
		return nil, errors.New("suggestion: overlap analyzer is required")
	case deps.Store == nil:
		return nil, errors.New("suggestion: store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{cfg: cfg, deps: deps, logger: logger, now: time.Now}, nil
}

// Submit runs the full pipeline for an instruction: policy gate,
// generation, validation, policy re-check, sampling, dry-run, and
// overlap analysis, then persists the pending suggestion. Blocking
// violations halt before generation or before persistence; warnings
// attach to the suggestion.
func (s *Service) Submit(ctx context.Context, instruction, author string) (*Suggestion, error) {
	contentHash := generation.ContentHash(instruction)

	if violations := s.deps.Gate.CheckInstruction(instruction); rules.HasErrors(violations) {
		s.audit(ctx, audit.ActionPolicyBlocked, author, contentHash, map[string]string{
			"stage":      string(StageInstructionGate),
			"violations": strconv.Itoa(len(violations)),
		})
		return nil, newBlockedError(StageInstructionGate, violations)
	}

	rule, err := s.deps.Generator.Generate(ctx, instruction, author, s.deps.Catalog)
	if err != nil {
		detail := map[string]string{"error": err.Error()}
		var failure *generation.GenerationFailure
		if errors.As(err, &failure) {
			detail["reason"] = string(failure.Reason)
		}
		s.audit(ctx, audit.ActionGenerationFailed, author, contentHash, detail)
		return nil, err
	}

	if structure := s.deps.Validator.ValidateStructure(rule); !structure.Valid {
		return nil, newBlockedError(StageStructure, structure.Errors)
	}

	catalogResult := s.deps.Validator.ValidateAgainstCatalog(rule)
	if !catalogResult.Valid {
		return nil, newBlockedError(StageCatalog, catalogResult.Errors)
	}

	gateViolations := s.deps.Gate.CheckRule(rule)
	if rules.HasErrors(gateViolations) {
		s.audit(ctx, audit.ActionPolicyBlocked, author, contentHash, map[string]string{
			"stage": string(StageRuleGate),
			"rule":  rule.Name,
		})
		return nil, newBlockedError(StageRuleGate, gateViolations)
	}

	warnings := make([]rules.Violation, 0, len(catalogResult.Warnings)+len(gateViolations))
	warnings = append(warnings, catalogResult.Warnings...)
	warnings = append(warnings, gateViolations...)

	impact, entries, impactUnavailable, err := s.analyze(ctx, rule)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sg := &Suggestion{
		ID:                uuid.NewString(),
		Status:            StatusPending,
		Instruction:       instruction,
		Author:            author,
		Rule:              rule,
		Violations:        warnings,
		Impact:            impact,
		ImpactUnavailable: impactUnavailable,
		Overlap:           entries,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.cfg.TTL),
	}

	if err := s.deps.Store.Create(ctx, sg); err != nil {
		return nil, fmt.Errorf("suggestion: failed to persist: %w", err)
	}

	s.audit(ctx, audit.ActionSuggestionSubmitted, author, sg.ID, map[string]string{
		"rule":     rule.Name,
		"warnings": strconv.Itoa(len(warnings)),
	})
	s.publish(ctx, events.EventSubmitted, sg, author)

	s.logger.Info("suggestion submitted",
		"id", sg.ID,
		"rule", rule.Name,
		"author", author,
		"warnings", len(warnings))

	return sg, nil
}

// analyze draws the sample and computes impact and overlap. A store
// outage degrades to an explicit impact-unavailable marker instead of
// failing the submission.
func (s *Service) analyze(ctx context.Context, rule *rules.Rule) (*dryrun.ImpactReport, []overlap.Entry, string, error) {
	smp, err := s.deps.Sampler.Sample(ctx, s.cfg.SampleSize)
	if err != nil {
		if errors.Is(err, sampling.ErrUnavailable) {
			s.logger.Warn("impact analysis skipped", "error", err)
			return nil, nil, fmt.Sprintf("impact could not be computed: %v", err), nil
		}
		return nil, nil, "", err
	}

	impact, err := s.deps.Engine.DryRun(ctx, rule, smp)
	if err != nil {
		return nil, nil, "", fmt.Errorf("suggestion: dry-run failed: %w", err)
	}

	active, err := s.deps.Store.ActiveRules(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("suggestion: failed to load active rules: %w", err)
	}

	entries, err := s.deps.Analyzer.Analyze(ctx, rule, active, smp)
	if err != nil {
		return nil, nil, "", fmt.Errorf("suggestion: overlap analysis failed: %w", err)
	}

	return impact, entries, "", nil
}

// Approve transitions a pending suggestion to approved and promotes its
// rule. The two-person invariant and justification checks run at the
// transition regardless of any upstream validation.
func (s *Service) Approve(ctx context.Context, id, approver, notes string, ackImpact bool) (*Suggestion, error) {
	sg, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sg.Status.Terminal() {
		return nil, ErrAlreadyDecided
	}
	if approver == sg.Author {
		return nil, ErrSelfApproval
	}
	if len(strings.TrimSpace(notes)) < s.cfg.MinNoteLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrNotesTooShort, s.cfg.MinNoteLength)
	}
	if !ackImpact {
		return nil, ErrAckRequired
	}

	res := Resolution{
		Status:    StatusApproved,
		Reviewer:  approver,
		Notes:     notes,
		AckImpact: true,
		DecidedAt: s.now().UTC(),
	}
	if err := s.deps.Store.Decide(ctx, id, res); err != nil {
		return nil, err
	}

	sg.Status = StatusApproved
	sg.Approver = approver
	sg.Notes = notes
	sg.AckImpact = true
	sg.DecidedAt = &res.DecidedAt

	version := &RuleVersion{
		Name:         sg.Rule.Name,
		Rule:         *sg.Rule,
		SuggestionID: sg.ID,
		ApprovedBy:   approver,
		Impact:       sg.Impact,
		Overlap:      sg.Overlap,
		PromotedAt:   res.DecidedAt,
		Enabled:      true,
	}
	if err := s.deps.Store.AppendVersion(ctx, version); err != nil {
		// The approval is persisted; failing promotion needs operator
		// attention rather than a silent retry.
		s.logger.Error("rule promotion failed after approval",
			"id", sg.ID,
			"rule", sg.Rule.Name,
			"error", err)
		return nil, fmt.Errorf("suggestion: approved but promotion failed: %w", err)
	}

	s.audit(ctx, audit.ActionSuggestionApproved, approver, sg.ID, map[string]string{
		"rule":   sg.Rule.Name,
		"author": sg.Author,
	})
	s.audit(ctx, audit.ActionRulePromoted, approver, sg.Rule.Name, map[string]string{
		"version":       strconv.Itoa(version.Version),
		"suggestion_id": sg.ID,
	})
	s.publish(ctx, events.EventApproved, sg, approver)
	s.publish(ctx, events.EventPromoted, sg, approver)
	s.archive(ctx, sg)

	s.logger.Info("suggestion approved",
		"id", sg.ID,
		"rule", sg.Rule.Name,
		"approver", approver,
		"version", version.Version)

	return sg, nil
}

// Reject transitions a pending suggestion to rejected. Any reviewer,
// including the author, may reject; notes are required but have no
// minimum length.
func (s *Service) Reject(ctx context.Context, id, reviewer, notes string) (*Suggestion, error) {
	sg, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sg.Status.Terminal() {
		return nil, ErrAlreadyDecided
	}
	if strings.TrimSpace(notes) == "" {
		return nil, ErrNotesTooShort
	}

	res := Resolution{
		Status:    StatusRejected,
		Reviewer:  reviewer,
		Notes:     notes,
		DecidedAt: s.now().UTC(),
	}
	if err := s.deps.Store.Decide(ctx, id, res); err != nil {
		return nil, err
	}

	sg.Status = StatusRejected
	sg.Approver = reviewer
	sg.Notes = notes
	sg.DecidedAt = &res.DecidedAt

	s.audit(ctx, audit.ActionSuggestionRejected, reviewer, sg.ID, map[string]string{
		"rule":   sg.Rule.Name,
		"author": sg.Author,
	})
	s.publish(ctx, events.EventRejected, sg, reviewer)
	s.archive(ctx, sg)

	s.logger.Info("suggestion rejected",
		"id", sg.ID,
		"rule", sg.Rule.Name,
		"reviewer", reviewer)

	return sg, nil
}

// Get returns one suggestion by id.
func (s *Service) Get(ctx context.Context, id string) (*Suggestion, error) {
	return s.deps.Store.Get(ctx, id)
}

// List returns suggestions matching the query, most recent first.
func (s *Service) List(ctx context.Context, q ListQuery) ([]Suggestion, error) {
	return s.deps.Store.List(ctx, q)
}

// ExpireStale transitions every pending suggestion past its expiry.
// Called by the sweeper, not on read.
func (s *Service) ExpireStale(ctx context.Context) ([]Suggestion, error) {
	expired, err := s.deps.Store.ExpireBefore(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("suggestion: expiry sweep failed: %w", err)
	}

	for i := range expired {
		sg := &expired[i]
		s.audit(ctx, audit.ActionSuggestionExpired, "system", sg.ID, map[string]string{
			"rule":   sg.Rule.Name,
			"author": sg.Author,
		})
		s.publish(ctx, events.EventExpired, sg, "system")
		s.archive(ctx, sg)
	}

	if len(expired) > 0 {
		s.logger.Info("expired stale suggestions", "count", len(expired))
	}
	return expired, nil
}

// RunSweeper periodically expires stale suggestions until ctx is done.
func (s *Service) RunSweeper(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil {
				s.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// DryRun validates a rule and computes its impact and overlap without
// creating a suggestion. Used for manual what-if analysis.
func (s *Service) DryRun(ctx context.Context, rule *rules.Rule, sampleSize int) (*dryrun.ImpactReport, []overlap.Entry, error) {
	if structure := s.deps.Validator.ValidateStructure(rule); !structure.Valid {
		return nil, nil, newBlockedError(StageStructure, structure.Errors)
	}
	if result := s.deps.Validator.ValidateAgainstCatalog(rule); !result.Valid {
		return nil, nil, newBlockedError(StageCatalog, result.Errors)
	}

	if sampleSize <= 0 {
		sampleSize = s.cfg.SampleSize
	}
	smp, err := s.deps.Sampler.Sample(ctx, sampleSize)
	if err != nil {
		return nil, nil, err
	}

	impact, err := s.deps.Engine.DryRun(ctx, rule, smp)
	if err != nil {
		return nil, nil, err
	}

	active, err := s.deps.Store.ActiveRules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("suggestion: failed to load active rules: %w", err)
	}
	entries, err := s.deps.Analyzer.Analyze(ctx, rule, active, smp)
	if err != nil {
		return nil, nil, err
	}

	return impact, entries, nil
}

// audit appends a trail entry when a trail is configured. Trail
// failures are logged, never propagated; the store transition is the
// source of truth.
func (s *Service) audit(ctx context.Context, action audit.Action, actor, resource string, detail map[string]string) {
	if s.deps.Trail == nil {
		return
	}
	if _, err := s.deps.Trail.Record(ctx, action, actor, resource, detail); err != nil {
		s.logger.Error("audit append failed",
			"action", action,
			"resource", resource,
			"error", err)
	}
}

func (s *Service) publish(ctx context.Context, evType events.EventType, sg *Suggestion, actor string) {
	if s.deps.Events == nil {
		return
	}
	ev := events.Event{
		ID:           uuid.NewString(),
		Type:         evType,
		SuggestionID: sg.ID,
		RuleName:     sg.Rule.Name,
		Actor:        actor,
		OccurredAt:   s.now().UTC(),
	}
	if err := s.deps.Events.Publish(ctx, ev); err != nil {
		s.logger.Error("event publish failed",
			"type", evType,
			"suggestion_id", sg.ID,
			"error", err)
	}
}

func (s *Service) archive(ctx context.Context, sg *Suggestion) {
	if s.deps.Archiver == nil {
		return
	}
	if _, err := s.deps.Archiver.Store(ctx, sg.ID, sg); err != nil {
		s.logger.Error("archive failed",
			"suggestion_id", sg.ID,
			"error", err)
	}
}
