package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rulegate/internal/audit"
	"rulegate/internal/catalog"
	"rulegate/internal/dryrun"
	"rulegate/internal/events"
	"rulegate/internal/generation"
	"rulegate/internal/overlap"
	"rulegate/internal/policygate"
	"rulegate/internal/records"
	"rulegate/internal/rules"
	"rulegate/internal/sampling"
	"rulegate/internal/suggestion"
	"rulegate/internal/validate"
)

const (
	author   = "jordan.author"
	reviewer = "casey.reviewer"

	approvalNotes = "Reviewed impact and overlap; thresholds match the fraud desk playbook."
)

// pipeline is the full stack wired against a fake collaborator, the way
// cmd/rulegate wires it against a real one.
type pipeline struct {
	svc   *suggestion.Service
	store *suggestion.MemoryStore
	trail *audit.Trail
	sink  *events.MemorySink

	// collaboratorCalls counts requests that reached the generation
	// endpoint.
	collaboratorCalls atomic.Int64
}

// newPipeline builds the stack. proposals maps instruction text to the
// rule the fake collaborator returns; unknown instructions get a 500.
func newPipeline(t *testing.T, cfg suggestion.Config, proposals map[string]*rules.Rule) *pipeline {
	t.Helper()

	p := &pipeline{
		store: suggestion.NewMemoryStore(),
		sink:  events.NewMemorySink(),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.collaboratorCalls.Add(1)

		var req struct {
			Instruction string          `json:"instruction"`
			Model       string          `json:"model"`
			Schema      json.RawMessage `json:"schema"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		rule, ok := proposals[req.Instruction]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"rule": rule})
	}))
	t.Cleanup(srv.Close)

	cat := catalog.Default()
	policy := catalog.DefaultPolicy()

	gate, err := policygate.New(cat, policy)
	if err != nil {
		t.Fatalf("failed to build policy gate: %v", err)
	}

	client := generation.NewClient(generation.ClientConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Model:   "rule-composer-1",
	}, policy)
	genSvc := generation.NewService(client, generation.NewMemoryCache(generation.DefaultCacheConfig()), nil)

	trail, err := audit.NewTrail(context.Background(), audit.NewMemoryStore(), []byte("integration-secret"))
	if err != nil {
		t.Fatalf("failed to build audit trail: %v", err)
	}
	p.trail = trail

	svc, err := suggestion.NewService(cfg, suggestion.Deps{
		Catalog:   cat,
		Validator: validate.New(cat, policy),
		Gate:      gate,
		Generator: genSvc,
		Sampler:   sampling.New(records.NewMemoryStore(records.Synthetic(2000, 7)), sampling.DefaultConfig()),
		Engine:    dryrun.New(2),
		Analyzer:  overlap.New(overlap.DefaultConfig()),
		Store:     p.store,
		Trail:     trail,
		Events:    p.sink,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	p.svc = svc

	return p
}

func amountRule(name string, threshold float64) *rules.Rule {
	return &rules.Rule{
		Name:        name,
		Description: "Flags transactions above the amount threshold for manual review.",
		Decision:    rules.DecisionReview,
		Conditions:  []rules.Condition{rules.Leaf("amount", rules.OpGreater, threshold)},
	}
}

func (p *pipeline) auditActions(t *testing.T) []audit.Action {
	t.Helper()
	entries, err := p.trail.Entries(context.Background(), audit.Query{})
	if err != nil {
		t.Fatalf("failed to read audit trail: %v", err)
	}
	actions := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func containsAction(actions []audit.Action, want audit.Action) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func eventTypes(evs []events.Event) []events.EventType {
	types := make([]events.EventType, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	return types
}

// --- Test: Submit → Approve → Promote pipeline ---

func TestSubmitApprovePromote(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instruction := "flag transactions above 400 in account currency"
	p := newPipeline(t, suggestion.DefaultConfig(), map[string]*rules.Rule{
		instruction: amountRule("high_amount_review", 400),
	})

	sg, err := p.svc.Submit(ctx, instruction, author)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if sg.Status != suggestion.StatusPending {
		t.Errorf("status = %s, want %s", sg.Status, suggestion.StatusPending)
	}
	if sg.Impact == nil {
		t.Fatal("expected an impact report on a healthy sample store")
	}
	if sg.Impact.SampleSize == 0 {
		t.Error("impact computed over an empty sample")
	}
	if sg.Impact.Matches == 0 {
		t.Error("amount > 400 should match part of the synthetic sample")
	}
	if sg.ImpactUnavailable != "" {
		t.Errorf("unexpected impact-unavailable marker: %q", sg.ImpactUnavailable)
	}

	approved, err := p.svc.Approve(ctx, sg.ID, reviewer, approvalNotes, true)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != suggestion.StatusApproved {
		t.Errorf("status = %s, want %s", approved.Status, suggestion.StatusApproved)
	}
	if approved.Approver != reviewer {
		t.Errorf("approver = %s, want %s", approved.Approver, reviewer)
	}

	// Promotion made the rule active.
	active, err := p.store.ActiveRules(ctx)
	if err != nil {
		t.Fatalf("failed to load active rules: %v", err)
	}
	if len(active) != 1 || active[0].Name != "high_amount_review" {
		t.Fatalf("active rules = %v, want the promoted rule", active)
	}

	// One collaborator round trip for the whole flow.
	if got := p.collaboratorCalls.Load(); got != 1 {
		t.Errorf("collaborator calls = %d, want 1", got)
	}

	// The trail records every step and still verifies.
	actions := p.auditActions(t)
	for _, want := range []audit.Action{
		audit.ActionSuggestionSubmitted,
		audit.ActionSuggestionApproved,
		audit.ActionRulePromoted,
	} {
		if !containsAction(actions, want) {
			t.Errorf("audit trail missing %s; got %v", want, actions)
		}
	}
	if err := p.trail.VerifyChain(ctx); err != nil {
		t.Errorf("audit chain verification failed: %v", err)
	}

	// Lifecycle events fired in order.
	types := eventTypes(p.sink.Events())
	want := []events.EventType{events.EventSubmitted, events.EventApproved, events.EventPromoted}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

// --- Test: governance guards hold at the transition ---

func TestGovernanceGuards(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instruction := "review transactions above 600"
	p := newPipeline(t, suggestion.DefaultConfig(), map[string]*rules.Rule{
		instruction: amountRule("mid_amount_review", 600),
	})

	sg, err := p.svc.Submit(ctx, instruction, author)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if _, err := p.svc.Approve(ctx, sg.ID, author, approvalNotes, true); !errors.Is(err, suggestion.ErrSelfApproval) {
		t.Errorf("self-approval error = %v, want ErrSelfApproval", err)
	}
	if _, err := p.svc.Approve(ctx, sg.ID, reviewer, "too short", true); !errors.Is(err, suggestion.ErrNotesTooShort) {
		t.Errorf("short-notes error = %v, want ErrNotesTooShort", err)
	}
	if _, err := p.svc.Approve(ctx, sg.ID, reviewer, approvalNotes, false); !errors.Is(err, suggestion.ErrAckRequired) {
		t.Errorf("missing-ack error = %v, want ErrAckRequired", err)
	}
	if _, err := p.svc.Reject(ctx, sg.ID, reviewer, "   "); !errors.Is(err, suggestion.ErrNotesTooShort) {
		t.Errorf("blank-reject error = %v, want ErrNotesTooShort", err)
	}

	// None of the failed attempts moved the suggestion.
	got, err := p.svc.Get(ctx, sg.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != suggestion.StatusPending {
		t.Fatalf("status = %s after failed decisions, want %s", got.Status, suggestion.StatusPending)
	}

	// The author may reject their own suggestion.
	rejected, err := p.svc.Reject(ctx, sg.ID, author, "withdrawing; threshold picked before the new baseline landed")
	if err != nil {
		t.Fatalf("self-reject failed: %v", err)
	}
	if rejected.Status != suggestion.StatusRejected {
		t.Errorf("status = %s, want %s", rejected.Status, suggestion.StatusRejected)
	}

	// Terminal is terminal.
	if _, err := p.svc.Approve(ctx, sg.ID, reviewer, approvalNotes, true); !errors.Is(err, suggestion.ErrAlreadyDecided) {
		t.Errorf("approve-after-reject error = %v, want ErrAlreadyDecided", err)
	}

	if err := p.trail.VerifyChain(ctx); err != nil {
		t.Errorf("audit chain verification failed: %v", err)
	}
}

// --- Test: sensitive instructions never reach the collaborator ---

func TestSensitiveInstructionBlockedBeforeGeneration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := newPipeline(t, suggestion.DefaultConfig(), nil)

	_, err := p.svc.Submit(ctx, "block transactions by nationality", author)

	var blocked *suggestion.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("submit error = %v, want BlockedError", err)
	}
	if blocked.Stage != suggestion.StageInstructionGate {
		t.Errorf("stage = %s, want %s", blocked.Stage, suggestion.StageInstructionGate)
	}
	if got := p.collaboratorCalls.Load(); got != 0 {
		t.Errorf("collaborator calls = %d, want 0", got)
	}
	if !containsAction(p.auditActions(t), audit.ActionPolicyBlocked) {
		t.Error("policy block missing from the audit trail")
	}
}

// --- Test: collaborator failure is audited ---

func TestCollaboratorFailureAudited(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// No proposals registered: every generation request gets a 500.
	p := newPipeline(t, suggestion.DefaultConfig(), nil)

	_, err := p.svc.Submit(ctx, "flag transactions above 900", author)

	var failure *generation.GenerationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("submit error = %v, want GenerationFailure", err)
	}
	if failure.Reason != generation.ReasonUnavailable {
		t.Errorf("reason = %s, want %s", failure.Reason, generation.ReasonUnavailable)
	}
	if !containsAction(p.auditActions(t), audit.ActionGenerationFailed) {
		t.Error("generation failure missing from the audit trail")
	}
}

// --- Test: expiry sweep ---

func TestExpirySweep(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := suggestion.DefaultConfig()
	cfg.TTL = -time.Minute // already past expiry on creation

	instruction := "review large gambling transactions"
	p := newPipeline(t, cfg, map[string]*rules.Rule{
		instruction: {
			Name:        "gambling_review",
			Description: "Routes large gambling transactions to manual review.",
			Decision:    rules.DecisionReview,
			Conditions: []rules.Condition{
				rules.Leaf("merchant_category", rules.OpEqual, "gambling"),
				rules.Leaf("amount", rules.OpGreater, 250),
			},
		},
	})

	sg, err := p.svc.Submit(ctx, instruction, author)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	expired, err := p.svc.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("expiry sweep failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != sg.ID {
		t.Fatalf("expired = %v, want the submitted suggestion", expired)
	}

	got, err := p.svc.Get(ctx, sg.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != suggestion.StatusExpired {
		t.Errorf("status = %s, want %s", got.Status, suggestion.StatusExpired)
	}

	if _, err := p.svc.Approve(ctx, sg.ID, reviewer, approvalNotes, true); !errors.Is(err, suggestion.ErrAlreadyDecided) {
		t.Errorf("approve-after-expiry error = %v, want ErrAlreadyDecided", err)
	}

	if !containsAction(p.auditActions(t), audit.ActionSuggestionExpired) {
		t.Error("expiry missing from the audit trail")
	}
	types := eventTypes(p.sink.Events())
	if len(types) == 0 || types[len(types)-1] != events.EventExpired {
		t.Errorf("event types = %v, want trailing %s", types, events.EventExpired)
	}
}

// --- Test: overlap analysis sees promoted rules ---

func TestOverlapAgainstPromotedRule(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := "flag transactions above 400"
	second := "flag transactions above 400, second draft"
	p := newPipeline(t, suggestion.DefaultConfig(), map[string]*rules.Rule{
		first:  amountRule("amount_rule_a", 400),
		second: amountRule("amount_rule_b", 400),
	})

	sgA, err := p.svc.Submit(ctx, first, author)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if len(sgA.Overlap) != 0 {
		t.Errorf("overlap with no active rules = %v, want none", sgA.Overlap)
	}
	if _, err := p.svc.Approve(ctx, sgA.ID, reviewer, approvalNotes, true); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	sgB, err := p.svc.Submit(ctx, second, author)
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	if len(sgB.Overlap) == 0 {
		t.Fatal("expected overlap against the promoted rule")
	}
	entry := sgB.Overlap[0]
	if entry.RuleName != "amount_rule_a" {
		t.Errorf("overlap rule = %s, want amount_rule_a", entry.RuleName)
	}
	// Identical conditions over the same sample give a full match-set
	// overlap.
	if entry.Score != 1.0 {
		t.Errorf("overlap score = %.3f, want 1.0", entry.Score)
	}
	if entry.Interpretation != overlap.InterpretationMerge {
		t.Errorf("interpretation = %q, want %q", entry.Interpretation, overlap.InterpretationMerge)
	}
}

// --- Test: repeat instructions are served from the generation cache ---

func TestGenerationCacheServesRepeatInstruction(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instruction := "review transactions above 800"
	p := newPipeline(t, suggestion.DefaultConfig(), map[string]*rules.Rule{
		instruction: amountRule("repeat_review", 800),
	})

	if _, err := p.svc.Submit(ctx, instruction, author); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if _, err := p.svc.Submit(ctx, instruction, "riley.author"); err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	if got := p.collaboratorCalls.Load(); got != 1 {
		t.Errorf("collaborator calls = %d, want 1 (cache hit on repeat)", got)
	}
}

// --- Test: impact-unavailable suggestions still reach a decision ---

func TestImpactUnavailableStillDecidable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instruction := "flag transactions above 1200"
	rule := amountRule("no_sample_review", 1200)

	// Wire by hand with an empty record store: sampling degrades to the
	// explicit impact-unavailable marker.
	cat := catalog.Default()
	policy := catalog.DefaultPolicy()
	gate, err := policygate.New(cat, policy)
	if err != nil {
		t.Fatalf("failed to build policy gate: %v", err)
	}
	trail, err := audit.NewTrail(ctx, audit.NewMemoryStore(), []byte("integration-secret"))
	if err != nil {
		t.Fatalf("failed to build audit trail: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"rule": rule})
	}))
	t.Cleanup(srv.Close)

	svc, err := suggestion.NewService(suggestion.DefaultConfig(), suggestion.Deps{
		Catalog:   cat,
		Validator: validate.New(cat, policy),
		Gate:      gate,
		Generator: generation.NewService(generation.NewClient(generation.ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, policy), nil, nil),
		Sampler:   sampling.New(records.NewMemoryStore(nil), sampling.DefaultConfig()),
		Engine:    dryrun.New(1),
		Analyzer:  overlap.New(overlap.DefaultConfig()),
		Store:     suggestion.NewMemoryStore(),
		Trail:     trail,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	sg, err := svc.Submit(ctx, instruction, author)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if sg.Impact != nil {
		t.Error("expected no impact report without sample records")
	}
	if !strings.Contains(sg.ImpactUnavailable, "impact could not be computed") {
		t.Errorf("impact-unavailable marker = %q", sg.ImpactUnavailable)
	}

	approved, err := svc.Approve(ctx, sg.ID, reviewer, approvalNotes, true)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != suggestion.StatusApproved {
		t.Errorf("status = %s, want %s", approved.Status, suggestion.StatusApproved)
	}
}
