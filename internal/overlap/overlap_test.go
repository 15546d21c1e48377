package overlap

import (
	"context"
	"fmt"
	"math"
	"testing"

	"rulegate/internal/records"
	"rulegate/internal/rules"
	"rulegate/internal/sampling"
)

func amountRule(name string, decision rules.Decision, min float64) *rules.Rule {
	return &rules.Rule{
		Name:        name,
		Description: "test rule",
		Decision:    decision,
		Conditions: []rules.Condition{
			rules.Leaf("amount", rules.OpGreaterEqual, min),
		},
	}
}

func deviceRule(name, device string) *rules.Rule {
	return &rules.Rule{
		Name:        name,
		Description: "test rule",
		Decision:    rules.DecisionReview,
		Conditions: []rules.Condition{
			rules.Leaf("device", rules.OpEqual, device),
		},
	}
}

func fixedSample() *sampling.Sample {
	var recs []records.TransactionRecord
	for i := 0; i < 10; i++ {
		device := "web"
		if i < 5 {
			device = "mobile"
		}
		recs = append(recs, records.TransactionRecord{
			ID:               fmt.Sprintf("tx_%02d", i),
			Amount:           float64(i * 1000),
			Device:           device,
			BaselineDecision: rules.DecisionAllow,
		})
	}
	tags := make(map[string]sampling.Stratum)
	for _, r := range recs {
		tags[r.ID] = sampling.StratumRandom
	}
	return &sampling.Sample{Records: recs, Tags: tags, Requested: len(recs)}
}

func TestJaccard(t *testing.T) {
	set := func(ids ...string) map[string]bool {
		m := make(map[string]bool)
		for _, id := range ids {
			m[id] = true
		}
		return m
	}

	tests := []struct {
		name string
		a    map[string]bool
		b    map[string]bool
		want float64
	}{
		{name: "identical sets", a: set("1", "2", "3"), b: set("1", "2", "3"), want: 1.0},
		{name: "disjoint sets", a: set("1", "2"), b: set("3", "4"), want: 0.0},
		{name: "half overlap", a: set("1", "2"), b: set("2", "3"), want: 1.0 / 3.0},
		{name: "both empty", a: set(), b: set(), want: 0.0},
		{name: "one empty", a: set("1"), b: set(), want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Jaccard(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Jaccard() = %v, want %v", got, tt.want)
			}
			if sym := Jaccard(tt.b, tt.a); sym != got {
				t.Errorf("Jaccard not symmetric: %v vs %v", got, sym)
			}
		})
	}
}

func TestAnalyzeIdenticalAndDisjoint(t *testing.T) {
	a := New(DefaultConfig())
	sample := fixedSample()

	proposed := deviceRule("proposed_mobile", "mobile")
	active := []*rules.Rule{
		deviceRule("active_mobile", "mobile"), // identical match-set
		deviceRule("active_tablet", "tablet"), // empty match-set, disjoint
		deviceRule("active_web", "web"),       // disjoint match-set
	}

	entries, err := a.Analyze(context.Background(), proposed, active, sample)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Analyze() = %v, want only the identical rule (disjoint scores excluded)", entries)
	}
	if entries[0].RuleName != "active_mobile" {
		t.Errorf("top entry = %s, want active_mobile", entries[0].RuleName)
	}
	if entries[0].Score != 1.0 {
		t.Errorf("identical match-set score = %v, want 1.0", entries[0].Score)
	}
	if entries[0].Intersection != 5 {
		t.Errorf("intersection = %d, want 5", entries[0].Intersection)
	}
	if entries[0].Interpretation != InterpretationMerge {
		t.Errorf("interpretation = %q, want %q", entries[0].Interpretation, InterpretationMerge)
	}
}

func TestAnalyzeRanksAndTruncates(t *testing.T) {
	a := New(DefaultConfig())
	sample := fixedSample()

	// Proposed matches amounts >= 0: all ten records.
	proposed := amountRule("proposed_all", rules.DecisionReview, 0)

	// Each active rule matches a shrinking suffix of the sample, giving
	// strictly decreasing overlap scores.
	var active []*rules.Rule
	for i := 0; i < 8; i++ {
		active = append(active, amountRule(
			fmt.Sprintf("active_%d", i), rules.DecisionReview, float64(i*1000)))
	}

	entries, err := a.Analyze(context.Background(), proposed, active, sample)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("Analyze() returned %d entries, want top 5", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Score > entries[i-1].Score {
			t.Errorf("entries not sorted descending at %d: %v", i, entries)
		}
	}
	if entries[0].RuleName != "active_0" || entries[0].Score != 1.0 {
		t.Errorf("top entry = %+v, want active_0 at 1.0", entries[0])
	}
}

func TestAnalyzeFloorsNearZeroScores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Floor = 0.2
	a := New(cfg)
	sample := fixedSample()

	proposed := deviceRule("proposed_mobile", "mobile")
	active := []*rules.Rule{
		// Matches all ten records; overlap with the five mobile ones
		// gives 5/10 = 0.5.
		amountRule("active_everything", rules.DecisionReview, 0),
		// Matches only the four records above 5000, all web: disjoint.
		amountRule("active_high", rules.DecisionReview, 6000),
	}

	entries, err := a.Analyze(context.Background(), proposed, active, sample)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(entries) != 1 || entries[0].RuleName != "active_everything" {
		t.Fatalf("Analyze() = %v, want only active_everything", entries)
	}
	if math.Abs(entries[0].Score-0.5) > 1e-9 {
		t.Errorf("score = %v, want 0.5", entries[0].Score)
	}
	if entries[0].Interpretation != InterpretationModerate {
		t.Errorf("interpretation = %q, want %q", entries[0].Interpretation, InterpretationModerate)
	}
}

func TestAnalyzeEmptyInputs(t *testing.T) {
	a := New(DefaultConfig())

	entries, err := a.Analyze(context.Background(), deviceRule("p", "mobile"), nil, fixedSample())
	if err != nil || entries != nil {
		t.Errorf("Analyze(no active rules) = %v, %v, want nil, nil", entries, err)
	}

	entries, err = a.Analyze(context.Background(), deviceRule("p", "mobile"),
		[]*rules.Rule{deviceRule("a", "web")}, &sampling.Sample{})
	if err != nil || entries != nil {
		t.Errorf("Analyze(empty sample) = %v, %v, want nil, nil", entries, err)
	}
}
