// Package overlap measures redundancy between a proposed rule and the
// active rule set by comparing match-sets on a shared sample.
package overlap

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"rulegate/internal/records"
	"rulegate/internal/rules"
	"rulegate/internal/sampling"
)

// Interpretation tiers attached to overlap entries.
const (
	InterpretationMerge    = "consider merging or adjusting"
	InterpretationModerate = "moderate overlap"
	InterpretationLow      = "low overlap"
)

// Entry is one active rule's overlap with the proposed rule.
type Entry struct {
	RuleName       string  `json:"rule_name"`
	Score          float64 `json:"score"`
	Intersection   int     `json:"intersection"`
	Interpretation string  `json:"interpretation"`
}

// Config holds the analyzer's tunables. The ranked top-5 truncation is
// fixed; the score thresholds are not.
type Config struct {
	// TopK bounds the returned entries.
	TopK int `yaml:"top_k"`

	// Floor drops near-zero scores from the results entirely.
	Floor float64 `yaml:"floor"`

	// MergeThreshold marks entries as merge candidates.
	MergeThreshold float64 `yaml:"merge_threshold"`

	// ModerateThreshold separates moderate from low overlap.
	ModerateThreshold float64 `yaml:"moderate_threshold"`
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		TopK:              5,
		Floor:             0.01,
		MergeThreshold:    0.7,
		ModerateThreshold: 0.3,
	}
}

// Analyzer computes Jaccard overlap against active rules.
type Analyzer struct {
	cfg Config
}

// New returns an Analyzer.
func New(cfg Config) *Analyzer {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Analyzer{cfg: cfg}
}

// Analyze computes the proposed rule's match-set on the sample and, for
// every active rule, the Jaccard index against that set. Results are
// sorted descending, truncated to TopK, with near-zero scores omitted.
func (a *Analyzer) Analyze(ctx context.Context, proposed *rules.Rule, active []*rules.Rule, sample *sampling.Sample) ([]Entry, error) {
	if sample == nil || sample.Size() == 0 || len(active) == 0 {
		return nil, nil
	}

	proposedSet := matchSet(proposed, sample.Records)

	entries := make([]Entry, len(active))
	keep := make([]bool, len(active))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, rule := range active {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			set := matchSet(rule, sample.Records)
			score, intersection := jaccardWithIntersection(proposedSet, set)
			if score < a.cfg.Floor {
				return nil
			}
			entries[i] = Entry{
				RuleName:       rule.Name,
				Score:          score,
				Intersection:   intersection,
				Interpretation: a.interpret(score),
			}
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Entry
	for i := range entries {
		if keep[i] {
			out = append(out, entries[i])
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].RuleName < out[j].RuleName
	})
	if len(out) > a.cfg.TopK {
		out = out[:a.cfg.TopK]
	}
	return out, nil
}

func (a *Analyzer) interpret(score float64) string {
	switch {
	case score > a.cfg.MergeThreshold:
		return InterpretationMerge
	case score >= a.cfg.ModerateThreshold:
		return InterpretationModerate
	default:
		return InterpretationLow
	}
}

// matchSet returns the ids of sample records the rule matches.
func matchSet(rule *rules.Rule, recs []records.TransactionRecord) map[string]bool {
	set := make(map[string]bool)
	for i := range recs {
		if rule.Matches(&recs[i]) {
			set[recs[i].ID] = true
		}
	}
	return set
}

// Jaccard returns intersection size over union size, and 0 when both sets
// are empty.
func Jaccard(a, b map[string]bool) float64 {
	score, _ := jaccardWithIntersection(a, b)
	return score
}

func jaccardWithIntersection(a, b map[string]bool) (float64, int) {
	if len(a) == 0 && len(b) == 0 {
		return 0, 0
	}
	intersection := 0
	for id := range a {
		if b[id] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union), intersection
}
