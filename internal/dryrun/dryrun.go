// Package dryrun simulates a proposed rule against a historical sample,
// comparing baseline and proposed decision distributions without any
// production effect.
package dryrun

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"rulegate/internal/records"
	"rulegate/internal/rules"
	"rulegate/internal/sampling"
)

// ErrEmptySample indicates there was nothing to evaluate.
var ErrEmptySample = errors.New("dryrun: empty sample")

// maxExamples caps the redacted change examples attached to a report.
const maxExamples = 10

// FPRisk is the false-positive risk tier. It is a judgment aid for
// reviewers, not a statistical guarantee.
type FPRisk string

const (
	FPRiskLow    FPRisk = "low"
	FPRiskMedium FPRisk = "medium"
	FPRiskHigh   FPRisk = "high"
)

// RateTriple holds per-decision percentages of the sample.
type RateTriple struct {
	Allow  float64 `json:"allow"`
	Review float64 `json:"review"`
	Block  float64 `json:"block"`
}

// Sum returns the triple's total, which should be ~100 for rate triples.
func (r RateTriple) Sum() float64 {
	return r.Allow + r.Review + r.Block
}

// ChangeExample is one record whose decision would change under the
// proposed rule. The projection itself is the redaction: only these five
// fields are ever attached to a report.
type ChangeExample struct {
	ID       string         `json:"id"`
	Amount   float64        `json:"amount"`
	Device   string         `json:"device"`
	Baseline rules.Decision `json:"baseline"`
	Proposed rules.Decision `json:"proposed"`
}

// ImpactReport summarizes a dry run. Immutable once built.
type ImpactReport struct {
	SampleSize    int             `json:"sample_size"`
	Matches       int             `json:"matches"`
	MatchRate     float64         `json:"match_rate"`
	BaselineRates RateTriple      `json:"baseline_rates"`
	ProposedRates RateTriple      `json:"proposed_rates"`
	Deltas        RateTriple      `json:"deltas"`
	Examples      []ChangeExample `json:"examples,omitempty"`
	FPRisk        FPRisk          `json:"fp_risk"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// Engine evaluates rules against samples. Per-record evaluation is
// embarrassingly parallel; shards merge by commutative aggregation.
type Engine struct {
	shards int
}

// New returns an Engine running the given number of shards, defaulting to
// GOMAXPROCS.
func New(shards int) *Engine {
	if shards <= 0 {
		shards = runtime.GOMAXPROCS(0)
	}
	return &Engine{shards: shards}
}

// DryRun evaluates the rule against every record in the sample. A record
// "matches" when the rule alone would decide something other than allow.
// The proposed distribution layers the rule over existing decisions with
// precedence block > review > allow, so an existing block is never
// downgraded.
func (e *Engine) DryRun(ctx context.Context, rule *rules.Rule, sample *sampling.Sample) (*ImpactReport, error) {
	if sample == nil || sample.Size() == 0 {
		return nil, ErrEmptySample
	}

	recs := sample.Records
	shards := e.shards
	if shards > len(recs) {
		shards = len(recs)
	}

	partials := make([]partial, shards)
	g, gctx := errgroup.WithContext(ctx)

	chunk := (len(recs) + shards - 1) / shards
	for i := 0; i < shards; i++ {
		start := i * chunk
		end := start + chunk
		if end > len(recs) {
			end = len(recs)
		}
		g.Go(func() error {
			return evalShard(gctx, rule, recs[start:end], &partials[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total partial
	for i := range partials {
		total.merge(&partials[i])
	}

	return total.report(len(recs)), nil
}

// partial is one shard's aggregation. All fields merge commutatively.
type partial struct {
	matches        int
	baseline       decisionCounts
	proposed       decisionCounts
	movedFromAllow int
	movedClean     int
	changed        []ChangeExample
}

type decisionCounts struct {
	allow  int
	review int
	block  int
}

func (d *decisionCounts) add(dec rules.Decision) {
	switch dec {
	case rules.DecisionBlock:
		d.block++
	case rules.DecisionReview:
		d.review++
	default:
		d.allow++
	}
}

func evalShard(ctx context.Context, rule *rules.Rule, recs []records.TransactionRecord, p *partial) error {
	for i := range recs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec := &recs[i]

		baseline := rec.BaselineDecision
		if !baseline.IsValid() {
			baseline = rules.DecisionAllow
		}

		alone := rules.DecisionAllow
		if rule.Matches(rec) {
			alone = rule.Decision
		}
		if alone != rules.DecisionAllow {
			p.matches++
		}

		proposed := rules.Stricter(baseline, alone)
		p.baseline.add(baseline)
		p.proposed.add(proposed)

		if proposed != baseline {
			p.changed = append(p.changed, ChangeExample{
				ID:       rec.ID,
				Amount:   rec.Amount,
				Device:   rec.Device,
				Baseline: baseline,
				Proposed: proposed,
			})
			if baseline == rules.DecisionAllow {
				p.movedFromAllow++
				if !rec.RiskMarked() {
					p.movedClean++
				}
			}
		}
	}
	return nil
}

func (p *partial) merge(other *partial) {
	p.matches += other.matches
	p.baseline.allow += other.baseline.allow
	p.baseline.review += other.baseline.review
	p.baseline.block += other.baseline.block
	p.proposed.allow += other.proposed.allow
	p.proposed.review += other.proposed.review
	p.proposed.block += other.proposed.block
	p.movedFromAllow += other.movedFromAllow
	p.movedClean += other.movedClean
	p.changed = append(p.changed, other.changed...)
}

func (p *partial) report(size int) *ImpactReport {
	baseline := ratesOf(p.baseline, size)
	proposed := ratesOf(p.proposed, size)

	sort.Slice(p.changed, func(i, j int) bool {
		if p.changed[i].Amount != p.changed[j].Amount {
			return p.changed[i].Amount > p.changed[j].Amount
		}
		return p.changed[i].ID < p.changed[j].ID
	})
	examples := p.changed
	if len(examples) > maxExamples {
		examples = examples[:maxExamples]
	}

	return &ImpactReport{
		SampleSize:    size,
		Matches:       p.matches,
		MatchRate:     percent(p.matches, size),
		BaselineRates: baseline,
		ProposedRates: proposed,
		Deltas: RateTriple{
			Allow:  round2(proposed.Allow - baseline.Allow),
			Review: round2(proposed.Review - baseline.Review),
			Block:  round2(proposed.Block - baseline.Block),
		},
		Examples:   examples,
		FPRisk:     fpRisk(p.movedFromAllow, p.movedClean),
		ComputedAt: time.Now().UTC(),
	}
}

// fpRisk grades the share of newly flagged records that carry no existing
// flag or dispute marker: above 70% high, above 40% medium, else low.
func fpRisk(movedFromAllow, movedClean int) FPRisk {
	if movedFromAllow == 0 {
		return FPRiskLow
	}
	share := float64(movedClean) / float64(movedFromAllow)
	switch {
	case share > 0.7:
		return FPRiskHigh
	case share > 0.4:
		return FPRiskMedium
	default:
		return FPRiskLow
	}
}

func ratesOf(c decisionCounts, size int) RateTriple {
	return RateTriple{
		Allow:  percent(c.allow, size),
		Review: percent(c.review, size),
		Block:  percent(c.block, size),
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
