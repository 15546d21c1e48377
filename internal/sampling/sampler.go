// Package sampling draws stratified samples of historical transactions.
// Uniform random sampling under-represents exactly what new rules target:
// fraud clusters by recency, periodicity, prior risk flags, and value. The
// sampler therefore partitions the requested size into five independent
// strata and unions the results with deduplication.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"rulegate/internal/records"
)

// Stratum identifies one sampling partition.
type Stratum string

const (
	StratumRecent    Stratum = "recent"
	StratumWeekend   Stratum = "weekend_off_hours"
	StratumFlagged   Stratum = "flagged"
	StratumHighValue Stratum = "high_value"
	StratumRandom    Stratum = "random"
)

// strataOrder fixes merge order so the first contributing stratum wins the
// tag for records that belong to several.
var strataOrder = []Stratum{
	StratumRecent,
	StratumWeekend,
	StratumFlagged,
	StratumHighValue,
	StratumRandom,
}

// stratumShares partitions the requested size. Shortfalls in one stratum
// are accepted, not redistributed to others.
var stratumShares = map[Stratum]float64{
	StratumRecent:    0.30,
	StratumWeekend:   0.20,
	StratumFlagged:   0.20,
	StratumHighValue: 0.15,
	StratumRandom:    0.15,
}

// ErrUnavailable indicates the record store could not serve the sample.
var ErrUnavailable = errors.New("sampling: sample unavailable")

// UnavailableError reports why a sample could not be drawn. Impact
// analysis aborts with an explicit "could not be computed" result instead
// of a misleadingly empty report.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sampling: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sampling: %s", e.Reason)
}

func (e *UnavailableError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnavailable
}

// Is lets errors.Is(err, ErrUnavailable) match wrapped store errors too.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Config holds the sampler's tunables.
type Config struct {
	// RecentDays bounds the recency stratum.
	RecentDays int `yaml:"recent_days"`

	// HighValueThreshold is the amount floor of the high-value stratum.
	HighValueThreshold float64 `yaml:"high_value_threshold"`

	// DefaultSize is used when a caller requests size <= 0.
	DefaultSize int `yaml:"default_size"`

	// MaxSize caps any single sample.
	MaxSize int `yaml:"max_size"`
}

// DefaultConfig returns the default sampler configuration.
func DefaultConfig() Config {
	return Config{
		RecentDays:         7,
		HighValueThreshold: 5000,
		DefaultSize:        1000,
		MaxSize:            50_000,
	}
}

// Sample is a deduplicated batch of records with per-record stratum tags.
// Ephemeral: built per dry-run call, never persisted.
type Sample struct {
	Records   []records.TransactionRecord
	Tags      map[string]Stratum
	Requested int
}

// Size returns the number of deduplicated records in the sample.
func (s *Sample) Size() int {
	return len(s.Records)
}

// Sampler draws stratified samples from a record store.
type Sampler struct {
	store records.Store
	cfg   Config
}

// New returns a Sampler over the given store.
func New(store records.Store, cfg Config) *Sampler {
	if cfg.RecentDays <= 0 {
		cfg.RecentDays = 7
	}
	if cfg.DefaultSize <= 0 {
		cfg.DefaultSize = 1000
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50_000
	}
	return &Sampler{store: store, cfg: cfg}
}

// Sample draws up to size records across the five strata. The stratum
// queries have no ordering dependency and run concurrently; results merge
// in fixed stratum order with deduplication by record id.
func (s *Sampler) Sample(ctx context.Context, size int) (*Sample, error) {
	if size <= 0 {
		size = s.cfg.DefaultSize
	}
	if size > s.cfg.MaxSize {
		size = s.cfg.MaxSize
	}

	targets := stratumTargets(size)
	results := make(map[Stratum][]records.TransactionRecord, len(strataOrder))

	g, gctx := errgroup.WithContext(ctx)
	resultCh := make(chan stratumResult, len(strataOrder))

	for _, stratum := range strataOrder {
		target := targets[stratum]
		if target == 0 {
			continue
		}
		g.Go(func() error {
			recs, err := s.store.QueryRecords(gctx, s.queryFor(stratum, target))
			if err != nil {
				return &UnavailableError{
					Reason: fmt.Sprintf("stratum %s query failed", stratum),
					Err:    err,
				}
			}
			resultCh <- stratumResult{stratum: stratum, records: recs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(resultCh)

	for r := range resultCh {
		results[r.stratum] = r.records
	}

	sample := &Sample{
		Tags:      make(map[string]Stratum),
		Requested: size,
	}
	for _, stratum := range strataOrder {
		for _, rec := range results[stratum] {
			if _, seen := sample.Tags[rec.ID]; seen {
				continue
			}
			sample.Tags[rec.ID] = stratum
			sample.Records = append(sample.Records, rec)
		}
		if got, want := len(results[stratum]), targets[stratum]; got < want {
			slog.Debug("stratum shortfall accepted",
				"stratum", string(stratum),
				"target", want,
				"got", got,
			)
		}
	}

	if len(sample.Records) == 0 {
		return nil, &UnavailableError{Reason: "record store returned zero records"}
	}
	return sample, nil
}

type stratumResult struct {
	stratum Stratum
	records []records.TransactionRecord
}

// stratumTargets splits size by the fixed shares, assigning rounding
// leftovers to the random stratum.
func stratumTargets(size int) map[Stratum]int {
	targets := make(map[Stratum]int, len(strataOrder))
	assigned := 0
	for _, stratum := range strataOrder {
		if stratum == StratumRandom {
			continue
		}
		n := int(float64(size) * stratumShares[stratum])
		targets[stratum] = n
		assigned += n
	}
	targets[StratumRandom] = size - assigned
	return targets
}

func (s *Sampler) queryFor(stratum Stratum, limit int) records.Query {
	q := records.Query{Limit: limit}
	switch stratum {
	case StratumRecent:
		since := time.Now().UTC().AddDate(0, 0, -s.cfg.RecentDays)
		q.Since = &since
	case StratumWeekend:
		q.WeekendOrOffHours = true
	case StratumFlagged:
		q.FlaggedOrDisputed = true
	case StratumHighValue:
		threshold := s.cfg.HighValueThreshold
		q.MinAmount = &threshold
	case StratumRandom:
		q.Random = true
	}
	return q
}
