package records

import (
	"context"
	"time"
)

// Query is a predicate filter over historical transactions. Zero-value
// fields are not applied. Exactly the predicates the sampler strata need:
// recency, weekend/off-hours, prior risk flags, amount floor, id range,
// and random ordering for the residual stratum.
type Query struct {
	// Since keeps records that occurred at or after the given time.
	Since *time.Time

	// WeekendOrOffHours keeps records from weekends or outside 06:00-22:00.
	WeekendOrOffHours bool

	// FlaggedOrDisputed keeps records carrying a prior risk marker.
	FlaggedOrDisputed bool

	// MinAmount keeps records at or above the given amount.
	MinAmount *float64

	// IDFrom / IDTo bound the record id range, inclusive.
	IDFrom string
	IDTo   string

	// Random returns records in random order instead of most recent first.
	Random bool

	// Limit caps the number of returned records. Required.
	Limit int
}

// Store serves predicate-filtered historical transactions.
type Store interface {
	// QueryRecords returns up to q.Limit records matching the predicates.
	// An unreachable store returns an error; an empty result is not one.
	QueryRecords(ctx context.Context, q Query) ([]TransactionRecord, error)
}
