// Package api bridges the TUI scenes to the suggestion service. Scenes
// run inside tea.Cmd closures, so every call here is synchronous and
// bounded by a timeout.
package api

import (
	"context"
	"time"

	"rulegate/internal/audit"
	"rulegate/internal/suggestion"
)

// Client wraps the suggestion service for scene consumption.
type Client struct {
	svc      *suggestion.Service
	trail    *audit.Trail
	reviewer string
	timeout  time.Duration
}

// NewClient builds a client acting as the given reviewer. The trail may
// be nil, which leaves the activity scene empty.
func NewClient(svc *suggestion.Service, trail *audit.Trail, reviewer string) *Client {
	return &Client{
		svc:      svc,
		trail:    trail,
		reviewer: reviewer,
		timeout:  5 * time.Second,
	}
}

// Reviewer returns the identity decisions are made under.
func (c *Client) Reviewer() string {
	return c.reviewer
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// Pending returns the pending queue, most recent first.
func (c *Client) Pending(limit int) ([]suggestion.Suggestion, error) {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.svc.List(ctx, suggestion.ListQuery{Status: suggestion.StatusPending, Limit: limit})
}

// Suggestion returns one suggestion by id.
func (c *Client) Suggestion(id string) (*suggestion.Suggestion, error) {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.svc.Get(ctx, id)
}

// Approve approves as the client's reviewer.
func (c *Client) Approve(id, notes string, ackImpact bool) (*suggestion.Suggestion, error) {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.svc.Approve(ctx, id, c.reviewer, notes, ackImpact)
}

// Reject rejects as the client's reviewer.
func (c *Client) Reject(id, notes string) (*suggestion.Suggestion, error) {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.svc.Reject(ctx, id, c.reviewer, notes)
}

// Activity returns the most recent audit entries, newest first.
func (c *Client) Activity(limit int) ([]audit.Entry, error) {
	if c.trail == nil {
		return nil, nil
	}
	ctx, cancel := c.ctx()
	defer cancel()

	entries, err := c.trail.Entries(ctx, audit.Query{})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	// Stored ascending; the feed shows newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// VerifyTrail re-checks the audit chain end to end.
func (c *Client) VerifyTrail() error {
	if c.trail == nil {
		return nil
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return c.trail.VerifyChain(ctx)
}
