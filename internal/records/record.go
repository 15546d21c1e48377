// Package records provides the historical transaction shape consumed by
// dry-run analysis and the predicate-filtered stores that serve it.
package records

import (
	"time"

	"rulegate/internal/rules"
)

// TransactionRecord is the lean, pre-projected transaction shape used for
// dry-run evaluation. It is read-only input: nothing in the pipeline
// mutates a record.
type TransactionRecord struct {
	ID               string         `json:"id"`
	OccurredAt       time.Time      `json:"occurred_at"`
	Amount           float64        `json:"amount"`
	Currency         string         `json:"currency"`
	Device           string         `json:"device"`
	Hour             int            `json:"hour"`
	Country          string         `json:"country"`
	MerchantCategory string         `json:"merchant_category,omitempty"`
	IsInternational  bool           `json:"is_international"`
	AccountAgeDays   int            `json:"account_age_days"`
	TxCount24h       int            `json:"tx_count_24h"`
	AgentID          string         `json:"agent_id,omitempty"`
	Email            string         `json:"email,omitempty"`
	IPAddress        string         `json:"ip_address,omitempty"`
	CardBIN          string         `json:"card_bin,omitempty"`
	BaselineDecision rules.Decision `json:"baseline_decision"`
	Flagged          bool           `json:"flagged"`
	Disputed         bool           `json:"disputed"`
}

// Field exposes catalog features for rule evaluation. Nullable features
// report absent when empty. Baseline decision and risk flags are not
// evaluable features and are not exposed here.
func (r *TransactionRecord) Field(name string) (any, bool) {
	switch name {
	case "amount":
		return r.Amount, true
	case "currency":
		return r.Currency, true
	case "device":
		return r.Device, true
	case "hour":
		return r.Hour, true
	case "country":
		return r.Country, true
	case "merchant_category":
		if r.MerchantCategory == "" {
			return nil, false
		}
		return r.MerchantCategory, true
	case "is_international":
		return r.IsInternational, true
	case "account_age_days":
		return r.AccountAgeDays, true
	case "tx_count_24h":
		return r.TxCount24h, true
	case "agent_id":
		if r.AgentID == "" {
			return nil, false
		}
		return r.AgentID, true
	case "email":
		return r.Email, true
	case "ip_address":
		return r.IPAddress, true
	case "card_bin":
		return r.CardBIN, true
	}
	return nil, false
}

// RiskMarked reports whether the record already carries a flag or dispute
// marker. Used by the false-positive heuristic.
func (r *TransactionRecord) RiskMarked() bool {
	return r.Flagged || r.Disputed
}
