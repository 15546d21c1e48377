package records

import (
	"fmt"
	"math/rand"
	"time"

	"rulegate/internal/rules"
)

// Synthetic generates n deterministic pseudo-random transactions spread
// over the trailing 60 days. Used by dev deployments and tests that need
// a populated store without ClickHouse.
func Synthetic(n int, seed int64) []TransactionRecord {
	rng := rand.New(rand.NewSource(seed))
	now := time.Now().UTC()

	currencies := []string{"USD", "EUR", "GBP", "CAD", "AUD"}
	devices := []string{"web", "mobile", "tablet"}
	countries := []string{"US", "GB", "DE", "FR", "CA", "AU", "BR", "JP"}
	categories := []string{"electronics", "travel", "gambling", "groceries", "jewelry", "digital_goods", ""}
	agents := []string{"", "", "", "openai", "anthropic", "internal_bot"}

	out := make([]TransactionRecord, 0, n)
	for i := 0; i < n; i++ {
		occurred := now.Add(-time.Duration(rng.Intn(60*24*60)) * time.Minute)

		// Long-tailed amounts: mostly small, occasionally five figures.
		amount := rng.Float64() * 200
		switch rng.Intn(10) {
		case 0:
			amount = 500 + rng.Float64()*4500
		case 1:
			amount = 5000 + rng.Float64()*45_000
		}

		flagged := rng.Float64() < 0.08
		disputed := rng.Float64() < 0.03

		baseline := rules.DecisionAllow
		switch {
		case flagged && amount > 10_000:
			baseline = rules.DecisionBlock
		case flagged || amount > 20_000:
			baseline = rules.DecisionReview
		}

		out = append(out, TransactionRecord{
			ID:               fmt.Sprintf("tx_%08d", i),
			OccurredAt:       occurred,
			Amount:           float64(int(amount*100)) / 100,
			Currency:         currencies[rng.Intn(len(currencies))],
			Device:           devices[rng.Intn(len(devices))],
			Hour:             occurred.Hour(),
			Country:          countries[rng.Intn(len(countries))],
			MerchantCategory: categories[rng.Intn(len(categories))],
			IsInternational:  rng.Float64() < 0.2,
			AccountAgeDays:   rng.Intn(3650),
			TxCount24h:       rng.Intn(40),
			AgentID:          agents[rng.Intn(len(agents))],
			Email:            fmt.Sprintf("user%d@example.com", rng.Intn(5000)),
			IPAddress:        fmt.Sprintf("10.%d.%d.%d", rng.Intn(256), rng.Intn(256), rng.Intn(256)),
			CardBIN:          fmt.Sprintf("4%05d", rng.Intn(100_000)),
			BaselineDecision: baseline,
			Flagged:          flagged,
			Disputed:         disputed,
		})
	}
	return out
}
