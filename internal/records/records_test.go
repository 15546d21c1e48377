package records

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rulegate/internal/rules"
)

func testRecord(id string, amount float64, occurred time.Time) TransactionRecord {
	return TransactionRecord{
		ID:               id,
		OccurredAt:       occurred,
		Amount:           amount,
		Currency:         "USD",
		Device:           "web",
		Hour:             occurred.UTC().Hour(),
		Country:          "US",
		BaselineDecision: rules.DecisionAllow,
	}
}

func TestFieldExposesCatalogFeatures(t *testing.T) {
	rec := TransactionRecord{
		ID:               "tx_1",
		Amount:           1250.5,
		Currency:         "EUR",
		Device:           "mobile",
		Hour:             22,
		Country:          "DE",
		MerchantCategory: "travel",
		IsInternational:  true,
		AccountAgeDays:   90,
		TxCount24h:       4,
		AgentID:          "openai",
		Email:            "user@example.com",
		BaselineDecision: rules.DecisionReview,
		Flagged:          true,
	}

	tests := []struct {
		name      string
		field     string
		wantValue any
		wantOK    bool
	}{
		{name: "amount", field: "amount", wantValue: 1250.5, wantOK: true},
		{name: "device", field: "device", wantValue: "mobile", wantOK: true},
		{name: "hour", field: "hour", wantValue: 22, wantOK: true},
		{name: "boolean feature", field: "is_international", wantValue: true, wantOK: true},
		{name: "nullable present", field: "merchant_category", wantValue: "travel", wantOK: true},
		{name: "agent id present", field: "agent_id", wantValue: "openai", wantOK: true},
		{name: "unknown field", field: "baseline_decision", wantValue: nil, wantOK: false},
		{name: "risk flags not evaluable", field: "flagged", wantValue: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rec.Field(tt.field)
			if ok != tt.wantOK {
				t.Fatalf("Field(%s) ok = %v, want %v", tt.field, ok, tt.wantOK)
			}
			if ok && got != tt.wantValue {
				t.Errorf("Field(%s) = %v, want %v", tt.field, got, tt.wantValue)
			}
		})
	}

	empty := TransactionRecord{}
	if _, ok := empty.Field("merchant_category"); ok {
		t.Error("empty merchant_category should report absent")
	}
	if _, ok := empty.Field("agent_id"); ok {
		t.Error("empty agent_id should report absent")
	}
}

func TestMemoryStorePredicates(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) // a Tuesday
	saturday := time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC)
	lateNight := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	old := now.AddDate(0, -2, 0)

	recent := testRecord("tx_recent", 100, now.Add(-24*time.Hour))
	weekend := testRecord("tx_weekend", 80, saturday)
	offHours := testRecord("tx_night", 60, lateNight)
	flagged := testRecord("tx_flagged", 40, old)
	flagged.Flagged = true
	disputed := testRecord("tx_disputed", 30, old)
	disputed.Disputed = true
	big := testRecord("tx_big", 9000, old)

	store := NewMemoryStore([]TransactionRecord{recent, weekend, offHours, flagged, disputed, big})
	ctx := context.Background()

	since := now.AddDate(0, 0, -7)
	minAmount := 5000.0

	tests := []struct {
		name    string
		query   Query
		wantIDs map[string]bool
	}{
		{
			name:    "recency",
			query:   Query{Since: &since, Limit: 10},
			wantIDs: map[string]bool{"tx_recent": true, "tx_weekend": true, "tx_night": true},
		},
		{
			name:    "weekend or off hours",
			query:   Query{WeekendOrOffHours: true, Limit: 10},
			wantIDs: map[string]bool{"tx_weekend": true, "tx_night": true},
		},
		{
			name:    "flagged or disputed",
			query:   Query{FlaggedOrDisputed: true, Limit: 10},
			wantIDs: map[string]bool{"tx_flagged": true, "tx_disputed": true},
		},
		{
			name:    "high value",
			query:   Query{MinAmount: &minAmount, Limit: 10},
			wantIDs: map[string]bool{"tx_big": true},
		},
		{
			name:    "id range",
			query:   Query{IDFrom: "tx_disputed", IDTo: "tx_flagged", Limit: 10},
			wantIDs: map[string]bool{"tx_disputed": true, "tx_flagged": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.QueryRecords(ctx, tt.query)
			if err != nil {
				t.Fatalf("QueryRecords() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("QueryRecords() returned %d records, want %d", len(got), len(tt.wantIDs))
			}
			for _, r := range got {
				if !tt.wantIDs[r.ID] {
					t.Errorf("QueryRecords() returned unexpected record %s", r.ID)
				}
			}
		})
	}
}

func TestMemoryStoreLimitAndOrder(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var recs []TransactionRecord
	for i := 0; i < 20; i++ {
		recs = append(recs, testRecord(
			// Later index, later timestamp.
			fmtID(i), float64(i), base.Add(time.Duration(i)*time.Hour)))
	}
	store := NewMemoryStore(recs)

	got, err := store.QueryRecords(context.Background(), Query{Limit: 5})
	if err != nil {
		t.Fatalf("QueryRecords() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("QueryRecords() returned %d records, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].OccurredAt.After(got[i-1].OccurredAt) {
			t.Errorf("records not ordered most recent first at index %d", i)
		}
	}
	if got[0].ID != fmtID(19) {
		t.Errorf("first record = %s, want %s", got[0].ID, fmtID(19))
	}
}

func fmtID(i int) string {
	return fmt.Sprintf("tx_%02d", i)
}

func TestSyntheticDeterministic(t *testing.T) {
	a := Synthetic(50, 42)
	b := Synthetic(50, 42)
	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("Synthetic() lengths = %d, %d, want 50", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Amount != b[i].Amount || a[i].Device != b[i].Device {
			t.Fatalf("Synthetic() not deterministic at index %d: %+v vs %+v", i, a[i], b[i])
		}
	}
	for i := range a {
		if !a[i].BaselineDecision.IsValid() {
			t.Errorf("record %d has invalid baseline decision %q", i, a[i].BaselineDecision)
		}
	}
}

func TestBuildWhere(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	min := 5000.0

	where, args := buildWhere(Query{Since: &since, MinAmount: &min, FlaggedOrDisputed: true})
	if where == "" {
		t.Fatal("buildWhere() returned empty clause")
	}
	if len(args) != 2 {
		t.Errorf("buildWhere() args = %d, want 2", len(args))
	}

	where, args = buildWhere(Query{})
	if where != "" || args != nil {
		t.Errorf("buildWhere(empty) = %q, %v, want empty", where, args)
	}
}
