package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"rulegate/internal/catalog"
	"rulegate/internal/rules"
)

const validRuleJSON = `{
	"rule": {
		"name": "high_value_mobile",
		"description": "High value transactions from mobile devices need review",
		"decision": "review",
		"conditions": [
			{"field": "amount", "op": ">", "value": 10000},
			{"field": "device", "op": "==", "value": "mobile"}
		]
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = server.URL
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg, catalog.DefaultPolicy()), server
}

func TestClientGenerate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rules/generate" {
			t.Errorf("path = %s, want /v1/rules/generate", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s, want application/json", ct)
		}
		fmt.Fprint(w, validRuleJSON)
	})

	rule, err := client.Generate(context.Background(), "flag big mobile spend", catalog.Default())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if rule.Name != "high_value_mobile" {
		t.Errorf("rule name = %q, want high_value_mobile", rule.Name)
	}
	if rule.Decision != rules.DecisionReview {
		t.Errorf("rule decision = %q, want review", rule.Decision)
	}
	if len(rule.Conditions) != 2 {
		t.Errorf("conditions = %d, want 2", len(rule.Conditions))
	}
}

func TestClientFailureReasons(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantReason FailureReason
	}{
		{
			name: "free text response is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "sure, here is your rule: match big amounts")
			},
			wantReason: ReasonMalformed,
		},
		{
			name: "unknown fields are malformed not repaired",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"rule": {"name": "x_rule", "decision": "review",
					"conditions": [], "confidence": 0.93}}`)
			},
			wantReason: ReasonMalformed,
		},
		{
			name: "missing rule is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{}`)
			},
			wantReason: ReasonMalformed,
		},
		{
			name: "429 is rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantReason: ReasonRateLimited,
		},
		{
			name: "500 is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal", http.StatusInternalServerError)
			},
			wantReason: ReasonUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.handler)

			_, err := client.Generate(context.Background(), "instruction", catalog.Default())
			if err == nil {
				t.Fatal("Generate() expected error")
			}

			var failure *GenerationFailure
			if !errors.As(err, &failure) {
				t.Fatalf("error %v is not a GenerationFailure", err)
			}
			if failure.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", failure.Reason, tt.wantReason)
			}
			if failure.ContentHash != ContentHash("instruction") {
				t.Errorf("content hash = %s, want hash of instruction", failure.ContentHash)
			}
			if !errors.Is(err, ErrGenerationFailed) {
				t.Error("failure does not match ErrGenerationFailed")
			}
		})
	}
}

func TestClientTimeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, validRuleJSON)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "instruction", catalog.Default())
	var failure *GenerationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("error %v is not a GenerationFailure", err)
	}
	if failure.Reason != ReasonTimeout {
		t.Errorf("reason = %s, want %s", failure.Reason, ReasonTimeout)
	}
}

func TestBuildSchemaExcludesPIIAndDisallowed(t *testing.T) {
	schema := BuildSchema(catalog.Default(), catalog.DefaultPolicy())

	for _, f := range schema.Fields {
		if f.Name == "email" || f.Name == "ip_address" || f.Name == "card_bin" {
			t.Errorf("schema offers PII field %q to the generator", f.Name)
		}
	}
	if schema.MaxConditions != catalog.DefaultPolicy().MaxConditions {
		t.Errorf("schema max conditions = %d, want %d",
			schema.MaxConditions, catalog.DefaultPolicy().MaxConditions)
	}
	if len(schema.Operators) == 0 || len(schema.Decisions) != 3 {
		t.Errorf("schema operators/decisions incomplete: %d/%d",
			len(schema.Operators), len(schema.Decisions))
	}
}

func TestMemoryCache(t *testing.T) {
	cfg := CacheConfig{TTL: time.Hour, MaxEntries: 3}
	cache := NewMemoryCache(cfg)
	ctx := context.Background()

	rule := &rules.Rule{Name: "cached_rule", Decision: rules.DecisionReview,
		Conditions: []rules.Condition{rules.Leaf("amount", rules.OpGreater, 10)}}

	if _, ok := cache.Get(ctx, "k1"); ok {
		t.Error("Get() on empty cache reported a hit")
	}

	cache.Put(ctx, "k1", rule)
	got, ok := cache.Get(ctx, "k1")
	if !ok || got.Name != "cached_rule" {
		t.Fatalf("Get() = %+v, %v, want cached_rule", got, ok)
	}
	if got == rule {
		t.Error("cache returned the original pointer; entries must not alias")
	}

	// Fill past capacity; the oldest entry is evicted.
	cache.Put(ctx, "k2", rule)
	cache.Put(ctx, "k3", rule)
	cache.Put(ctx, "k4", rule)
	if cache.Len() > 3 {
		t.Errorf("cache len = %d, want <= 3", cache.Len())
	}
	if _, ok := cache.Get(ctx, "k1"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := cache.Get(ctx, "k4"); !ok {
		t.Error("newest entry missing after eviction")
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	cache := NewMemoryCache(CacheConfig{TTL: time.Minute, MaxEntries: 10})
	now := time.Now()
	cache.now = func() time.Time { return now }

	rule := &rules.Rule{Name: "short_lived", Decision: rules.DecisionBlock,
		Conditions: []rules.Condition{rules.Leaf("amount", rules.OpGreater, 10)}}
	cache.Put(context.Background(), "k", rule)

	if _, ok := cache.Get(context.Background(), "k"); !ok {
		t.Fatal("entry missing before expiry")
	}

	cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := cache.Get(context.Background(), "k"); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestRateLimiter(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerCaller: 3,
		WindowSize:        time.Hour,
		BurstSize:         0,
		CleanupPeriod:     time.Hour,
	}
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		allowed, _, _ := rl.Allow("analyst_a")
		if !allowed {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	allowed, remaining, _ := rl.Allow("analyst_a")
	if allowed {
		t.Error("request over limit was allowed")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}

	// Another caller has an independent window.
	if allowed, _, _ := rl.Allow("analyst_b"); !allowed {
		t.Error("independent caller was limited")
	}
}

// fakeGenerator counts calls and returns a fixed proposal.
type fakeGenerator struct {
	calls atomic.Int64
	rule  *rules.Rule
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, instruction string, cat *catalog.Catalog) (*rules.Rule, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.rule, nil
}

func TestServiceCacheAvoidsSecondCall(t *testing.T) {
	gen := &fakeGenerator{rule: &rules.Rule{Name: "from_generator", Decision: rules.DecisionReview,
		Conditions: []rules.Condition{rules.Leaf("amount", rules.OpGreater, 10)}}}
	svc := NewService(gen, NewMemoryCache(DefaultCacheConfig()), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rule, err := svc.Generate(ctx, "same instruction", "analyst_a", catalog.Default())
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if rule.Name != "from_generator" {
			t.Errorf("rule name = %q", rule.Name)
		}
	}
	if got := gen.calls.Load(); got != 1 {
		t.Errorf("generator called %d times, want 1 (cache)", got)
	}
}

func TestServiceRateLimitFailure(t *testing.T) {
	gen := &fakeGenerator{rule: &rules.Rule{Name: "r_one", Decision: rules.DecisionReview,
		Conditions: []rules.Condition{rules.Leaf("amount", rules.OpGreater, 10)}}}
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerCaller: 1,
		WindowSize:        time.Hour,
		CleanupPeriod:     time.Hour,
	})
	defer rl.Stop()

	// No cache, so each distinct instruction costs one call.
	svc := NewService(gen, nil, rl)
	ctx := context.Background()

	if _, err := svc.Generate(ctx, "first", "analyst_a", catalog.Default()); err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}

	_, err := svc.Generate(ctx, "second", "analyst_a", catalog.Default())
	var failure *GenerationFailure
	if !errors.As(err, &failure) || failure.Reason != ReasonRateLimited {
		t.Fatalf("error = %v, want rate_limited failure", err)
	}
	if got := gen.calls.Load(); got != 1 {
		t.Errorf("generator called %d times, want 1 (limited)", got)
	}
}
