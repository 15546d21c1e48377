package archive

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Region == "" {
		t.Error("default region is empty")
	}
	if cfg.Prefix != "suggestions/" {
		t.Errorf("default prefix = %q, want suggestions/", cfg.Prefix)
	}
	if cfg.Enabled() {
		t.Error("config without a bucket reports enabled")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.Bucket = "rulegate-archive" }, false},
		{"no bucket", func(c *Config) {}, true},
		{"no region", func(c *Config) {
			c.Bucket = "rulegate-archive"
			c.Region = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStorageClassMapping(t *testing.T) {
	tests := []struct {
		in   string
		want types.StorageClass
	}{
		{"STANDARD_IA", types.StorageClassStandardIa},
		{"standard_ia", types.StorageClassStandardIa},
		{"INTELLIGENT_TIERING", types.StorageClassIntelligentTiering},
		{"GLACIER", types.StorageClassGlacier},
		{"", types.StorageClassStandard},
		{"unknown", types.StorageClassStandard},
	}

	for _, tt := range tests {
		cfg := Config{StorageClass: tt.in}
		if got := cfg.storageClass(); got != tt.want {
			t.Errorf("storageClass(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	a := &Archiver{cfg: Config{Prefix: "suggestions/"}}
	if got := a.objectKey("s-123"); got != "suggestions/s-123.json" {
		t.Errorf("objectKey() = %q", got)
	}
}

func skipIfNoS3(t *testing.T) {
	t.Helper()
	if os.Getenv("S3_TEST_BUCKET") == "" {
		t.Skip("S3_TEST_BUCKET not set; skipping integration test")
	}
}

func TestArchiverIntegration(t *testing.T) {
	skipIfNoS3(t)

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Region = os.Getenv("AWS_REGION")
	cfg.Bucket = os.Getenv("S3_TEST_BUCKET")
	if ep := os.Getenv("S3_TEST_ENDPOINT"); ep != "" {
		cfg.Endpoint = ep
		cfg.UsePathStyle = true
	}

	a, err := NewArchiver(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("NewArchiver() error = %v", err)
	}

	doc := map[string]string{"id": "s-test", "status": "approved"}
	stored, err := a.Store(ctx, "s-test", doc)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if stored.Size == 0 {
		t.Error("stored object has zero size")
	}

	var got map[string]string
	if err := a.Fetch(ctx, "s-test", &got); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got["status"] != "approved" {
		t.Errorf("fetched status = %q, want approved", got["status"])
	}

	if m := a.Metrics(); m.ObjectsStored != 1 {
		t.Errorf("objects stored = %d, want 1", m.ObjectsStored)
	}
}
