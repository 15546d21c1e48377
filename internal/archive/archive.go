// Package archive stores decided suggestions in S3 for long-term
// retention. Objects are written once and never deleted here; retention
// is handled by bucket lifecycle policy.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config holds S3 connection and behavior settings.
type Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Endpoint overrides the AWS endpoint for S3-compatible storage.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Static credentials. IAM is used when unset.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`

	// UsePathStyle forces path-style addressing (MinIO, LocalStack).
	UsePathStyle bool `yaml:"use_path_style"`

	StorageClass         string `yaml:"storage_class"`
	ServerSideEncryption string `yaml:"server_side_encryption,omitempty"`

	RetryMaxAttempts int `yaml:"retry_max_attempts"`
}

func DefaultConfig() Config {
	return Config{
		Region:           "us-east-1",
		Prefix:           "suggestions/",
		StorageClass:     "STANDARD_IA",
		RetryMaxAttempts: 3,
	}
}

// Enabled reports whether a bucket is configured. An empty bucket
// disables archival rather than failing startup.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

func (c Config) Validate() error {
	if c.Region == "" {
		return errors.New("archive: region is required")
	}
	if c.Bucket == "" {
		return errors.New("archive: bucket is required")
	}
	return nil
}

func (c Config) storageClass() types.StorageClass {
	switch strings.ToUpper(c.StorageClass) {
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	default:
		return types.StorageClassStandard
	}
}

// Archiver writes suggestion documents to S3.
type Archiver struct {
	client *s3.Client
	cfg    Config
	logger *slog.Logger

	objectsStored atomic.Int64
	bytesStored   atomic.Int64
	errors        atomic.Int64
}

func NewArchiver(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, config.WithCredentialsProvider(creds))
	}
	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	a := &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		logger: logger,
	}

	logger.Info("archiver initialized",
		"bucket", cfg.Bucket,
		"prefix", cfg.Prefix,
		"storage_class", cfg.StorageClass)

	return a, nil
}

// StoredObject describes a persisted archive document.
type StoredObject struct {
	Key      string
	ETag     string
	Location string
	Size     int64
}

// Store marshals doc as JSON and writes it under the configured prefix.
// Keys are deterministic per suggestion id, so re-archiving a
// suggestion overwrites the previous document.
func (a *Archiver) Store(ctx context.Context, id string, doc any) (*StoredObject, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		a.errors.Add(1)
		return nil, fmt.Errorf("archive: failed to marshal document: %w", err)
	}

	key := a.objectKey(id)

	putInput := &s3.PutObjectInput{
		Bucket:       aws.String(a.cfg.Bucket),
		Key:          aws.String(key),
		Body:         strings.NewReader(string(data)),
		ContentType:  aws.String("application/json"),
		StorageClass: a.cfg.storageClass(),
	}

	switch a.cfg.ServerSideEncryption {
	case "AES256":
		putInput.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		putInput.ServerSideEncryption = types.ServerSideEncryptionAwsKms
	}

	result, err := a.client.PutObject(ctx, putInput)
	if err != nil {
		a.errors.Add(1)
		return nil, fmt.Errorf("archive: failed to store object %s: %w", key, err)
	}

	size := int64(len(data))
	a.objectsStored.Add(1)
	a.bytesStored.Add(size)

	a.logger.Debug("archived suggestion", "key", key, "size", size)

	return &StoredObject{
		Key:      key,
		ETag:     aws.ToString(result.ETag),
		Location: fmt.Sprintf("s3://%s/%s", a.cfg.Bucket, key),
		Size:     size,
	}, nil
}

// Fetch retrieves an archived document and unmarshals it into out.
func (a *Archiver) Fetch(ctx context.Context, id string, out any) error {
	key := a.objectKey(id)

	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		a.errors.Add(1)
		return fmt.Errorf("archive: failed to fetch object %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("archive: failed to read object %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("archive: failed to unmarshal object %s: %w", key, err)
	}
	return nil
}

// ObjectInfo describes an archived object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// List returns archived objects under the configured prefix.
func (a *Archiver) List(ctx context.Context, maxKeys int) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.cfg.Bucket),
		Prefix: aws.String(a.cfg.Prefix),
	}
	if maxKeys > 0 {
		input.MaxKeys = aws.Int32(int32(maxKeys))
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(a.client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			a.errors.Add(1)
			return nil, fmt.Errorf("archive: failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}

		if maxKeys > 0 && len(objects) >= maxKeys {
			objects = objects[:maxKeys]
			break
		}
	}

	return objects, nil
}

// HealthStatus reports archive reachability.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// HealthCheck verifies the bucket is reachable.
func (a *Archiver) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{}
	start := time.Now()

	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.cfg.Bucket),
	})
	status.Latency = time.Since(start)

	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.Healthy = true
	return status
}

// Metrics contains archiver counters.
type Metrics struct {
	ObjectsStored int64
	BytesStored   int64
	Errors        int64
}

func (a *Archiver) Metrics() Metrics {
	return Metrics{
		ObjectsStored: a.objectsStored.Load(),
		BytesStored:   a.bytesStored.Load(),
		Errors:        a.errors.Load(),
	}
}

func (a *Archiver) objectKey(id string) string {
	return a.cfg.Prefix + id + ".json"
}
