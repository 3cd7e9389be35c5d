// Package s3 provides an object-storage dead-letter sink: one JSON object
// per failed batch, for durable inspection and replay outside the
// pipeline host.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hivemail/internal/deadletter"
	"hivemail/internal/logging"
)

// Config holds S3 sink settings.
type Config struct {
	Bucket string
	// Prefix is prepended to object keys. Defaults to "deadletter/".
	Prefix string
	// Region overrides the ambient AWS region when set.
	Region string
	Logger *slog.Logger
}

// putObjectAPI is the S3 surface the sink needs; narrowed for tests.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sink writes failed batches to an S3 bucket.
type Sink struct {
	cfg    Config
	client putObjectAPI
	logger *slog.Logger
}

// New creates the sink using ambient AWS credentials.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("deadletter s3 sink: bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("deadletter s3 sink: load aws config: %w", err)
	}
	return newWithClient(cfg, s3.NewFromConfig(awsCfg)), nil
}

func newWithClient(cfg Config, client putObjectAPI) *Sink {
	if cfg.Prefix == "" {
		cfg.Prefix = "deadletter/"
	}
	return &Sink{
		cfg:    cfg,
		client: client,
		logger: logging.Component(cfg.Logger, "deadletter").With("type", "s3"),
	}
}

// Deposit writes the batch as one object. The key encodes failure time
// and partition so objects list in rough chronological order.
func (s *Sink) Deposit(ctx context.Context, batch deadletter.FailedBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode failed batch: %w", err)
	}

	key := fmt.Sprintf("%s%s-p%d.json",
		s.cfg.Prefix,
		batch.FailedAt.UTC().Format("20060102T150405.000000000Z"),
		batch.Partition,
	)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put deadletter object %s: %w", key, err)
	}

	s.logger.Error("batch dead-lettered",
		"partition", batch.Partition,
		"events", len(batch.Events),
		"attempts", batch.Attempts,
		"class", batch.Class,
		"key", key,
	)
	return nil
}
