// Package archive stores closed moderation reports in object storage for
// audit retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/prn-tf/agora/internal/domain"
)

// Archiver stores a closed report.
type Archiver interface {
	Archive(ctx context.Context, report *domain.Report) error
}

// Noop discards reports. Used when no bucket is configured.
type Noop struct{}

// Archive implements Archiver.
func (Noop) Archive(context.Context, *domain.Report) error { return nil }

// PutObjectAPI is the subset of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the S3 archiver.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Archiver writes each report as a JSON object.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver over an existing client.
func NewS3Archiver(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// given, otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Key returns the object key for a report.
func (a *S3Archiver) Key(report *domain.Report) string {
	closed := report.UpdatedAt
	if report.ClosedAt != nil {
		closed = *report.ClosedAt
	}
	return path.Join(a.prefix, "reports", closed.Format("2006/01"), report.ID.String()+".json")
}

// Archive implements Archiver.
func (a *S3Archiver) Archive(ctx context.Context, report *domain.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(report)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"report-status": string(report.Status),
			"report-action": string(report.Action),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: archive report %s: %v", domain.ErrDependencyFailure, report.ID, err)
	}
	return nil
}

var (
	_ Archiver = Noop{}
	_ Archiver = (*S3Archiver)(nil)
)
