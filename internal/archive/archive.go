// Package archive stores settlement reports as JSON objects in S3-compatible
// storage (AWS S3, Cloudflare R2, MinIO).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"

	"github.com/attnx/tournament-engine/internal/settlement"
)

// Config locates the archive bucket. An empty Endpoint uses AWS; static
// credentials are used when both keys are set, the default chain otherwise.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one object per settled tournament.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
}

// NewS3Archiver builds an S3 client from cfg.
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load archive config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArchiverWithClient(client, cfg.Bucket), nil
}

// NewS3ArchiverWithClient wraps an existing client.
func NewS3ArchiverWithClient(client PutObjectAPI, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

// Archive uploads r as JSON under ObjectKey(r).
func (a *S3Archiver) Archive(ctx context.Context, r *settlement.Report) error {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ObjectKey(r)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload report: %w", err)
	}
	return nil
}

// ObjectKey names a report object, e.g.
// "settlements/2026/05/spring-cup-<tournament id>.json".
func ObjectKey(r *settlement.Report) string {
	name := slug.Make(r.Tournament.Name)
	if name == "" {
		name = "tournament"
	}
	return fmt.Sprintf("settlements/%s/%s-%s.json",
		r.SettledAt.UTC().Format("2006/01"), name, slug.Make(r.Tournament.ID))
}

// MemoryArchiver keeps reports in memory, keyed like S3Archiver.
type MemoryArchiver struct {
	mu      sync.Mutex
	reports map[string][]byte
}

// NewMemoryArchiver creates an empty MemoryArchiver.
func NewMemoryArchiver() *MemoryArchiver {
	return &MemoryArchiver{reports: make(map[string][]byte)}
}

func (a *MemoryArchiver) Archive(_ context.Context, r *settlement.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports[ObjectKey(r)] = body
	return nil
}

// Get returns the stored report body for key.
func (a *MemoryArchiver) Get(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.reports[key]
	return b, ok
}

var (
	_ settlement.Archiver = (*S3Archiver)(nil)
	_ settlement.Archiver = (*MemoryArchiver)(nil)
)
