// Package archive keeps completed reports in S3-compatible object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no report is archived for a job.
var ErrNotFound = errors.New("archive: report not found")

// Config holds object storage settings
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Store archives reports as markdown objects.
type Store struct {
	mc     *minio.Client
	bucket string
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("archive access_key and secret_key are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "research-reports"
	}
	return &Store{mc: mc, bucket: bucket, logger: logger}, nil
}

// ReportKey is the object key of a job's report.
func ReportKey(jobID string) string { return "reports/" + jobID + ".md" }

// EnsureBucket creates the bucket when missing.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		s.logger.Info("Created archive bucket", zap.String("bucket", s.bucket))
	}
	return nil
}

// PutReport uploads report under ReportKey(jobID).
func (s *Store) PutReport(ctx context.Context, jobID, report string) error {
	_, err := s.mc.PutObject(ctx, s.bucket, ReportKey(jobID), strings.NewReader(report), int64(len(report)), minio.PutObjectOptions{
		ContentType: "text/markdown; charset=utf-8",
	})
	if err != nil {
		metrics.ArchiveUploads.WithLabelValues("error").Inc()
		return fmt.Errorf("upload report %s: %w", jobID, err)
	}
	metrics.ArchiveUploads.WithLabelValues("ok").Inc()
	return nil
}

// GetReport downloads a job's report.
func (s *Store) GetReport(ctx context.Context, jobID string) (string, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, ReportKey(jobID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("download report %s: %w", jobID, err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read report %s: %w", jobID, err)
	}
	return string(b), nil
}

// DeleteReport removes a job's report. Deleting a missing report succeeds.
func (s *Store) DeleteReport(ctx context.Context, jobID string) error {
	return s.mc.RemoveObject(ctx, s.bucket, ReportKey(jobID), minio.RemoveObjectOptions{})
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
