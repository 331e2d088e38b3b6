package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mfenderov/dossier/pkg/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const reportsPrefix = "reports"

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string // "dossier"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Client archives finished reports in S3/MinIO.
type Client struct {
	minioClient *minio.Client
	bucket      string
}

// New creates a new S3/MinIO client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      config.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	err = c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// reportObject returns the object name of a job's archived report file.
// Job IDs are uuids; anything that could escape the prefix is rejected.
func reportObject(jobID, file string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, "/\\") || jobID == "." || jobID == ".." {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return path.Join(reportsPrefix, jobID, file), nil
}

// PutReport writes the report as markdown and as JSON:
//
//	reports/<job_id>/report.md
//	reports/<job_id>/report.json
func (c *Client) PutReport(ctx context.Context, report *models.Report) error {
	mdName, err := reportObject(report.JobID, "report.md")
	if err != nil {
		return err
	}
	jsonName, err := reportObject(report.JobID, "report.json")
	if err != nil {
		return err
	}

	if err := c.put(ctx, mdName, []byte(report.Content), "text/markdown"); err != nil {
		return fmt.Errorf("failed to put report markdown: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := c.put(ctx, jsonName, data, "application/json"); err != nil {
		return fmt.Errorf("failed to put report json: %w", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, objectName string, data []byte, contentType string) error {
	_, err := c.minioClient.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// GetReport reads an archived report.
func (c *Client) GetReport(ctx context.Context, jobID string) (*models.Report, error) {
	objectName, err := reportObject(jobID, "report.json")
	if err != nil {
		return nil, err
	}

	object, err := c.minioClient.GetObject(ctx, c.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// ListReports returns the job IDs of all archived reports.
func (c *Client) ListReports(ctx context.Context) ([]string, error) {
	var ids []string

	objectCh := c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    reportsPrefix + "/",
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		if path.Base(object.Key) == "report.json" {
			ids = append(ids, path.Base(path.Dir(object.Key)))
		}
	}

	return ids, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
