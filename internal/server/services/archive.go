package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/config"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/accesslogs"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
)

// ArchiveResult describes one uploaded audit export.
type ArchiveResult struct {
	Bucket  string
	Key     string
	Entries int
}

// AuditArchiver exports access log entries as JSON Lines to object storage.
type AuditArchiver struct {
	audit  *Auditor
	config *config.Config
	logger logging.Logger
}

func NewAuditArchiver(audit *Auditor, cfg *config.Config, logger logging.Logger) *AuditArchiver {
	return &AuditArchiver{audit: audit, config: cfg, logger: logger.With("module", "archive")}
}

// ArchiveKey builds the object key of an export started at t.
func ArchiveKey(prefix, namespaceID string, t time.Time) string {
	return path.Join(prefix, namespaceID,
		fmt.Sprintf("%04d/%02d/%02d", t.Year(), t.Month(), t.Day()),
		uuid.NewString()+".jsonl")
}

func (a *AuditArchiver) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(a.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.config.S3RootUser,
			a.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(a.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Export uploads every entry of namespaceID matching filter, oldest first.
// Limit and Offset of filter are ignored; the export pages through all rows.
func (a *AuditArchiver) Export(ctx context.Context, namespaceID, userID string, filter models.AccessLogFilter) (*ArchiveResult, error) {
	res, err := a.export(ctx, namespaceID, filter)

	e := &models.AccessLogEntry{NamespaceID: namespaceID, UserID: userID, Action: models.ActionAuditExport}
	if res != nil {
		e.ActionDetail = strPtr(res.Key)
		e.Metadata = map[string]string{"entries": fmt.Sprint(res.Entries)}
	}
	_ = a.audit.Record(ctx, e, err)
	if err != nil {
		return nil, err
	}

	a.logger.Info(ctx, "audit log exported", "namespace_id", namespaceID, "key", res.Key, "entries", res.Entries)
	return res, nil
}

func (a *AuditArchiver) export(ctx context.Context, namespaceID string, filter models.AccessLogFilter) (*ArchiveResult, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	count := 0
	filter.Limit = accesslogs.MaxListLimit
	filter.Offset = 0
	for {
		page, err := a.audit.List(ctx, namespaceID, filter)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if err := enc.Encode(e); err != nil {
				return nil, err
			}
		}
		count += len(page)
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	bucket := a.config.S3Bucket
	key := ArchiveKey(a.config.AuditArchivePrefix, namespaceID, clock())
	_, err = putObject(c, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload audit export: %w", err)
	}

	return &ArchiveResult{Bucket: bucket, Key: key, Entries: count}, nil
}
