package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/logging"
	sc "github.com/dmitrijs2005/authsession/internal/server/config"
	"github.com/dmitrijs2005/authsession/internal/server/repositories/refreshtokens"
	"github.com/google/uuid"
)

// S3 entry points are package variables so tests can replace them.
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	headBucket = func(c *s3.Client, ctx context.Context, in *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
		return c.HeadBucket(ctx, in)
	}
	createBucket = func(c *s3.Client, ctx context.Context, in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
		return c.CreateBucket(ctx, in)
	}
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// ExportService writes JSON snapshots of a user's sessions to object storage
// and hands out presigned download links.
type ExportService struct {
	sessions refreshtokens.Repository
	config   *sc.Config
	log      logging.Logger
	now      func() time.Time
}

func NewExportService(sessions refreshtokens.Repository, config *sc.Config, log logging.Logger) *ExportService {
	return &ExportService{
		sessions: sessions,
		config:   config,
		log:      log.With("module", "export"),
		now:      time.Now,
	}
}

// Enabled reports whether a bucket is configured.
func (s *ExportService) Enabled() bool {
	return s.config.S3Bucket != ""
}

// ExportKey builds the object key for an export made at t.
func ExportKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("exports/%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), uuid.New())
}

func (s *ExportService) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.config.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// InitBucket creates the export bucket if it does not exist yet. It is run
// once at startup; with no bucket configured it does nothing.
func (s *ExportService) InitBucket(ctx context.Context) error {
	if !s.Enabled() {
		s.log.Info(ctx, "session export disabled, no bucket configured")
		return nil
	}

	client, err := s.getClient(ctx)
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}

	bucket := s.config.S3Bucket
	_, err = headBucket(client, ctx, &s3.HeadBucketInput{Bucket: &bucket})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("head bucket %s: %w", bucket, err)
	}

	_, err = createBucket(client, ctx, &s3.CreateBucketInput{Bucket: &bucket})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	s.log.Info(ctx, "bucket created", "bucket", bucket)
	return nil
}

type exportedSession struct {
	TokenPrefix string    `json:"tokenPrefix"`
	DeviceInfo  *string   `json:"deviceInfo,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
	TTL         int64     `json:"ttl"`
}

type exportDocument struct {
	UserID     int64             `json:"userId"`
	ExportedAt time.Time         `json:"exportedAt"`
	Sessions   []exportedSession `json:"sessions"`
}

// tokenPrefix keeps enough of a token to recognise it without making the
// export usable as a credential.
func tokenPrefix(token string) string {
	const n = 8
	if len(token) <= n {
		return token
	}
	return token[:n]
}

// ExportSessions uploads the user's live sessions and returns a presigned
// GET URL for the object together with its key.
func (s *ExportService) ExportSessions(ctx context.Context, userID int64) (string, string, error) {
	if !s.Enabled() {
		return "", "", common.ErrorDisabled
	}

	list, err := s.sessions.FindByUserID(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("error listing sessions: %w", err)
	}

	now := s.now().UTC()
	doc := exportDocument{UserID: userID, ExportedAt: now, Sessions: make([]exportedSession, 0, len(list))}
	for _, rec := range list {
		doc.Sessions = append(doc.Sessions, exportedSession{
			TokenPrefix: tokenPrefix(rec.Token),
			DeviceInfo:  rec.DeviceInfo,
			CreatedAt:   rec.CreatedAt,
			LastUsedAt:  rec.LastUsedAt,
			TTL:         rec.TTL,
		})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("encode export: %w", err)
	}

	client, err := s.getClient(ctx)
	if err != nil {
		return "", "", err
	}

	bucket := s.config.S3Bucket
	key := ExportKey(now)
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", "", fmt.Errorf("upload export: %w", err)
	}

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.config.ExportLinkTTL))
	if err != nil {
		return "", "", fmt.Errorf("presign export: %w", err)
	}

	s.log.Info(ctx, "sessions exported", "user_id", userID, "key", key, "count", len(doc.Sessions))
	return req.URL, key, nil
}
