// Package archive offloads long assistant messages to S3-compatible object
// storage. The message row keeps a preview and the object key.
package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

// PreviewRunes is how much of an offloaded message stays in the database.
const PreviewRunes = 280

// ObjectStore is the subset of *s3.Client the archive uses.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Config struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	Bucket       string
	// Threshold is the content length in bytes above which messages are
	// offloaded. Zero disables the archive.
	Threshold int
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type Archive struct {
	store     ObjectStore
	bucket    string
	threshold int
	log       logging.Logger
}

// New builds an archive backed by S3 or MinIO. It returns nil when the
// threshold disables archiving; a nil *Archive never offloads.
func New(ctx context.Context, cfg Config, log logging.Logger) (*Archive, error) {
	if cfg.Threshold <= 0 {
		return nil, nil
	}
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithStore(client, cfg.Bucket, cfg.Threshold, log), nil
}

func NewWithStore(store ObjectStore, bucket string, threshold int, log logging.Logger) *Archive {
	return &Archive{store: store, bucket: bucket, threshold: threshold, log: log.With("module", "archive")}
}

// Key is the object key of a message.
func Key(m *models.Message) string {
	return fmt.Sprintf("conversations/%s/%s.md", m.ConversationID, m.ID)
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == PreviewRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// Offload uploads m's content when it is longer than the threshold and
// rewrites m to hold a preview and the storage key. Short messages are left
// untouched.
func (a *Archive) Offload(ctx context.Context, m *models.Message) error {
	if a == nil || len(m.Content) <= a.threshold {
		return nil
	}
	key := Key(m)
	_, err := a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(m.Content),
		ContentType: aws.String("text/markdown; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	a.log.Debug(ctx, "message archived", "key", key, "bytes", len(m.Content))
	m.StorageKey = key
	m.Content = preview(m.Content)
	return nil
}

// Fetch returns the full content stored under key.
func (a *Archive) Fetch(ctx context.Context, key string) (string, error) {
	if a == nil {
		return "", fmt.Errorf("archive disabled")
	}
	out, err := a.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", key, err)
	}
	return string(b), nil
}

// Remove deletes the object stored under key.
func (a *Archive) Remove(ctx context.Context, key string) error {
	if a == nil {
		return nil
	}
	_, err := a.store.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
