package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/textdesk/textdesk/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ErrNotConfigured indicates media storage is disabled (no bucket set).
var ErrNotConfigured = errors.New("media: store not configured")

// Store keeps MMS attachments in S3. Messages reference objects by key;
// the objects themselves are owned here, not by the message store.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates a media Store. If bucket is empty, all operations return
// ErrNotConfigured and inbound images are dropped.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if media storage is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// SaveImage stores image bytes and returns the reference key.
func (s *Store) SaveImage(ctx context.Context, data []byte, mediaType string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	if len(data) == 0 {
		return "", errors.New("media: empty image payload")
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("media/%d/%02d/%02d/%s%s",
		now.Year(), now.Month(), now.Day(), uuid.NewString(), extensionFor(mediaType))

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mediaType),
	})
	if err != nil {
		return "", fmt.Errorf("media: s3 put %s: %w", key, err)
	}

	s.logger.Debug("stored inbound image", "key", key, "bytes", len(data))
	return key, nil
}

// ReadImage fetches image bytes and content type by reference key.
func (s *Store) ReadImage(ctx context.Context, key string) ([]byte, string, error) {
	if !s.Enabled() {
		return nil, "", ErrNotConfigured
	}
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("media: s3 get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("media: read %s: %w", key, err)
	}
	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = mediaTypeFor(key)
	}
	return data, contentType, nil
}

// DeleteImage removes an object by reference key.
func (s *Store) DeleteImage(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("media: s3 delete %s: %w", key, err)
	}
	return nil
}

func extensionFor(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func mediaTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".gif"):
		return "image/gif"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
