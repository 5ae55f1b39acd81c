package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/jensholdgaard/bazaar/internal/config"
)

// S3 keeps objects in an S3 bucket.
type S3 struct {
	client  s3iface.S3API
	bucket  string
	region  string
	baseURL string
}

// NewS3 builds an S3 store from cfg. Static credentials are used when given,
// otherwise the SDK's default chain applies. A custom endpoint switches to
// path-style addressing for S3-compatible servers.
func NewS3(cfg config.StorageConfig) (*S3, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return NewS3WithClient(s3.New(sess), cfg), nil
}

// NewS3WithClient returns an S3 store that uses client.
func NewS3WithClient(client s3iface.S3API, cfg config.StorageConfig) *S3 {
	return &S3{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to S3: %w", key, err)
	}
	return s.url(key), nil
}

func (s *S3) url(key string) string {
	// A relative base URL is the local default and means nothing for S3.
	if strings.HasPrefix(s.baseURL, "http://") || strings.HasPrefix(s.baseURL, "https://") {
		return s.baseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
