package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"progression-gate/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the subset of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// IconUploader stores badge icons in Cloudflare R2 and hands back CDN URLs.
type IconUploader struct {
	Client     ObjectPutter
	Bucket     string
	CDNBaseURL string
}

func NewIconUploader(ctx context.Context, cfg config.R2Config) (*IconUploader, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	cdn := cfg.CDNBaseURL
	if cdn == "" {
		cdn = endpoint
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &IconUploader{Client: client, Bucket: cfg.Bucket, CDNBaseURL: strings.TrimRight(cdn, "/")}, nil
}

// Upload writes body under key and returns the public URL.
func (u *IconUploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("%s/%s", u.CDNBaseURL, key), nil
}
