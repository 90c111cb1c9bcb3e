package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"listing_tracker/config"
)

// S3Uploader delivers snapshot exports to S3-compatible storage
type S3Uploader struct {
	client *s3.Client
	cfg    config.ExportConfig
}

// NewS3Uploader creates a new S3 uploader. Static credentials are used when
// configured, otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg config.ExportConfig, client *http.Client) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if client != nil {
		opts = append(opts, awsconfig.WithHTTPClient(client))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Client *s3.Client
	if cfg.Endpoint != "" {
		s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		s3Client = s3.NewFromConfig(awsCfg)
	}

	return &S3Uploader{client: s3Client, cfg: cfg}, nil
}

// ExportKey places a file under <prefix>/YYYY/MM/.
func ExportKey(prefix, name string, now time.Time) string {
	return path.Join(strings.Trim(prefix, "/"), now.Format("2006"), now.Format("01"), name)
}

// UploadFile uploads a local export with tracking metadata and returns its URL.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath, source string, now time.Time) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	key := ExportKey(u.cfg.Prefix, filepath.Base(localPath), now)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"created_by":  "listing_tracker",
			"upload_date": now.UTC().Format(time.RFC3339),
			"source":      source,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return u.PublicURL(key), nil
}

// PublicURL returns the public URL for an S3 key
func (u *S3Uploader) PublicURL(key string) string {
	if u.cfg.Endpoint != "" {
		if strings.Contains(u.cfg.Endpoint, "digitaloceanspaces.com") {
			// DO Spaces: https://{bucket}.{region}.digitaloceanspaces.com/{key}
			host := strings.TrimPrefix(u.cfg.Endpoint, "https://")
			return fmt.Sprintf("https://%s.%s/%s", u.cfg.Bucket, host, key)
		}
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(u.cfg.Endpoint, "/"), u.cfg.Bucket, key)
	}
	// AWS S3: https://{bucket}.s3.{region}.amazonaws.com/{key}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
}
