package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Options configure report uploads.
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies generated report files to an S3 bucket.
type Uploader struct {
	client objectPutter
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewUploader loads the default AWS credential chain and builds an uploader.
func NewUploader(ctx context.Context, opts S3Options, logger zerolog.Logger) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newUploader(client, opts, logger), nil
}

func newUploader(client objectPutter, opts S3Options, logger zerolog.Logger) *Uploader {
	return &Uploader{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: logger.With().Str("component", "s3_uploader").Logger(),
	}
}

// Key returns the object key for a local file in the given run.
func (u *Uploader) Key(runID, file string) string {
	return path.Join(u.prefix, runID, filepath.Base(file))
}

// Upload puts the file at localPath under <prefix>/<runID>/<name>.
func (u *Uploader) Upload(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := u.Key(runID, localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}

	u.logger.Info().Str("bucket", u.bucket).Str("key", key).Msg("report uploaded")
	return key, nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
