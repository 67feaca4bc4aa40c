package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/newthinker/tradeflow/internal/core"
)

// S3Config holds S3 connection configuration
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// objectAPI is the subset of the S3 client the archive uses.
type objectAPI interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Bucket keeps archive files as objects under an optional key prefix.
// Parquet candle files and JSON reports are tagged with their content
// type so other tools can read the bucket directly.
type Bucket struct {
	api    objectAPI
	name   string
	prefix string
}

// NewS3 connects to an S3 bucket. A custom endpoint switches to
// path-style addressing, which MinIO and most compatible stores need.
func NewS3(cfg S3Config) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, core.Errorf(core.ErrConfigMissing, "s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return newBucket(s3.New(opts), cfg.Bucket, cfg.Prefix), nil
}

func newBucket(api objectAPI, name, prefix string) *Bucket {
	return &Bucket{api: api, name: name, prefix: strings.Trim(prefix, "/")}
}

func (b *Bucket) key(p string) string {
	if b.prefix == "" {
		return p
	}
	return b.prefix + "/" + p
}

// rel strips the bucket prefix from an object key.
func (b *Bucket) rel(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, b.prefix+"/")
}

func contentType(p string) string {
	switch path.Ext(p) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func (b *Bucket) Write(ctx context.Context, p string, data []byte) error {
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(b.key(p)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(p)),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", p, err)
	}
	return nil
}

func (b *Bucket) Read(ctx context.Context, p string) ([]byte, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.Errorf(core.ErrNotFound, "archive object %s", p)
		}
		return nil, fmt.Errorf("s3 get %s: %w", p, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// List returns the archive paths under prefix. Directory markers some
// tools create are skipped.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	pages := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(b.key(prefix)),
	})

	var paths []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			paths = append(paths, b.rel(key))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (b *Bucket) Delete(ctx context.Context, p string) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", p, err)
	}
	return nil
}

func (b *Bucket) Exists(ctx context.Context, p string) (bool, error) {
	_, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(b.key(p)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head %s: %w", p, err)
}
