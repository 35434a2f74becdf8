package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// S3ProviderConfig holds configuration for S3Provider.
type S3ProviderConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// S3Provider reads an S3 (or S3-compatible) bucket as a source tree:
// prefixes are containers, objects are items. S3 has no server-side
// modified-time query, so the incremental cutoff is applied client-side
// per page.
type S3Provider struct {
	client *s3.Client
	bucket string
}

// NewS3Provider creates an S3-backed source provider.
func NewS3Provider(ctx context.Context, cfg S3ProviderConfig) (*S3Provider, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if cfg.Endpoint != "" {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		},
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Provider{client: client, bucket: cfg.Bucket}, nil
}

// NewS3ProviderWithClient wraps an existing S3 client, for tests.
func NewS3ProviderWithClient(client *s3.Client, bucket string) *S3Provider {
	return &S3Provider{client: client, bucket: bucket}
}

func (p *S3Provider) Origin() string { return "s3" }

// CompileFilter normalizes the container id to a trailing-slash prefix.
func (p *S3Provider) CompileFilter(containerID string, modifiedAfter *time.Time) Filter {
	prefix := containerID
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return Filter{ContainerID: containerID, ModifiedAfter: modifiedAfter, Query: prefix}
}

func (p *S3Provider) List(ctx context.Context, filter Filter, pageToken string) (*Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(filter.Query),
		Delimiter: aws.String("/"),
	}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}

	resp, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, domain.NewTransientError("s3 list failed", err)
	}

	page := &Page{}
	if resp.NextContinuationToken != nil {
		page.NextToken = *resp.NextContinuationToken
	}

	for _, cp := range resp.CommonPrefixes {
		if cp.Prefix == nil {
			continue
		}
		prefix := strings.TrimSuffix(*cp.Prefix, "/")
		page.Items = append(page.Items, Item{
			ID:   prefix,
			Name: path.Base(prefix),
			Path: prefix,
			Kind: KindContainer,
		})
	}

	for _, obj := range resp.Contents {
		if obj.Key == nil || *obj.Key == filter.Query {
			continue
		}
		item := Item{
			ID:   *obj.Key,
			Name: path.Base(*obj.Key),
			Path: *obj.Key,
			Kind: fsKind(*obj.Key),
		}
		if obj.LastModified != nil {
			item.ModifiedAt = obj.LastModified.UTC()
		}
		if obj.Size != nil {
			item.Size = *obj.Size
		}
		if filter.ModifiedAfter != nil && !item.ModifiedAt.After(*filter.ModifiedAfter) {
			continue
		}
		page.Items = append(page.Items, item)
	}

	return page, nil
}

func (p *S3Provider) FetchText(ctx context.Context, item Item) (string, error) {
	resp, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(item.ID),
	})
	if err != nil {
		return "", domain.NewTransientError("s3 get failed", err)
	}
	defer resp.Body.Close()
	return readLimited(resp.Body)
}

func (p *S3Provider) Download(ctx context.Context, item Item, dir string) (string, error) {
	resp, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(item.ID),
	})
	if err != nil {
		return "", domain.NewTransientError("s3 get failed", err)
	}
	defer resp.Body.Close()

	dest := filepath.Join(dir, path.Base(item.ID))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(dest)
		return "", domain.NewTransientError("media download interrupted", err)
	}
	return dest, nil
}

func (p *S3Provider) ContainerName(_ context.Context, containerID string) (string, error) {
	if containerID == "" {
		return p.bucket, nil
	}
	return path.Base(strings.TrimSuffix(containerID, "/")), nil
}
