package source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	kgraph "github.com/kgraph-ai/kgraph"
)

// S3API is the slice of the S3 client the source needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source fetches documents from an S3 bucket. The descriptor location is
// the object key.
type S3Source struct {
	client S3API
	bucket string
}

// S3Options configuration for the S3 source.
type S3Options struct {
	Bucket string
	Region string
	// Client overrides the AWS SDK client, used in tests.
	Client S3API
}

// NewS3Source creates an S3 source for the configured bucket.
func NewS3Source(ctx context.Context, opts S3Options) (*S3Source, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	client := opts.Client
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
	}

	return &S3Source{client: client, bucket: opts.Bucket}, nil
}

// Fetch downloads the object named by the descriptor location.
func (s *S3Source) Fetch(ctx context.Context, desc Descriptor) (*kgraph.FetchedDocument, error) {
	format, err := inferFormat(desc)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(desc.Location),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, desc.Location, err)
	}

	rawRef := fmt.Sprintf("s3://%s/%s", s.bucket, desc.Location)
	return &kgraph.FetchedDocument{
		Document: newDocument(desc, format, rawRef),
		Body:     out.Body,
	}, nil
}
