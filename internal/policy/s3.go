package policy

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/ehrconnect/authz/internal/config"
)

const maxPolicySize = 4 << 20

// ObjectGetter is the subset of the S3 client the source uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the document from an S3 or S3-compatible object.
type S3Source struct {
	client ObjectGetter
	bucket string
	key    string
}

// NewS3Source builds an S3 client from cfg. Static keys take precedence;
// otherwise an assume-role ARN is used on top of the default credential chain.
func NewS3Source(ctx context.Context, cfg config.PolicyConfig) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}

	switch {
	case cfg.AccessKeyID != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case cfg.AssumeRoleARN != "":
		base, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), cfg.AssumeRoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				if cfg.ExternalID != "" {
					o.ExternalID = aws.String(cfg.ExternalID)
				}
			})
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(provider)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3SourceWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.S3Bucket, cfg.S3Key), nil
}

// NewS3SourceWithClient wires an existing client.
func NewS3SourceWithClient(client ObjectGetter, bucket, key string) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key}
}

// Load implements Source.
func (s *S3Source) Load(ctx context.Context) (*Document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxPolicySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, s.key, err)
	}
	if len(data) > maxPolicySize {
		return nil, fmt.Errorf("policy object exceeds %d bytes", maxPolicySize)
	}
	return Parse(data)
}

// NewSource picks the source named by cfg.
func NewSource(ctx context.Context, cfg config.PolicyConfig) (Source, error) {
	switch cfg.Source {
	case config.PolicySourceFile:
		return FileSource{Path: cfg.Path}, nil
	case config.PolicySourceS3:
		return NewS3Source(ctx, cfg)
	case config.PolicySourceGit:
		return NewGitSource(cfg), nil
	default:
		return EmbeddedSource{}, nil
	}
}
