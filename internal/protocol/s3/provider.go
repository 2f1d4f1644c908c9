package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/NamanBalaji/segdl/internal/errors"
	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/protocol"
)

// API is the subset of the S3 client used by the provider.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Provider serves s3://bucket/key locations.
type Provider struct {
	profile string

	once    sync.Once
	client  API
	initErr error
}

// New returns a provider that loads the AWS configuration on first use. An empty
// profile uses the default credential chain.
func New(profile string) *Provider {
	return &Provider{profile: profile}
}

// NewWithClient returns a provider backed by an existing client.
func NewWithClient(client API) *Provider {
	p := &Provider{client: client}
	p.once.Do(func() {})

	return p
}

func (p *Provider) api(ctx context.Context) (API, error) {
	p.once.Do(func() {
		opts := []func(*config.LoadOptions) error{
			// The downloader owns the retry policy.
			config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
		}
		if p.profile != "" {
			opts = append(opts, config.WithSharedConfigProfile(p.profile))
		}

		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			p.initErr = errors.NewConfigurationError(fmt.Errorf("loading AWS config: %w", err), "s3")
			return
		}

		p.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.DisableLogOutputChecksumValidationSkipped = true
		})
		logger.Debugf("S3 client initialized (profile=%q)", p.profile)
	})

	return p.client, p.initErr
}

// ParseLocation splits an s3:// URL into bucket and key.
func ParseLocation(loc *protocol.ResourceLocation) (string, string, error) {
	bucket := loc.URL.Host
	key := strings.TrimPrefix(loc.URL.Path, "/")

	if bucket == "" || key == "" {
		return "", "", errors.NewConfigurationError(fmt.Errorf("%w: expected s3://bucket/key", errors.ErrInvalidURL), loc.String())
	}

	return bucket, key, nil
}

// RemoteFileInfo issues HeadObject. S3 always serves byte ranges.
func (p *Provider) RemoteFileInfo(ctx context.Context, loc *protocol.ResourceLocation) (protocol.RemoteFileInfo, io.ReadCloser, error) {
	bucket, key, err := ParseLocation(loc)
	if err != nil {
		return protocol.RemoteFileInfo{}, nil, err
	}

	client, err := p.api(ctx)
	if err != nil {
		return protocol.RemoteFileInfo{}, nil, err
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return protocol.RemoteFileInfo{}, nil, classifyError(err, loc.String())
	}

	info := protocol.RemoteFileInfo{
		Size:         aws.ToInt64(head.ContentLength),
		AcceptRanges: true,
		LastModified: aws.ToTime(head.LastModified),
		MimeType:     aws.ToString(head.ContentType),
		Filename:     key[strings.LastIndex(key, "/")+1:],
	}

	return info, nil, nil
}

// OpenStream issues GetObject for [start, end).
func (p *Provider) OpenStream(ctx context.Context, loc *protocol.ResourceLocation, start, end int64) (io.ReadCloser, error) {
	bucket, key, err := ParseLocation(loc)
	if err != nil {
		return nil, err
	}

	client, err := p.api(ctx)
	if err != nil {
		return nil, err
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	switch {
	case end > 0:
		in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1))
	case start > 0:
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", start))
	}

	out, err := client.GetObject(ctx, in)
	if err != nil {
		return nil, classifyError(err, loc.String())
	}

	return out.Body, nil
}

func classifyError(err error, resource string) error {
	if errors.Is(err, context.Canceled) {
		return errors.NewContextError(err, resource)
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return errors.NewProtocolError(err, resource, re.HTTPStatusCode())
	}

	return errors.NewNetworkError(err, resource, true)
}
