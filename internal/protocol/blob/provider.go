package blob

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/NamanBalaji/segdl/internal/errors"
	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/protocol"
)

// Provider serves file:// and mem:// locations through gocloud.dev/blob.
//
// A file:///dir/name location opens the bucket file:///dir and reads key name.
// A mem://bucket/key location reads key from the bucket mounted as mem://bucket.
type Provider struct {
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
	owned   []*blob.Bucket
}

func New() *Provider {
	return &Provider{buckets: make(map[string]*blob.Bucket)}
}

// Mount binds an already opened bucket to a bucket URL such as "mem://fixtures".
// Mounted buckets are not closed by Close.
func (p *Provider) Mount(bucketURL string, b *blob.Bucket) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buckets[bucketURL] = b
}

// Close releases buckets opened by the provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, b := range p.owned {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.owned = nil

	return errors.Join(errs...)
}

func split(loc *protocol.ResourceLocation) (string, string, error) {
	switch loc.Scheme() {
	case "file":
		p := loc.URL.Path
		if p == "" || strings.HasSuffix(p, "/") {
			return "", "", errors.NewConfigurationError(errors.ErrInvalidURL, loc.String())
		}
		return "file://" + path.Dir(p), path.Base(p), nil
	case "mem":
		key := strings.TrimPrefix(loc.URL.Path, "/")
		if key == "" {
			return "", "", errors.NewConfigurationError(errors.ErrInvalidURL, loc.String())
		}
		return "mem://" + loc.URL.Host, key, nil
	default:
		return "", "", errors.NewConfigurationError(errors.ErrUnsupportedScheme, loc.String())
	}
}

func (p *Provider) bucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.buckets[bucketURL]; ok {
		return b, nil
	}

	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errors.NewConfigurationError(err, bucketURL)
	}

	logger.Debugf("Opened bucket %s", bucketURL)

	p.buckets[bucketURL] = b
	p.owned = append(p.owned, b)

	return b, nil
}

// RemoteFileInfo reads the blob attributes. Blobs always support ranged reads.
func (p *Provider) RemoteFileInfo(ctx context.Context, loc *protocol.ResourceLocation) (protocol.RemoteFileInfo, io.ReadCloser, error) {
	bucketURL, key, err := split(loc)
	if err != nil {
		return protocol.RemoteFileInfo{}, nil, err
	}

	b, err := p.bucket(ctx, bucketURL)
	if err != nil {
		return protocol.RemoteFileInfo{}, nil, err
	}

	attrs, err := b.Attributes(ctx, key)
	if err != nil {
		return protocol.RemoteFileInfo{}, nil, classifyError(err, loc.String())
	}

	return protocol.RemoteFileInfo{
		Size:         attrs.Size,
		AcceptRanges: true,
		LastModified: attrs.ModTime,
		MimeType:     attrs.ContentType,
		Filename:     path.Base(key),
	}, nil, nil
}

// OpenStream opens a range reader over [start, end).
func (p *Provider) OpenStream(ctx context.Context, loc *protocol.ResourceLocation, start, end int64) (io.ReadCloser, error) {
	bucketURL, key, err := split(loc)
	if err != nil {
		return nil, err
	}

	b, err := p.bucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}

	length := int64(-1)
	if end > 0 {
		length = end - start
	}

	r, err := b.NewRangeReader(ctx, key, start, length, nil)
	if err != nil {
		return nil, classifyError(err, loc.String())
	}

	return r, nil
}

func classifyError(err error, resource string) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return errors.NewProtocolError(err, resource, http.StatusNotFound)
	case gcerrors.PermissionDenied:
		return errors.NewProtocolError(err, resource, http.StatusForbidden)
	case gcerrors.Canceled:
		return errors.NewContextError(err, resource)
	default:
		return errors.NewIOError(err, resource)
	}
}
