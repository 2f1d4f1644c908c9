package factory

import (
	"github.com/NamanBalaji/segdl/internal/protocol"
	blobProvider "github.com/NamanBalaji/segdl/internal/protocol/blob"
	httpProvider "github.com/NamanBalaji/segdl/internal/protocol/http"
	s3Provider "github.com/NamanBalaji/segdl/internal/protocol/s3"
)

// Options configures the built-in providers.
type Options struct {
	HTTP httpProvider.Config

	// S3Profile selects a shared AWS config profile; empty uses the default chain.
	S3Profile string
}

// Providers is a registry preloaded with every built-in provider.
type Providers struct {
	*protocol.Registry
	Blob *blobProvider.Provider
}

// NewDefault registers http, https, s3, file and mem. The HTTP provider is built
// eagerly so TLS misconfiguration surfaces here; the S3 client loads lazily.
func NewDefault(opts Options) (*Providers, error) {
	httpP, err := httpProvider.New(opts.HTTP)
	if err != nil {
		return nil, err
	}

	blobP := blobProvider.New()

	reg := protocol.NewRegistry().
		RegisterProvider("http", httpP).
		RegisterProvider("https", httpP).
		Register("s3", func(string) (protocol.Provider, error) {
			return s3Provider.New(opts.S3Profile), nil
		}).
		RegisterProvider("file", blobP).
		RegisterProvider("mem", blobP)

	return &Providers{Registry: reg, Blob: blobP}, nil
}

// Close releases buckets opened by the blob provider.
func (p *Providers) Close() error {
	return p.Blob.Close()
}
