package protocol

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/NamanBalaji/segdl/internal/errors"
)

// Provider resolves remote metadata and opens byte-range streams for a location.
// Implementations do not retry; the caller applies its own retry policy.
type Provider interface {
	// RemoteFileInfo runs the protocol preflight. It may also return a stream
	// positioned at offset 0 so the first segment can skip a round trip; the
	// stream is nil otherwise.
	RemoteFileInfo(ctx context.Context, loc *ResourceLocation) (RemoteFileInfo, io.ReadCloser, error)

	// OpenStream opens a read of [start, end). An end of 0 reads to the end of the resource.
	OpenStream(ctx context.Context, loc *ResourceLocation, start, end int64) (io.ReadCloser, error)
}

// Factory resolves the provider responsible for a location.
type Factory interface {
	Create(loc *ResourceLocation) (Provider, error)
}

// Builder constructs a provider for a scheme.
type Builder func(scheme string) (Provider, error)

// Registry is a Factory keyed by URL scheme. Providers are built once per scheme and reused.
type Registry struct {
	mu        sync.RWMutex
	builders  map[string]Builder
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		builders:  make(map[string]Builder),
		providers: make(map[string]Provider),
	}
}

// Register binds a builder to a scheme, replacing any existing one.
func (r *Registry) Register(scheme string, builder Builder) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.builders[scheme] = builder
	delete(r.providers, scheme)

	return r
}

// RegisterProvider binds a ready provider instance to a scheme.
func (r *Registry) RegisterProvider(scheme string, p Provider) *Registry {
	return r.Register(scheme, func(string) (Provider, error) { return p, nil })
}

// Schemes lists the registered schemes.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.builders))
	for s := range r.builders {
		schemes = append(schemes, s)
	}

	return schemes
}

// Create returns the provider for loc's scheme or a configuration error wrapping
// errors.ErrUnsupportedScheme.
func (r *Registry) Create(loc *ResourceLocation) (Provider, error) {
	if loc == nil || loc.URL == nil {
		return nil, errors.NewConfigurationError(errors.ErrInvalidURL, "")
	}

	scheme := loc.Scheme()

	r.mu.RLock()
	p, ok := r.providers[scheme]
	builder, registered := r.builders[scheme]
	r.mu.RUnlock()

	if ok {
		return p, nil
	}

	if !registered {
		return nil, errors.NewConfigurationError(
			fmt.Errorf("%w: %q", errors.ErrUnsupportedScheme, scheme), loc.String())
	}

	p, err := builder(scheme)
	if err != nil {
		return nil, errors.NewConfigurationError(fmt.Errorf("building %s provider: %w", scheme, err), loc.String())
	}

	r.mu.Lock()
	if existing, ok := r.providers[scheme]; ok {
		p = existing
	} else {
		r.providers[scheme] = p
	}
	r.mu.Unlock()

	return p, nil
}
