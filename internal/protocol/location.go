package protocol

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/NamanBalaji/segdl/internal/errors"
)

// ResourceLocation identifies a fetchable resource. Locations are immutable and
// are compared by pointer identity: two locations with the same URL are distinct
// mirror entries unless they are the same instance.
type ResourceLocation struct {
	URL             *url.URL
	Username        string
	Password        string
	Authenticate    bool
	Transport       *TransportSecurity
	ProtocolVersion string
}

// LocationOption customizes a ResourceLocation at construction.
type LocationOption func(*ResourceLocation)

// WithCredentials attaches credentials to the location.
func WithCredentials(username, password string) LocationOption {
	return func(l *ResourceLocation) {
		l.Username = username
		l.Password = password
		l.Authenticate = true
	}
}

// WithTransport overrides the transport security settings for this location only.
func WithTransport(ts *TransportSecurity) LocationOption {
	return func(l *ResourceLocation) {
		l.Transport = ts
	}
}

// WithProtocolVersion overrides the protocol version (e.g. "1.1", "2.0") for this location only.
func WithProtocolVersion(version string) LocationOption {
	return func(l *ResourceLocation) {
		l.ProtocolVersion = version
	}
}

// NewLocation parses rawURL into a ResourceLocation.
func NewLocation(rawURL string, opts ...LocationOption) (*ResourceLocation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidURL, err)
	}

	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme in %q", errors.ErrInvalidURL, rawURL)
	}

	loc := &ResourceLocation{URL: u}
	for _, opt := range opts {
		opt(loc)
	}

	return loc, nil
}

// MustLocation is like NewLocation but panics on error. Intended for tests and constants.
func MustLocation(rawURL string, opts ...LocationOption) *ResourceLocation {
	loc, err := NewLocation(rawURL, opts...)
	if err != nil {
		panic(err)
	}

	return loc
}

// Scheme returns the lower-cased URL scheme.
func (l *ResourceLocation) Scheme() string {
	return strings.ToLower(l.URL.Scheme)
}

// String returns the URL without credentials.
func (l *ResourceLocation) String() string {
	return l.URL.Redacted()
}

// RemoteFileInfo is the metadata snapshot produced by a successful preflight.
type RemoteFileInfo struct {
	Size         int64
	AcceptRanges bool
	LastModified time.Time
	MimeType     string
	NeedsAuth    bool
	// Filename is the name suggested by the remote, if any.
	Filename string
}

// SameContent reports whether other describes the same content. Only the size and
// range support are compared.
func (i RemoteFileInfo) SameContent(other RemoteFileInfo) bool {
	return i.Size == other.Size && i.AcceptRanges == other.AcceptRanges
}

// NewLocationWithCredentials parses rawURL and attaches basic credentials.
func NewLocationWithCredentials(rawURL, username, password string, opts ...LocationOption) (*ResourceLocation, error) {
	return NewLocation(rawURL, append([]LocationOption{WithCredentials(username, password)}, opts...)...)
}
