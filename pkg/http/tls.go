package http

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TLSOptions describes how server certificates are verified.
type TLSOptions struct {
	SkipVerify bool
	CAFile     string
	CADir      string
	MinVersion uint16
}

func (o *TLSOptions) config() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if o == nil {
		return cfg, nil
	}

	if o.MinVersion != 0 {
		cfg.MinVersion = o.MinVersion
	}

	//nolint:gosec // explicitly requested by the user
	cfg.InsecureSkipVerify = o.SkipVerify

	if o.CAFile == "" && o.CADir == "" {
		return cfg, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if o.CAFile != "" {
		if err := appendCertFile(pool, o.CAFile); err != nil {
			return nil, err
		}
	}

	if o.CADir != "" {
		entries, err := os.ReadDir(o.CADir)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA directory: %w", ErrTLSConfig, err)
		}

		loaded := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".pem", ".crt", ".cer":
			default:
				continue
			}

			if err := appendCertFile(pool, filepath.Join(o.CADir, entry.Name())); err != nil {
				return nil, err
			}
			loaded++
		}

		if loaded == 0 {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrTLSConfig, o.CADir)
		}
	}

	cfg.RootCAs = pool

	return cfg, nil
}

func appendCertFile(pool *x509.CertPool, path string) error {
	pem, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading CA file: %w", ErrTLSConfig, err)
	}

	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("%w: no PEM certificates in %s", ErrTLSConfig, path)
	}

	return nil
}

// ParseProtocolVersion accepts "1.1", "2", "2.0", "HTTP/1.1", "http/2" and returns
// the major and minor version.
func ParseProtocolVersion(v string) (int, int, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	s = strings.TrimPrefix(s, "http/")

	if s == "" {
		return 0, 0, fmt.Errorf("empty protocol version")
	}

	majorStr, minorStr, hasMinor := strings.Cut(s, ".")

	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid protocol version %q", v)
	}

	minor := 0
	if hasMinor {
		minor, err = strconv.Atoi(minorStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid protocol version %q", v)
		}
	}

	switch {
	case major == 1 && (minor == 0 || minor == 1):
	case major == 2 && minor == 0:
	default:
		return 0, 0, fmt.Errorf("unsupported protocol version %q", v)
	}

	return major, minor, nil
}
