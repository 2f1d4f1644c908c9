package protocol

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// TransportSecurity is the opaque TLS configuration handed to providers that speak TLS.
type TransportSecurity struct {
	SkipVerify bool   `yaml:"skipVerify,omitempty"`
	CAFile     string `yaml:"caFile,omitempty"`
	CADir      string `yaml:"caDir,omitempty"`
	MinVersion string `yaml:"minVersion,omitempty"`
}

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// TLSMinVersion maps MinVersion ("1.2", "tls1.3", ...) to a crypto/tls constant.
// An empty value yields TLS 1.2.
func (t *TransportSecurity) TLSMinVersion() (uint16, error) {
	if t == nil || t.MinVersion == "" {
		return tls.VersionTLS12, nil
	}

	v := strings.TrimPrefix(strings.ToLower(t.MinVersion), "tls")
	v = strings.TrimPrefix(v, "v")

	version, ok := tlsVersions[v]
	if !ok {
		return 0, fmt.Errorf("unknown TLS version %q", t.MinVersion)
	}

	return version, nil
}
