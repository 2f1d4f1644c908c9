package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/adrg/xdg"

	cfg "github.com/NamanBalaji/segdl/internal/config"
)

func withTempConfigHome(t *testing.T) (restore func(), file string) {
	t.Helper()
	orig := xdg.ConfigHome
	xdg.ConfigHome = t.TempDir()
	restore = func() { xdg.ConfigHome = orig }
	file = cfg.Path()
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	return
}

func TestGetConfig_Table(t *testing.T) {
	restore, cfgFile := withTempConfigHome(t)
	defer restore()

	def := cfg.DefaultConfig()

	tests := []struct {
		name      string
		preWrite  bool
		contents  string
		expectErr bool
		check     func(t *testing.T, got *cfg.Config, def cfg.Config)
	}{
		{
			name:     "missing_file_returns_defaults",
			preWrite: false,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:     "empty_file_returns_defaults",
			preWrite: true,
			contents: "",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:      "invalid_yaml_returns_error",
			preWrite:  true,
			contents:  ": not yaml",
			expectErr: true,
			check:     func(t *testing.T, _ *cfg.Config, _ cfg.Config) {},
		},
		{
			name:     "no_http_section_uses_defaults_for_nested",
			preWrite: true,
			contents: "maxConcurrentDownloads: 1\n",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.MaxConcurrentDownloads != 1 {
					t.Fatalf("maxConcurrentDownloads not applied, got %d", got.MaxConcurrentDownloads)
				}
				if !reflect.DeepEqual(*got.Http, *def.Http) {
					t.Fatalf("http defaults not applied\nwant: %#v\ngot:  %#v", *def.Http, *got.Http)
				}
			},
		},
		{
			name:     "partial_override_and_fallback",
			preWrite: true,
			contents: `
segments: 3
retryDelay: 3s
bandwidthLimit: 1048576
s3Profile: backups
http:
  protocolVersion: "2.0"
  readTimeout: 45s
  tls:
    skipVerify: true
    caDir: /etc/ssl/extra
`,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.Segments != 3 {
					t.Fatalf("want segments=3 got %d", got.Segments)
				}
				if got.RetryDelay != 3*time.Second {
					t.Fatalf("want retryDelay=3s got %s", got.RetryDelay)
				}
				if got.BandwidthLimit != 1<<20 {
					t.Fatalf("want bandwidthLimit=1MiB got %d", got.BandwidthLimit)
				}
				if got.S3Profile != "backups" {
					t.Fatalf("want s3Profile=backups got %q", got.S3Profile)
				}
				if got.MaxRetries != def.MaxRetries {
					t.Fatalf("want maxRetries default %d got %d", def.MaxRetries, got.MaxRetries)
				}
				if got.SplitThreshold != def.SplitThreshold {
					t.Fatalf("want splitThreshold default %s got %s", def.SplitThreshold, got.SplitThreshold)
				}
				if got.DownloadDir != def.DownloadDir {
					t.Fatalf("want downloadDir default %q got %q", def.DownloadDir, got.DownloadDir)
				}
				if got.Http.ProtocolVersion != "2.0" {
					t.Fatalf("want http.protocolVersion=2.0 got %q", got.Http.ProtocolVersion)
				}
				if got.Http.ConnectTimeout != def.Http.ConnectTimeout {
					t.Fatalf("want http.connectTimeout default %s got %s", def.Http.ConnectTimeout, got.Http.ConnectTimeout)
				}
				if got.Http.ReadTimeout != 45*time.Second {
					t.Fatalf("want http.readTimeout=45s got %s", got.Http.ReadTimeout)
				}
				if got.Http.UserAgent != def.Http.UserAgent {
					t.Fatalf("want http.userAgent default %q got %q", def.Http.UserAgent, got.Http.UserAgent)
				}
				if !got.Http.TLS.SkipVerify || got.Http.TLS.CADir != "/etc/ssl/extra" {
					t.Fatalf("tls overrides not applied: %#v", *got.Http.TLS)
				}
				if got.Http.TLS.MinVersion != def.Http.TLS.MinVersion {
					t.Fatalf("want tls.minVersion default %q got %q", def.Http.TLS.MinVersion, got.Http.TLS.MinVersion)
				}
			},
		},
		{
			name:     "explicit_zero_values_fall_back_to_defaults",
			preWrite: true,
			contents: `
segments: 0
downloadDir: ""
retryDelay: 0s
workerBudget: 0
http:
  userAgent: ""
`,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.Segments != def.Segments {
					t.Fatalf("segments zero should fallback. want %d got %d", def.Segments, got.Segments)
				}
				if got.DownloadDir != def.DownloadDir {
					t.Fatalf("downloadDir zero should fallback. want %q got %q", def.DownloadDir, got.DownloadDir)
				}
				if got.RetryDelay != def.RetryDelay {
					t.Fatalf("retryDelay zero should fallback. want %s got %s", def.RetryDelay, got.RetryDelay)
				}
				if got.WorkerBudget != def.WorkerBudget {
					t.Fatalf("workerBudget zero should fallback. want %d got %d", def.WorkerBudget, got.WorkerBudget)
				}
				if got.Http.UserAgent != def.Http.UserAgent {
					t.Fatalf("http.userAgent zero should fallback. want %q got %q", def.Http.UserAgent, got.Http.UserAgent)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Remove(cfgFile)
			if tc.preWrite {
				if err := os.WriteFile(cfgFile, []byte(tc.contents), 0o600); err != nil {
					t.Fatalf("write test config: %v", err)
				}
			}
			got, err := cfg.GetConfig()
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("GetConfig error: %v", err)
			}
			tc.check(t, got, def)
		})
	}
}

func TestDefaultConfig_NonNilPointers(t *testing.T) {
	d := cfg.DefaultConfig()
	if d.Http == nil {
		t.Fatalf("DefaultConfig.Http is nil")
	}
	if d.Http.TLS == nil {
		t.Fatalf("DefaultConfig.Http.TLS is nil")
	}
}
