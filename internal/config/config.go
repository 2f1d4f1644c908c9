package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/NamanBalaji/segdl/internal/protocol"
)

const (
	appName        = "segdl"
	configFileName = "config.yaml"
)

// Config holds the configuration options for the application.
type Config struct {
	DownloadDir            string        `yaml:"downloadDir,omitempty"`
	Segments               int           `yaml:"segments,omitempty"`
	MaxRetries             int           `yaml:"maxRetries,omitempty"`
	RetryDelay             time.Duration `yaml:"retryDelay,omitempty"`
	SplitThreshold         time.Duration `yaml:"splitThreshold,omitempty"`
	MaxConcurrentDownloads int           `yaml:"maxConcurrentDownloads,omitempty"`
	WorkerBudget           int           `yaml:"workerBudget,omitempty"`
	BandwidthLimit         int64         `yaml:"bandwidthLimit,omitempty"` // bytes per second, 0 is unlimited
	HistoryPath            string        `yaml:"historyPath,omitempty"`
	LogPath                string        `yaml:"logPath,omitempty"`
	S3Profile              string        `yaml:"s3Profile,omitempty"`
	Http                   *HttpConfig   `yaml:"http,omitempty"`
}

// HttpConfig holds the defaults of the http and https provider.
type HttpConfig struct {
	ProtocolVersion string                      `yaml:"protocolVersion,omitempty"`
	UserAgent       string                      `yaml:"userAgent,omitempty"`
	ConnectTimeout  time.Duration               `yaml:"connectTimeout,omitempty"`
	ReadTimeout     time.Duration               `yaml:"readTimeout,omitempty"`
	TLS             *protocol.TransportSecurity `yaml:"tls,omitempty"`
}

// Path is the location of the configuration file.
func Path() string {
	return filepath.Join(xdg.ConfigHome, appName, configFileName)
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default configuration.
func GetConfig() (*Config, error) {
	defaults := DefaultConfig()

	b, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	httpCfg := zeroOr(cfg.Http, defaults.Http)
	tlsCfg := zeroOr(httpCfg.TLS, defaults.Http.TLS)

	return &Config{
		DownloadDir:            zeroOr(cfg.DownloadDir, defaults.DownloadDir),
		Segments:               zeroOr(cfg.Segments, defaults.Segments),
		MaxRetries:             zeroOr(cfg.MaxRetries, defaults.MaxRetries),
		RetryDelay:             zeroOr(cfg.RetryDelay, defaults.RetryDelay),
		SplitThreshold:         zeroOr(cfg.SplitThreshold, defaults.SplitThreshold),
		MaxConcurrentDownloads: zeroOr(cfg.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		WorkerBudget:           zeroOr(cfg.WorkerBudget, defaults.WorkerBudget),
		BandwidthLimit:         cfg.BandwidthLimit,
		HistoryPath:            zeroOr(cfg.HistoryPath, defaults.HistoryPath),
		LogPath:                zeroOr(cfg.LogPath, defaults.LogPath),
		S3Profile:              cfg.S3Profile,
		Http: &HttpConfig{
			ProtocolVersion: httpCfg.ProtocolVersion,
			UserAgent:       zeroOr(httpCfg.UserAgent, defaults.Http.UserAgent),
			ConnectTimeout:  zeroOr(httpCfg.ConnectTimeout, defaults.Http.ConnectTimeout),
			ReadTimeout:     httpCfg.ReadTimeout,
			TLS: &protocol.TransportSecurity{
				SkipVerify: tlsCfg.SkipVerify,
				CAFile:     tlsCfg.CAFile,
				CADir:      tlsCfg.CADir,
				MinVersion: zeroOr(tlsCfg.MinVersion, defaults.Http.TLS.MinVersion),
			},
		},
	}, nil
}

func DefaultConfig() Config {
	return Config{
		DownloadDir:            downloadDir,
		Segments:               segments,
		MaxRetries:             maxRetries,
		RetryDelay:             retryDelay,
		SplitThreshold:         splitThreshold,
		MaxConcurrentDownloads: maxConcurrentDownloads,
		WorkerBudget:           workerBudget,
		HistoryPath:            historyPath,
		LogPath:                logPath,
		Http: &HttpConfig{
			UserAgent:      userAgent,
			ConnectTimeout: connectTimeout,
			TLS:            &protocol.TransportSecurity{MinVersion: tlsMinVersion},
		},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
