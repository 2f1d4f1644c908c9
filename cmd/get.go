package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/segdl/internal/engine"
	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/repository"
	"github.com/NamanBalaji/segdl/internal/status"
)

var errDownloadsFailed = errors.New("one or more downloads did not complete")

func newGetCmd() *cobra.Command {
	var (
		output         string
		mirrors        []string
		segments       int
		maxRetries     int
		retryDelay     time.Duration
		bandwidth      int64
		username       string
		password       string
		skipVerify     bool
		caFile         string
		caDir          string
		tlsMinVersion  string
		protocolVer    string
		connectTimeout time.Duration
		readTimeout    time.Duration
		maxConcurrency int
	)

	cmd := &cobra.Command{
		Use:   "get URL [URL...] [--mirror MIRROR_URL]",
		Short: "Download one or more resources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()

			if output != "" && len(args) > 1 {
				return errors.New("--output needs exactly one URL")
			}

			if len(mirrors) > 0 && len(args) > 1 {
				return errors.New("--mirror needs exactly one URL")
			}

			if flags.Changed("segments") {
				cfg.Segments = segments
			}
			if flags.Changed("max-retries") {
				cfg.MaxRetries = maxRetries
			}
			if flags.Changed("retry-delay") {
				cfg.RetryDelay = retryDelay
			}
			if flags.Changed("limit") {
				cfg.BandwidthLimit = bandwidth
			}
			if flags.Changed("parallel") {
				cfg.MaxConcurrentDownloads = maxConcurrency
			}
			if flags.Changed("http-version") {
				cfg.Http.ProtocolVersion = protocolVer
			}
			if flags.Changed("connect-timeout") {
				cfg.Http.ConnectTimeout = connectTimeout
			}
			if flags.Changed("read-timeout") {
				cfg.Http.ReadTimeout = readTimeout
			}
			if flags.Changed("insecure") {
				cfg.Http.TLS.SkipVerify = skipVerify
			}
			if flags.Changed("ca-file") {
				cfg.Http.TLS.CAFile = caFile
			}
			if flags.Changed("ca-dir") {
				cfg.Http.TLS.CADir = caDir
			}
			if flags.Changed("tls-min") {
				cfg.Http.TLS.MinVersion = tlsMinVersion
			}

			repo, err := repository.NewBboltRepository(cfg.HistoryPath)
			if err != nil {
				logger.Warnf("History disabled: %v", err)
				printWarning("history disabled: " + err.Error())
			}

			opts := []engine.Option{}
			if repo != nil {
				defer repo.Close()
				opts = append(opts, engine.WithRepository(repo))
			}

			eng, err := engine.New(cfg, opts...)
			if err != nil {
				return err
			}
			defer eng.Close()

			reqs := make([]engine.Request, 0, len(args))
			for _, url := range args {
				reqs = append(reqs, engine.Request{
					URL:      url,
					Mirrors:  mirrors,
					Output:   output,
					Username: username,
					Password: password,
				})
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			failed := 0
			for _, res := range eng.Run(ctx, reqs) {
				printResult(res)

				if res.State != status.Ended {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%w (%d of %d)", errDownloadsFailed, failed, len(reqs))
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (inferred from the URL if not provided)")
	cmd.Flags().StringArrayVarP(&mirrors, "mirror", "m", nil, "Mirror URL serving the same file; can be specified multiple times")
	cmd.Flags().IntVarP(&segments, "segments", "s", 5, "Requested number of segments (at most 5 are used)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 5, "Attempts per segment and for the metadata probe (0 is unlimited)")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 20*time.Second, "Delay before a failed segment is restarted")
	cmd.Flags().Int64Var(&bandwidth, "limit", 0, "Bandwidth limit in bytes per second shared by all downloads (0 is unlimited)")
	cmd.Flags().IntVarP(&maxConcurrency, "parallel", "p", 3, "Number of downloads to run at once")
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username for basic authentication")
	cmd.Flags().StringVar(&password, "password", "", "Password for basic authentication")
	cmd.Flags().BoolVar(&skipVerify, "insecure", false, "Skip TLS certificate verification")
	cmd.Flags().StringVar(&caFile, "ca-file", "", "PEM file with additional trusted certificates")
	cmd.Flags().StringVar(&caDir, "ca-dir", "", "Directory of additional trusted certificates")
	cmd.Flags().StringVar(&tlsMinVersion, "tls-min", "1.2", "Minimum TLS version (1.0 to 1.3)")
	cmd.Flags().StringVar(&protocolVer, "http-version", "", "HTTP protocol version (1.1 or 2.0)")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "Give up on connecting or waiting for response headers after this long")
	cmd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "Abort a connection that delivers no data for this long (0 disables)")

	return cmd
}
