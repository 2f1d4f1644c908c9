package http

import (
	"context"

	"github.com/NamanBalaji/segdl/internal/errors"
	httpclient "github.com/NamanBalaji/segdl/pkg/http"
)

// classifyError turns a pkg/http failure into a categorized DownloadError.
func classifyError(err error, url string) error {
	if err == nil {
		return nil
	}

	var downloadErr *errors.DownloadError
	if errors.As(err, &downloadErr) {
		return err
	}

	if code, ok := httpclient.StatusCode(err); ok {
		return errors.NewProtocolError(err, url, code)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return errors.NewContextError(err, url)
	case errors.Is(err, httpclient.ErrTimeout),
		errors.Is(err, httpclient.ErrReadStalled),
		errors.Is(err, httpclient.ErrNetworkProblem),
		errors.Is(err, httpclient.ErrUnexpectedEOF):
		return errors.NewNetworkError(err, url, true)
	case errors.Is(err, httpclient.ErrTLSConfig),
		errors.Is(err, httpclient.ErrRequestCreation):
		return errors.NewConfigurationError(err, url)
	case errors.Is(err, httpclient.ErrRangesNotSupported),
		errors.Is(err, httpclient.ErrInvalidContentRange):
		return errors.NewProtocolError(err, url, 0)
	default:
		return errors.NewNetworkError(err, url, false)
	}
}
