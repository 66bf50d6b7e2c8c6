package policy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
)

// HTTPFetcher returns a BodyFetcher that fetches a blocklist body over
// HTTP(S), honoring conditional GET via If-None-Match/If-Modified-Since so
// an unchanged upstream list costs a 304 instead of a full re-download, per
// §5's 30s blocklist-fetch timeout.
func HTTPFetcher(timeout time.Duration) BodyFetcher {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, url, etag, lastModified string) (string, string, string, bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", "", "", false, fmt.Errorf("%w: build request: %v", pberrors.ErrUpstreamFetch, err)
		}
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if lastModified != "" {
			req.Header.Set("If-Modified-Since", lastModified)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", "", "", false, fmt.Errorf("%w: fetch %s: %v", pberrors.ErrUpstreamFetch, url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			return "", etag, lastModified, true, nil
		}
		if resp.StatusCode != http.StatusOK {
			return "", "", "", false, fmt.Errorf("%w: %s returned %d", pberrors.ErrUpstreamFetch, url, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return "", "", "", false, fmt.Errorf("%w: read body of %s: %v", pberrors.ErrUpstreamFetch, url, err)
		}
		return string(body), resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), false, nil
	}
}
