// Package live implements the first tier of the signal chain: HTTP clients for
// OpenWeatherMap, NewsAPI and generic JSON endpoints.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for live source failures.
var (
	ErrSourceUnreachable = errors.New("signal source unreachable")
	ErrSourceError       = errors.New("signal source error")
	ErrSourceTimeout     = errors.New("signal source timeout")
)

// maxBody bounds how much of a response body is read.
const maxBody = 1 << 20

type httpClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) httpClient {
	return httpClient{client: &http.Client{Timeout: timeout}}
}

// getJSON fetches u and decodes the JSON body into out.
func (c httpClient) getJSON(ctx context.Context, u string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return fmt.Errorf("%w: status %d", ErrSourceError, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrSourceError, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrSourceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrSourceTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
}
