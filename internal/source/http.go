package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPSource reads archives served over http and https.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource returns a source whose requests time out after timeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{client: &http.Client{Timeout: timeout}}
}

// Stat issues a HEAD request and reads size and modification time from the
// response headers.
func (s *HTTPSource) Stat(ctx context.Context, location string) (Info, error) {
	resp, err := s.do(ctx, http.MethodHead, location)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	info := Info{ModTime: time.Now()}
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
			info.Size = size
		}
	}
	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		if t, err := http.ParseTime(lastModified); err == nil {
			info.ModTime = t
		}
	}
	return info, nil
}

func (s *HTTPSource) ReadAll(ctx context.Context, location string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, location)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", location, err)
	}
	return data, nil
}

func (s *HTTPSource) do(ctx context.Context, method, location string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, location, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request for %s: %w", method, location, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, location, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, location, resp.StatusCode)
	}
	return resp, nil
}
