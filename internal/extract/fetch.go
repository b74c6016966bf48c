package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxPageSize = 8 << 20
)

var skipPrefixes = []string{"about:", "moz-extension:", "chrome-extension:", "file:", "chrome:", "resource:", "data:"}

// Fetchable reports whether url points at something Fetch can download.
func Fetchable(url string) bool {
	if url == "" {
		return false
	}
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(url, prefix) {
			return false
		}
	}
	return true
}

var client = &http.Client{Timeout: 15 * time.Second}

// Fetch downloads a product page with a browser-like User-Agent. Non-HTTP
// URLs and HTTP errors are reported as errors.
func Fetch(ctx context.Context, url string) ([]byte, error) {
	if !Fetchable(url) {
		return nil, fmt.Errorf("skipping non-HTTP URL: %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
