package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/realtime-stt-lab/internal/logging"
)

// retryBaseDelay is the first backoff step; each further attempt doubles it.
var retryBaseDelay = 200 * time.Millisecond

// postWithRetries POSTs body to url and returns the status and the fully read
// response body. Transport errors and 5xx responses are retried with
// exponential backoff; 4xx responses are returned as-is. Every attempt is
// bounded by timeout and the whole call by ctx.
func postWithRetries(ctx context.Context, client *http.Client, url, contentType string, body []byte, header http.Header, timeout time.Duration, attempts int) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := retryBaseDelay * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		status, respBody, err := postOnce(ctx, client, url, contentType, body, header, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			lastErr = err
			logging.Debugw("postWithRetries: POST attempt failed", "url", url, "attempt", i+1, "err", err)
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("server error status=%d", status)
			logging.Debugw("postWithRetries: server error", "url", url, "attempt", i+1, "status", status)
			continue
		}
		return status, respBody, nil
	}
	return 0, nil, lastErr
}

func postOnce(ctx context.Context, client *http.Client, url, contentType string, body []byte, header http.Header, timeout time.Duration) (int, []byte, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", contentType)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, b, nil
}
