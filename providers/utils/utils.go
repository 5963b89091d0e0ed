// Package utils contains transport helpers shared by provider implementations.
package utils

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// MakeRequestWithContext executes a fasthttp request and returns its latency.
// IMPORTANT: fasthttp has no native context support; when the context is done
// the underlying call keeps running in its goroutine until it completes or
// times out on its own. This function merely stops waiting for it.
func MakeRequestWithContext(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) (time.Duration, error) {
	startTime := time.Now()
	errChan := make(chan error, 1)

	go func() {
		errChan <- client.Do(req, resp)
	}()

	select {
	case <-ctx.Done():
		return time.Since(startTime), fmt.Errorf("request cancelled by context: %w", ctx.Err())
	case err := <-errChan:
		latency := time.Since(startTime)
		if err != nil {
			if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				return latency, fmt.Errorf("provider request timed out: %w", err)
			}
			return latency, fmt.Errorf("provider request failed: %w", err)
		}
		return latency, nil
	}
}

// CheckAndDecodeBody checks the content encoding and decodes the body accordingly.
func CheckAndDecodeBody(resp *fasthttp.Response) ([]byte, error) {
	contentEncoding := strings.ToLower(strings.TrimSpace(string(resp.Header.Peek("Content-Encoding"))))
	switch contentEncoding {
	case "gzip":
		return resp.BodyGunzip()
	default:
		return resp.Body(), nil
	}
}

// SetExtraHeaders applies user-configured headers to the request. Keys are
// canonicalized to avoid duplicates, the Authorization header is skipped for
// security reasons, and existing headers are never overwritten.
func SetExtraHeaders(req *fasthttp.Request, extraHeaders map[string]string) {
	for key, value := range extraHeaders {
		canonicalKey := textproto.CanonicalMIMEHeaderKey(key)
		if canonicalKey == "Authorization" {
			continue
		}
		if len(req.Header.Peek(canonicalKey)) == 0 {
			req.Header.Set(canonicalKey, value)
		}
	}
}
