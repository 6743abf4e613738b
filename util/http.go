package util

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/clog"
)

const maxErrorBodyBytes = 4096

// HTTPStatusError is returned by DoHTTP for any non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("received non-200 status code: %d (url: %s); resp body: %s", e.StatusCode, e.URL, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPStatusError

	if errors.As(err, &he) {
		return he.StatusCode
	}

	return 0
}

// IsRateLimited reports whether err represents a throttling response
// (429 Too Many Requests or 503 Service Unavailable).
func IsRateLimited(err error) bool {
	code := StatusCode(err)
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// DoHTTP performs req with client; non-2xx responses become *HTTPStatusError.
// When target is non-nil the body is JSON-decoded into it.
func DoHTTP(ctx context.Context, client *http.Client, req *http.Request, target any) (*http.Response, error) {
	txn, logger := MethodSetup(ctx, clog.NewNoop(), zap.String("method", "DoHTTP"))
	segment := txn.StartSegment("util.DoHTTP")
	defer segment.End()

	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	if client == nil {
		client = http.DefaultClient
	}

	if target != nil && reflect.ValueOf(target).Kind() != reflect.Ptr {
		return nil, errors.New("target must be a pointer")
	}

	logger = logger.With(
		zap.String("httpEndpoint", req.URL.String()),
		zap.String("httpMethod", req.Method),
	)

	logger.Debug("Performing HTTP request")

	if ctx != nil {
		req = req.WithContext(ctx)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to perform http request")
	}

	body, err := GetResponseBody(resp)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}

		return resp, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Body:       string(bytes.TrimSpace(body)),
		}
	}

	if target == nil {
		return resp, nil
	}

	if err := json.Unmarshal(body, target); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response body")
	}

	return resp, nil
}

// GetResponseBody reads resp.Body fully and replaces it with a re-readable
// copy.
func GetResponseBody(resp *http.Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("response cannot be nil")
	}

	if resp.Body == nil {
		return nil, errors.New("response body cannot be nil")
	}

	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, errors.Wrap(err, "unable to read response body")
	}

	resp.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))

	return buf.Bytes(), nil
}
