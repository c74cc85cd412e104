package connectivity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxRelayBody caps the upstream reply kept for a later Check.
const maxRelayBody = 1024

var ErrNoEndpoint = errors.New("connectivity: relay endpoint not set")

// HTTPRelay posts payloads to an HTTP endpoint as application/octet-stream.
type HTTPRelay struct {
	mu       sync.Mutex
	client   *http.Client
	endpoint string
}

// NewHTTPRelay uses client, or a client with a 10s timeout when nil.
func NewHTTPRelay(client *http.Client) *HTTPRelay {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRelay{client: client}
}

// SetEndpoint sets the upload URL. A bare host gets an http scheme and
// a non-zero port replaces the URL's port.
func (r *HTTPRelay) SetEndpoint(raw string, port uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoint = normalizeEndpoint(raw, port)
}

func (r *HTTPRelay) Endpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint
}

func (r *HTTPRelay) Post(ctx context.Context, body []byte) (uint32, []byte, error) {
	endpoint := r.Endpoint()
	if endpoint == "" {
		return 0, nil, ErrNoEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("connectivity: post: %w", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return uint32(resp.StatusCode), nil, err
	}
	return uint32(resp.StatusCode), out, nil
}

func (r *HTTPRelay) Check(ctx context.Context) (uint32, error) {
	endpoint := r.Endpoint()
	if endpoint == "" {
		return 0, ErrNoEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("connectivity: check: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return uint32(resp.StatusCode), nil
}

func normalizeEndpoint(raw string, port uint32) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if port != 0 {
		u.Host = u.Hostname() + ":" + strconv.FormatUint(uint64(port), 10)
	}
	return u.String()
}
