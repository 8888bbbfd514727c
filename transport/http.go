package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pithecene-io/bundlesync/iox"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 30 * time.Second

// TokenHeader carries the session token on every request.
const TokenHeader = "Session-Token"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// Config configures the HTTP transport.
type Config struct {
	// BaseURL is the bundle service root, e.g. https://analysis.example.com/api (required).
	BaseURL string
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
	// Encoding selects the request body codec (default json).
	Encoding Encoding
	// Headers are added to every request.
	Headers map[string]string
	// UserAgent overrides the default User-Agent.
	UserAgent string
}

// HTTPClient implements Transport over HTTP.
type HTTPClient struct {
	config Config
	base   *url.URL
	client *http.Client
}

// NewHTTPClient creates an HTTP transport from the given config.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport requires a base URL")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", base.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}

	return &HTTPClient{
		config: cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// CreateBundle implements Transport.
func (c *HTTPClient) CreateBundle(ctx context.Context, token string, req BundleRequest) (*Response, error) {
	return c.do(ctx, http.MethodPost, c.endpoint("bundle"), token, req)
}

// CheckBundle implements Transport.
func (c *HTTPClient) CheckBundle(ctx context.Context, token, bundleID string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.endpoint("bundle", bundleID), token, nil)
}

// ExtendBundle implements Transport.
func (c *HTTPClient) ExtendBundle(ctx context.Context, token, bundleID string, req BundleRequest) (*Response, error) {
	return c.do(ctx, http.MethodPut, c.endpoint("bundle", bundleID), token, req)
}

// UploadFiles implements Transport.
// A relative uploadURL is resolved against the base URL.
func (c *HTTPClient) UploadFiles(ctx context.Context, token, uploadURL string, files []UploadFile) (*Response, error) {
	target, err := c.resolve(uploadURL)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, target, token, files)
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) endpoint(parts ...string) string {
	u := *c.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = c.base.Path + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	return u.String()
}

func (c *HTTPClient) resolve(target string) (string, error) {
	if target == "" {
		return "", errors.New("empty upload URL")
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid upload URL: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// do performs one request and decodes the response.
func (c *HTTPClient) do(ctx context.Context, method, target, token string, body any) (*Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := c.config.Encoding.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", method, err)
		}
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reader != nil {
		req.Header.Set("Content-Type", c.config.Encoding.ContentType())
	}
	req.Header.Set("Accept", ContentTypeJSON+", "+ContentTypeMsgpack)
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer iox.DrainClose(resp.Body, maxBodyBytes)

	raw, err := iox.ReadLimited(resp.Body, maxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode}
	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := unmarshalResponse(contentType, raw, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		out.StatusCode = resp.StatusCode
		return out, nil
	}

	// Error bodies are either {"error": "..."} or plain text.
	var decoded Response
	if err := unmarshalResponse(contentType, raw, &decoded); err == nil && decoded.Error != "" {
		out.Error = decoded.Error
	} else {
		out.Error = strings.TrimSpace(string(raw))
	}
	return out, nil
}

// Verify HTTPClient implements Transport.
var _ Transport = (*HTTPClient)(nil)
