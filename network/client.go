package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crosscopy/models"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	ServerURL      string
	DeviceID       string
	RequestTimeout time.Duration

	// HTTPClient serves share, receive and file requests. WatchClient serves
	// listener watches and must not carry a timeout.
	HTTPClient  *http.Client
	WatchClient *http.Client

	Now func() time.Time
}

func (o ClientOptions) withDefaults() ClientOptions {
	out := o
	if strings.TrimSpace(out.ServerURL) == "" {
		out.ServerURL = DefaultServerURL
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: out.RequestTimeout}
	}
	if out.WatchClient == nil {
		out.WatchClient = &http.Client{
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
			},
		}
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Client talks to a cross-copy server.
type Client struct {
	options ClientOptions
	base    *url.URL
}

// NewClient validates the server URL and returns a ready Client.
func NewClient(options ClientOptions) (*Client, error) {
	opts := options.withDefaults()

	base, err := url.Parse(strings.TrimSpace(opts.ServerURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServerURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServerURL, opts.ServerURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{options: opts, base: base}, nil
}

// ServerURL returns the normalized server base URL.
func (c *Client) ServerURL() string {
	return c.base.String()
}

// WatchListeners long-polls the number of listeners on phrase. The server
// holds the request until the count differs from count and replies with the
// new count as plain text. The raw body is returned.
func (c *Client) WatchListeners(ctx context.Context, phrase string, count int) (string, error) {
	if phrase == "" {
		return "", ErrEmptyPhrase
	}
	target := c.endpoint("watch=listeners&count="+strconv.Itoa(count), "api", url.PathEscape(phrase))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build watch request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	body, _, err := c.do(c.options.WatchClient, req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Share publishes data under phrase and returns the resulting outbound item.
func (c *Client) Share(ctx context.Context, phrase, data string) (models.DataItem, error) {
	if phrase == "" {
		return models.DataItem{}, ErrEmptyPhrase
	}
	target := c.endpoint(c.deviceQuery(nil).Encode(), "api", url.PathEscape(phrase))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, strings.NewReader(data))
	if err != nil {
		return models.DataItem{}, fmt.Errorf("build share request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	body, _, err := c.do(c.options.HTTPClient, req)
	if err != nil {
		return models.DataItem{}, err
	}

	var wire models.WireItem
	if err := json.Unmarshal(body, &wire); err != nil {
		return models.DataItem{}, fmt.Errorf("decode share response: %w", err)
	}
	if wire.Data == "" {
		wire.Data = data
	}
	return models.FromWire(wire, models.Outbound, c.options.Now()), nil
}

// Receive fetches items shared under phrase after sinceID. An empty sinceID
// asks for everything the server still holds.
func (c *Client) Receive(ctx context.Context, phrase, sinceID string) ([]models.DataItem, error) {
	if phrase == "" {
		return nil, ErrEmptyPhrase
	}
	query := url.Values{}
	if sinceID != "" {
		query.Set("since", sinceID)
	}
	target := c.endpoint(c.deviceQuery(query).Encode(), "api", url.PathEscape(phrase)+".json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build receive request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	body, status, err := c.do(c.options.HTTPClient, req)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var wire []models.WireItem
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode receive response: %w", err)
	}

	now := c.options.Now()
	items := make([]models.DataItem, 0, len(wire))
	for _, w := range wire {
		items = append(items, models.FromWire(w, models.Inbound, now))
	}
	return items, nil
}

func (c *Client) deviceQuery(query url.Values) url.Values {
	if query == nil {
		query = url.Values{}
	}
	if c.options.DeviceID != "" {
		query.Set("device_id", c.options.DeviceID)
	}
	return query
}

// endpoint joins already escaped path elements onto the base URL.
func (c *Client) endpoint(rawQuery string, escaped ...string) string {
	u := c.base.JoinPath(escaped...)
	u.RawQuery = rawQuery
	return u.String()
}

func (c *Client) do(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, resp.StatusCode, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %w", req.Method, err)
	}
	if len(body) > MaxResponseSize {
		return nil, resp.StatusCode, ErrResponseTooLarge
	}
	return body, resp.StatusCode, nil
}
