package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"

	"mdstore/pkg/data"
	"mdstore/pkg/storage"
)

const (
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond

	basePath = "/api/v1"
)

// Client talks the remote storage protocol. It satisfies storage.Drive,
// so a registry can route streams to a central server transparently.
type Client struct {
	baseURL    string
	token      string
	format     Format
	httpClient *http.Client
	maxRetries int
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken sets the session token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithFormat selects the wire encoding (binary msgpack by default).
func WithFormat(f Format) Option {
	return func(c *Client) {
		if f == FormatBinary || f == FormatText {
			c.format = f
		}
	}
}

// WithMaxRetries adjusts the per-request retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// NewClient constructs a remote storage client for a server base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		format:     FormatBinary,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func init() {
	storage.RegisterDrive("remote", func(name string, cfg *storage.DriveConfig) (storage.Drive, error) {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("remote: drive %s has no endpoint", name)
		}
		opts := []Option{WithToken(cfg.Token)}
		if cfg.Format != "" {
			opts = append(opts, WithFormat(Format(cfg.Format)))
		}
		if cfg.MaxRetries > 0 {
			opts = append(opts, WithMaxRetries(cfg.MaxRetries))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return NewClient(cfg.Endpoint, opts...), nil
	})
}

// LookupSecurities asks the server for instruments matching the pattern.
func (c *Client) LookupSecurities(ctx context.Context, pattern string) ([]SecurityInfo, error) {
	var resp LookupResponse
	found, err := c.call(ctx, "/securities/lookup", LookupRequest{Pattern: pattern}, &resp)
	if err != nil || !found {
		return nil, err
	}
	return resp.Securities, nil
}

// ListSecurities implements storage.Drive.
func (c *Client) ListSecurities(ctx context.Context) ([]data.SecurityID, error) {
	infos, err := c.LookupSecurities(ctx, "")
	if err != nil {
		return nil, err
	}
	ids := make([]data.SecurityID, 0, len(infos))
	for _, info := range infos {
		id, err := data.ParseSecurityID(info.ID)
		if err != nil {
			logx.Errorf("remote: skip malformed security id %q: %v", info.ID, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetAvailableDataTypes implements storage.Drive.
func (c *Client) GetAvailableDataTypes(ctx context.Context, id data.SecurityID) ([]data.TypeArg, error) {
	var resp DataTypesResponse
	found, err := c.call(ctx, "/securities/datatypes", DataTypesRequest{Security: id.String()}, &resp)
	if err != nil || !found {
		return nil, err
	}
	types := make([]data.TypeArg, 0, len(resp.DataTypes))
	for _, info := range resp.DataTypes {
		ta, err := info.TypeArg()
		if err != nil {
			logx.Errorf("remote: skip malformed data type %q: %v", info.DataType, err)
			continue
		}
		types = append(types, ta)
	}
	return types, nil
}

// GetDates implements storage.Drive.
func (c *Client) GetDates(ctx context.Context, key data.StreamKey) ([]time.Time, error) {
	var resp DatesResponse
	found, err := c.call(ctx, "/storage/dates", DatesRequest{Stream: NewStreamRef(key)}, &resp)
	if err != nil || !found {
		return nil, err
	}
	dates := make([]time.Time, 0, len(resp.Dates))
	for _, s := range resp.Dates {
		d, err := ParseWireDate(s)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// LoadStream implements storage.Drive. A 204 answer maps to the "no
// data" result.
func (c *Client) LoadStream(ctx context.Context, key data.StreamKey, date time.Time) ([]byte, bool, error) {
	req := LoadRequest{Stream: NewStreamRef(key), Date: date.UTC().Format(WireDate)}
	var resp LoadResponse
	found, err := c.call(ctx, "/storage/load", req, &resp)
	if err != nil || !found {
		return nil, false, err
	}
	return resp.Payload, true, nil
}

// SaveStream implements storage.Drive. Requires write permission on the
// server side.
func (c *Client) SaveStream(ctx context.Context, key data.StreamKey, date time.Time, payload []byte) error {
	req := SaveRequest{Stream: NewStreamRef(key), Date: date.UTC().Format(WireDate), Payload: payload}
	_, err := c.call(ctx, "/storage/save", req, nil)
	return err
}

// DeleteFile implements storage.Drive.
func (c *Client) DeleteFile(ctx context.Context, key data.StreamKey, date time.Time) error {
	d := date.UTC().Format(WireDate)
	req := DeleteRequest{Stream: NewStreamRef(key), From: d, To: d}
	_, err := c.call(ctx, "/storage/delete", req, nil)
	return err
}

// DeleteRange removes all day files in [from, to] on the server.
func (c *Client) DeleteRange(ctx context.Context, key data.StreamKey, from, to time.Time) error {
	req := DeleteRequest{
		Stream: NewStreamRef(key),
		From:   from.UTC().Format(WireDate),
		To:     to.UTC().Format(WireDate),
	}
	_, err := c.call(ctx, "/storage/delete", req, nil)
	return err
}

// call performs one request/response round trip. Transient transport
// failures and 5xx answers are retried with linear backoff; a 204 answer
// returns found=false.
func (c *Client) call(ctx context.Context, path string, reqBody, respBody any) (found bool, err error) {
	url := c.baseURL + basePath + path
	encoded, err := c.encode(reqBody)
	if err != nil {
		return false, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(time.Duration(attempt) * defaultRetryBackoffBase):
			}
		}
		found, retry, err := c.once(ctx, url, encoded, respBody)
		if err == nil {
			return found, nil
		}
		lastErr = err
		if !retry {
			return false, err
		}
		logx.Infof("remote: retrying %s after: %v", path, err)
	}
	return false, lastErr
}

func (c *Client) once(ctx context.Context, url string, body []byte, respBody any) (found, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, false, &NetworkError{Op: "request", URL: url, Err: err}
	}
	req.Header.Set("Content-Type", c.format.ContentType())
	req.Header.Set("Accept", c.format.ContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, true, &NetworkError{Op: "do", URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, false, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return false, false, fmt.Errorf("%w: %s", ErrNotAuthorized, readErrorBody(resp))
	case resp.StatusCode >= 500:
		return false, true, &NetworkError{Op: "do", URL: url, Err: fmt.Errorf("status %d: %s", resp.StatusCode, readErrorBody(resp))}
	case resp.StatusCode != http.StatusOK:
		return false, false, fmt.Errorf("remote: %s: status %d: %s", url, resp.StatusCode, readErrorBody(resp))
	}

	if respBody == nil {
		io.Copy(io.Discard, resp.Body)
		return true, false, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, true, &NetworkError{Op: "read", URL: url, Err: err}
	}
	if err := c.decode(raw, respBody); err != nil {
		return false, false, err
	}
	return true, false, nil
}

func (c *Client) encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if c.format == FormatBinary {
		raw, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("remote: encode: %w", err)
		}
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("remote: encode: %w", err)
	}
	return raw, nil
}

func (c *Client) decode(raw []byte, v any) error {
	var err error
	if c.format == FormatBinary {
		err = msgpack.Unmarshal(raw, v)
	} else {
		err = json.Unmarshal(raw, v)
	}
	if err != nil {
		return fmt.Errorf("remote: decode: %w", err)
	}
	return nil
}

func readErrorBody(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}
	var body ErrorResponse
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "msgpack") {
		if msgpack.Unmarshal(raw, &body) == nil && body.Error != "" {
			return body.Error
		}
	} else if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
