// Package apiclient talks to the sensor log HTTP API.
package apiclient

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

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/iot-monitor/chartengine/internal/models"
)

// ErrUnsuccessful is returned when the API answers with success=false.
var ErrUnsuccessful = errors.New("apiclient: request unsuccessful")

// Wire encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"

	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"
)

// DefaultPageSize is the logs_range limit used when none is configured.
const DefaultPageSize = 5000

// Options configures a Client.
type Options struct {
	Timeout  time.Duration
	Encoding string
	PageSize int
	Location *time.Location
	Logger   zerolog.Logger
}

// Client is an HTTP client for the sensor log API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	encoding   string
	pageSize   int
	loc        *time.Location
	log        zerolog.Logger
}

// NewClient creates a new API client rooted at baseURL (e.g. "http://host/api").
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Encoding != EncodingMsgpack {
		opts.Encoding = EncodingJSON
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: opts.Timeout,
		},
		encoding: opts.Encoding,
		pageSize: opts.PageSize,
		loc:      opts.Location,
		log:      opts.Logger.With().Str("component", "apiclient").Logger(),
	}
}

// RangeQuery selects one page of logs_range.
type RangeQuery struct {
	From   time.Time
	To     time.Time
	Keys   []string
	Limit  int
	Offset int
}

// Page is one decoded logs_range page.
type Page struct {
	Records []models.LogRecord
	// Returned counts wire records on the page, malformed ones included.
	Returned int
	Total    int
	HasMore  bool
}

// FetchRange fetches a single page of records for deviceID.
func (c *Client) FetchRange(ctx context.Context, deviceID string, q RangeQuery) (*Page, error) {
	params := url.Values{}
	params.Set("from", q.From.Format(time.RFC3339Nano))
	params.Set("to", q.To.Format(time.RFC3339Nano))
	if len(q.Keys) > 0 {
		params.Set("keys", strings.Join(q.Keys, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var resp models.LogsRangeResponse
	if err := c.get(ctx, c.devicePath(deviceID, "logs/range")+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("logs range for %s: %w", deviceID, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("logs range for %s: %w: %s", deviceID, ErrUnsuccessful, resp.Error)
	}

	page := &Page{
		Records:  make([]models.LogRecord, 0, len(resp.Logs)),
		Returned: len(resp.Logs),
		Total:    resp.Total,
		HasMore:  resp.HasMore,
	}
	for _, w := range resp.Logs {
		r, err := models.RecordFromWire(deviceID, w, c.loc)
		if err != nil {
			c.log.Debug().Err(err).Str("device", deviceID).Msg("skipping malformed record")
			continue
		}
		page.Records = append(page.Records, r)
	}
	return page, nil
}

// FetchAll walks logs_range pages until has_more is false. The offset advances
// by what the server returned, which may be less than the requested page size.
// A nil keys slice requests every variable.
func (c *Client) FetchAll(ctx context.Context, deviceID string, from, to time.Time, keys []string) ([]models.LogRecord, error) {
	var out []models.LogRecord
	offset := 0
	for {
		page, err := c.FetchRange(ctx, deviceID, RangeQuery{
			From:   from,
			To:     to,
			Keys:   keys,
			Limit:  c.pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if !page.HasMore || page.Returned == 0 {
			break
		}
		offset += page.Returned
	}
	c.log.Debug().Str("device", deviceID).Int("records", len(out)).Msg("fetched range")
	return out, nil
}

// CheckUpdated returns the device's freshness token from last_update.
func (c *Client) CheckUpdated(ctx context.Context, deviceID string) (string, error) {
	var resp models.LastUpdateResponse
	if err := c.get(ctx, c.devicePath(deviceID, "logs/last-update"), &resp); err != nil {
		return "", fmt.Errorf("last update for %s: %w", deviceID, err)
	}
	if !resp.Success {
		return "", fmt.Errorf("last update for %s: %w: %s", deviceID, ErrUnsuccessful, resp.Error)
	}
	return resp.LastUpdate, nil
}

// IngestResponse is the body returned by the ingest route.
type IngestResponse struct {
	Success  bool   `json:"success" msgpack:"success"`
	Accepted int    `json:"accepted" msgpack:"accepted"`
	Token    string `json:"last_update" msgpack:"last_update"`
	Error    string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Ingest posts wire records for deviceID and returns the new freshness token.
func (c *Client) Ingest(ctx context.Context, deviceID string, logs []models.WireLog) (string, error) {
	data, err := json.Marshal(logs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ingest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.devicePath(deviceID, "logs"), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create ingest request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	var resp IngestResponse
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("ingest for %s: %w", deviceID, err)
	}
	if !resp.Success {
		return "", fmt.Errorf("ingest for %s: %w: %s", deviceID, ErrUnsuccessful, resp.Error)
	}
	return resp.Token, nil
}

func (c *Client) devicePath(deviceID, suffix string) string {
	return c.BaseURL + "/devices/" + url.PathEscape(deviceID) + "/" + suffix
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.encoding == EncodingMsgpack {
		req.Header.Set("Accept", contentTypeMsgpack)
	} else {
		req.Header.Set("Accept", contentTypeJSON)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), contentTypeMsgpack) {
		if err := msgpack.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode msgpack response: %w", err)
		}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// StatusError reports a non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
