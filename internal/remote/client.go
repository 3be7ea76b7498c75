// Package remote implements the feed and content mutation ports over the
// server's JSON HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"Currents/internal/core/content"
	"Currents/internal/core/feeds"
)

// Client talks to the remote feed API. It implements feeds.RemoteFeed and
// content.RemoteContent. Transient server errors are retried with backoff;
// transport failures surface as content.ErrNoNetwork.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// NewClient creates a client for the API at baseURL. token may be empty
// for unauthenticated reads.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{logger: logger}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    rc,
		logger:  logger,
	}
}

// wire types

type feedItemRef struct {
	ItemID     string    `json:"itemId"`
	UpdateTime time.Time `json:"updateTime"`
}

type feedPageResponse struct {
	Items      []feedItemRef `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type batchResponse struct {
	Items []content.Item `json:"items"`
}

type voteRequest struct {
	OptionID string `json:"optionId"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

// InitializeFeed fetches the first page of a feed.
func (c *Client) InitializeFeed(ctx context.Context, feedID string) (*feeds.Page, error) {
	var resp feedPageResponse
	path := "/feeds/" + url.PathEscape(feedID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return toPage(resp), nil
}

// NextPage fetches the page identified by an opaque cursor.
func (c *Client) NextPage(ctx context.Context, cursor string) (*feeds.Page, error) {
	var resp feedPageResponse
	path := "/pages?cursor=" + url.QueryEscape(cursor)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return toPage(resp), nil
}

// BatchFetch fetches full content records for the given ids.
func (c *Client) BatchFetch(ctx context.Context, ids []string, opts feeds.FetchOptions) ([]content.Item, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	if opts.IncludeAggregates {
		q.Set("aggregates", "true")
	}
	if opts.IncludeUserInteractions {
		q.Set("interactions", "true")
	}
	var resp batchResponse
	if err := c.do(ctx, http.MethodGet, "/content?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Fetch retrieves one content record.
func (c *Client) Fetch(ctx context.Context, id string) (*content.Item, error) {
	var item content.Item
	if err := c.do(ctx, http.MethodGet, "/content/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Put submits a draft and returns the server's canonical item.
func (c *Client) Put(ctx context.Context, item content.Item) (*content.Item, error) {
	var canonical content.Item
	if err := c.do(ctx, http.MethodPost, "/content", item, &canonical); err != nil {
		return nil, err
	}
	return &canonical, nil
}

// Delete removes one content record.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/content/"+url.PathEscape(id), nil, nil)
}

// Vote casts a poll vote and returns the canonical vote, including its
// server-assigned id.
func (c *Client) Vote(ctx context.Context, id, optionID string) (*content.Vote, error) {
	var vote content.Vote
	path := "/content/" + url.PathEscape(id) + "/vote"
	if err := c.do(ctx, http.MethodPost, path, voteRequest{OptionID: optionID}, &vote); err != nil {
		return nil, err
	}
	return &vote, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", content.ErrNoNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError maps an HTTP error response to the error taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var parsed errorResponse
	_ = json.Unmarshal(raw, &parsed)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return content.ErrNotAuthenticated
	case http.StatusNotFound:
		return content.ErrNotFound
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		if len(parsed.Errors) > 0 {
			errs := make([]error, len(parsed.Errors))
			for i, fe := range parsed.Errors {
				errs[i] = content.NewValidationError(fe.Field, fe.Message)
			}
			return errors.Join(errs...)
		}
		if parsed.Message != "" {
			return content.NewValidationError("", parsed.Message)
		}
		return content.NewValidationError("", "request rejected")
	default:
		c.logger.Error("unexpected server response",
			"status", resp.StatusCode, "body", string(raw))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func toPage(resp feedPageResponse) *feeds.Page {
	entries := make([]feeds.Entry, len(resp.Items))
	for i, it := range resp.Items {
		entries[i] = feeds.Entry{ItemID: it.ItemID, UpdateTime: it.UpdateTime}
	}
	return &feeds.Page{Entries: entries, Cursor: resp.NextCursor}
}

// leveledLogger adapts slog to retryablehttp's LeveledLogger interface.
type leveledLogger struct {
	logger *slog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}
