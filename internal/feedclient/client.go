// Package feedclient talks to the chat server on behalf of the terminal
// viewer: REST history pages for the feed engine and a WebSocket for live
// message changes.
package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"chatfeed/internal/feed"
	"chatfeed/internal/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HistoryPage mirrors the server's paginated history response. Items are
// newest first.
type HistoryPage struct {
	Items      []models.Message `json:"items"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Channels(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	if err := c.get(ctx, "/api/v1/channels", &channels); err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	return channels, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.get(ctx, "/api/v1/users/me", &user); err != nil {
		return nil, fmt.Errorf("loading current user: %w", err)
	}
	return &user, nil
}

// History fetches one page of a channel's history older than beforeID, or the
// newest page when beforeID is empty.
func (c *Client) History(ctx context.Context, channelID, beforeID string, limit int) (*HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if beforeID != "" {
		q.Set("before", beforeID)
	}
	path := "/api/v1/channels/" + url.PathEscape(channelID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page HistoryPage
	if err := c.get(ctx, path, &page); err != nil {
		return nil, fmt.Errorf("loading history of %s: %w", channelID, err)
	}
	return &page, nil
}

// LoadInitial implements feed.Loader.
func (c *Client) LoadInitial(ctx context.Context, channelID string, limit int) (feed.Page, error) {
	return c.load(ctx, channelID, "", limit)
}

// LoadOlder implements feed.Loader.
func (c *Client) LoadOlder(ctx context.Context, channelID, beforeID string, limit int) (feed.Page, error) {
	return c.load(ctx, channelID, beforeID, limit)
}

// load converts a newest-first server page into the ascending order the feed
// buffer keeps.
func (c *Client) load(ctx context.Context, channelID, beforeID string, limit int) (feed.Page, error) {
	page, err := c.History(ctx, channelID, beforeID, limit)
	if err != nil {
		return feed.Page{}, err
	}
	msgs := slices.Clone(page.Items)
	slices.Reverse(msgs)
	return feed.Page{Messages: msgs, HasMore: page.HasMore}, nil
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &body) == nil {
			apiErr.Code = body.Error.Code
			apiErr.Message = body.Error.Message
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

var _ feed.Loader = (*Client)(nil)
