// Package vinsight is a Go SDK for the VInsight dashboard backend: watchlist
// persistence, quotes and batch price lookups.
package vinsight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Limiter throttles outgoing requests. *util.RateLimiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client talks to the backend REST API. Requests carry the session cookie
// held in the client's cookie jar; without one the backend treats the caller
// as signed out.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	jar           http.CookieJar
	sessionCookie string
	limiter       Limiter
}

// NewClient creates a new API client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	jar, _ := cookiejar.New(nil) // only fails for a broken PublicSuffixList
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 30 * time.Second, Jar: jar},
		jar:           jar,
		sessionCookie: "session",
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// SetLimiter installs a request throttle. Passing nil removes it.
func (c *Client) SetLimiter(l Limiter) {
	c.limiter = l
}

// SetSession stores a session cookie for the backend origin. An empty token
// leaves the client signed out.
func (c *Client) SetSession(cookieName, token string) {
	if cookieName != "" {
		c.sessionCookie = cookieName
	}
	if token == "" {
		return
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	c.jar.SetCookies(u, []*http.Cookie{{Name: c.sessionCookie, Value: token, Path: "/"}})
}

// HasSession reports whether a session cookie is held for the backend.
func (c *Client) HasSession() bool {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == c.sessionCookie && ck.Value != "" {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Watchlists
// ---------------------------------------------------------------------------

// ListWatchlists returns every watchlist owned by the session user.
func (c *Client) ListWatchlists(ctx context.Context) ([]Watchlist, error) {
	var out []Watchlist
	if err := c.doJSON(ctx, http.MethodGet, "/api/watchlists/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateWatchlist creates a named watchlist.
func (c *Client) CreateWatchlist(ctx context.Context, name string) (Watchlist, error) {
	var out Watchlist
	err := c.doJSON(ctx, http.MethodPost, "/api/watchlists/", map[string]string{"name": name}, &out)
	return out, err
}

// DeleteWatchlist removes a watchlist.
func (c *Client) DeleteWatchlist(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, watchlistPath(id), nil, nil)
}

// AddStock appends symbol to a watchlist and returns the updated list.
func (c *Client) AddStock(ctx context.Context, id int, symbol string) (Watchlist, error) {
	var out Watchlist
	err := c.doJSON(ctx, http.MethodPost, watchlistPath(id)+"/add", map[string]string{"symbol": symbol}, &out)
	return out, err
}

// RemoveStock removes symbol from a watchlist and returns the updated list.
func (c *Client) RemoveStock(ctx context.Context, id int, symbol string) (Watchlist, error) {
	var out Watchlist
	err := c.doJSON(ctx, http.MethodDelete, watchlistPath(id)+"/remove/"+url.PathEscape(symbol), nil, &out)
	return out, err
}

// MoveStock moves symbol from watchlist id to targetID in one call and
// returns the updated source list.
func (c *Client) MoveStock(ctx context.Context, id int, symbol string, targetID int) (Watchlist, error) {
	body := struct {
		Symbol            string `json:"symbol"`
		TargetWatchlistID int    `json:"target_watchlist_id"`
	}{symbol, targetID}
	var out Watchlist
	err := c.doJSON(ctx, http.MethodPost, watchlistPath(id)+"/move", body, &out)
	return out, err
}

// ReorderWatchlists persists the display order of the user's watchlists.
func (c *Client) ReorderWatchlists(ctx context.Context, ids []int) error {
	return c.doJSON(ctx, http.MethodPost, "/api/watchlists/reorder", map[string][]int{"ids": ids}, nil)
}

// ReorderStocks persists the order of symbols inside one watchlist.
func (c *Client) ReorderStocks(ctx context.Context, id int, symbols []string) error {
	return c.doJSON(ctx, http.MethodPost, watchlistPath(id)+"/reorder", map[string][]string{"symbols": symbols}, nil)
}

// ImportWatchlist uploads a CSV/XLSX file with a "Symbol" column. The
// backend parses it, merges the symbols into the list and returns the
// result. Parse failures come back as *APIError with the backend's message.
func (c *Client) ImportWatchlist(ctx context.Context, id int, filename string, r io.Reader) (Watchlist, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Watchlist{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return Watchlist{}, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return Watchlist{}, fmt.Errorf("closing multipart body: %w", err)
	}

	var out Watchlist
	err = c.do(ctx, http.MethodPost, watchlistPath(id)+"/import", &buf, mw.FormDataContentType(), &out)
	return out, err
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// GetQuote fetches the latest quote for ticker.
func (c *Client) GetQuote(ctx context.Context, ticker string) (Quote, error) {
	var out Quote
	err := c.doJSON(ctx, http.MethodGet, "/api/data/quote/"+url.PathEscape(ticker), nil, &out)
	return out, err
}

// BatchStock fetches list-row details for several tickers in one call.
func (c *Client) BatchStock(ctx context.Context, tickers []string) ([]StockDetail, error) {
	var raw []json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/data/batch-stock", map[string][]string{"tickers": tickers}, &raw); err != nil {
		return nil, err
	}
	out := make([]StockDetail, 0, len(raw))
	for _, r := range raw {
		var d StockDetail
		if err := json.Unmarshal(r, &d); err != nil {
			return nil, fmt.Errorf("decoding batch-stock row: %w", err)
		}
		d.Raw = r
		out = append(out, d)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func watchlistPath(id int) string {
	return "/api/watchlists/" + strconv.Itoa(id)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if in == nil {
		return c.do(ctx, method, path, nil, "", out)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s body: %w", path, err)
	}
	return c.do(ctx, method, path, bytes.NewReader(data), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// APIError is a non-2xx answer from the backend. Message is the backend's
// own text, unmodified.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// IsUnauthorized reports whether err is a 401 or 403 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		var detail string
		switch {
		case len(payload.Detail) > 0 && json.Unmarshal(payload.Detail, &detail) == nil:
			apiErr.Message = detail
		case len(payload.Detail) > 0:
			apiErr.Message = string(payload.Detail)
		case payload.Error != "":
			apiErr.Message = payload.Error
		case payload.Message != "":
			apiErr.Message = payload.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
