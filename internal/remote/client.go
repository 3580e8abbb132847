// Package remote is the Confluence Cloud REST client. It owns transport,
// pagination, and response decoding; reconciliation semantics live in
// the sync engine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	cnerrors "github.com/aaronshaf/cn/internal/errors"
)

const (
	// pageLimit is the page size requested from the content API.
	pageLimit = 50

	// maxResponseBytes caps response bodies. Storage-format pages are
	// rarely over a few hundred KB; 20 MB leaves generous headroom.
	maxResponseBytes = 20 << 20

	requestTimeout = 30 * time.Second
)

// Client talks to one Confluence instance with basic auth.
type Client struct {
	baseURL string
	email   string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the given instance. baseURL must not
// have a trailing slash.
func NewClient(baseURL, email, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		email:   email,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// GetSpace fetches a space by key.
func (c *Client) GetSpace(ctx context.Context, key string) (*Space, error) {
	body, err := c.get(ctx, "/rest/api/space/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)

	return &Space{
		ID:   doc.Get("id").String(),
		Key:  doc.Get("key").String(),
		Name: doc.Get("name").String(),
	}, nil
}

// ListPages returns the full page snapshot of a space, following
// pagination until the server reports no next link. Bodies are not
// fetched; use GetPage per changed entity.
func (c *Client) ListPages(ctx context.Context, spaceKey string) ([]Page, error) {
	var pages []Page

	start := 0

	for {
		query := url.Values{
			"spaceKey": {spaceKey},
			"type":     {"page"},
			"status":   {"any"},
			"expand":   {"version,ancestors"},
			"start":    {strconv.Itoa(start)},
			"limit":    {strconv.Itoa(pageLimit)},
		}

		body, err := c.get(ctx, "/rest/api/content", query)
		if err != nil {
			return nil, err
		}

		doc := gjson.ParseBytes(body)

		results := doc.Get("results").Array()
		for _, r := range results {
			pages = append(pages, decodePage(r))
		}

		c.logger.Debug("listed pages",
			slog.String("space", spaceKey),
			slog.Int("batch", len(results)),
			slog.Int("total", len(pages)),
		)

		if doc.Get("_links.next").String() == "" || len(results) == 0 {
			return pages, nil
		}

		start += len(results)
	}
}

// GetPage fetches one page with its storage-format body.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	query := url.Values{"expand": {"body.storage,version,ancestors"}}

	body, err := c.get(ctx, "/rest/api/content/"+url.PathEscape(id), query)
	if err != nil {
		return nil, err
	}

	p := decodePage(gjson.ParseBytes(body))

	return &p, nil
}

// CreatePage creates a page in a space.
func (c *Client) CreatePage(ctx context.Context, spec PageSpec) (*Page, error) {
	payload := pagePayload(spec, 0)

	body, err := c.send(ctx, http.MethodPost, "/rest/api/content", payload)
	if err != nil {
		return nil, err
	}

	p := decodePage(gjson.ParseBytes(body))

	return &p, nil
}

// UpdatePage updates a page, tagging the write with newVersion. The
// server enforces optimistic concurrency: a stale version yields a 409,
// surfaced as ErrVersionConflict.
func (c *Client) UpdatePage(ctx context.Context, id string, spec PageSpec, newVersion int) (*Page, error) {
	payload := pagePayload(spec, newVersion)

	body, err := c.send(ctx, http.MethodPut, "/rest/api/content/"+url.PathEscape(id), payload)
	if err != nil {
		return nil, err
	}

	p := decodePage(gjson.ParseBytes(body))

	return &p, nil
}

// decodePage maps one content API result onto a Page. The parent is the
// last ancestor; the body is present only when expanded.
func decodePage(r gjson.Result) Page {
	p := Page{
		ID:        r.Get("id").String(),
		Title:     r.Get("title").String(),
		Status:    r.Get("status").String(),
		Version:   int(r.Get("version.number").Int()),
		Body:      r.Get("body.storage.value").String(),
		UpdatedAt: r.Get("version.when").String(),
		AuthorID:  r.Get("version.by.accountId").String(),
	}

	ancestors := r.Get("ancestors").Array()
	if len(ancestors) > 0 {
		p.ParentID = ancestors[len(ancestors)-1].Get("id").String()
	}

	return p
}

func pagePayload(spec PageSpec, newVersion int) map[string]any {
	payload := map[string]any{
		"type":  "page",
		"title": spec.Title,
		"body": map[string]any{
			"storage": map[string]any{
				"value":          spec.Body,
				"representation": "storage",
			},
		},
	}

	if spec.SpaceKey != "" {
		payload["space"] = map[string]any{"key": spec.SpaceKey}
	}

	if spec.ParentID != "" {
		payload["ancestors"] = []map[string]any{{"id": spec.ParentID}}
	}

	if newVersion > 0 {
		payload["version"] = map[string]any{"number": newVersion}
	}

	return payload
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	return c.do(req)
}

func (c *Client) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cnerrors.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", cnerrors.ErrNotFound, req.URL.Path)
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", cnerrors.ErrVersionConflict, apiMessage(body))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", cnerrors.ErrAPIResponse, resp.StatusCode, apiMessage(body))
	}

	return body, nil
}

// apiMessage extracts the human-readable message Confluence embeds in
// error responses, falling back to a truncated raw body.
func apiMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}

	const maxRaw = 200
	if len(body) > maxRaw {
		body = body[:maxRaw]
	}

	return string(body)
}
