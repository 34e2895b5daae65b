package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/dex-scroll/pkg/client"
	"github.com/rs/zerolog"
)

// Fetcher is the HTTP primitive the catalog sources are built on.
// *client.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, endpoint, url string) (*client.Response, error)
}

// Endpoint labels used for metrics and logs.
const (
	EndpointList   = "list"
	EndpointRecord = "record"
	EndpointImage  = "image"
)

type listResponse struct {
	Count   *int    `json:"count"`
	Next    *string `json:"next"`
	Results []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"results"`
}

type recordResponse struct {
	Types []struct {
		Slot int `json:"slot"`
		Type struct {
			Name string `json:"name"`
		} `json:"type"`
	} `json:"types"`
}

// Client reads the collection listing and item records.
type Client struct {
	http     Fetcher
	baseURL  *url.URL
	listPath string
	logger   zerolog.Logger
}

// NewClient creates a catalog client. listPath is resolved against baseURL,
// as are relative record URLs found in listings.
func NewClient(http Fetcher, baseURL, listPath string, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", baseURL)
	}
	if listPath == "" {
		return nil, fmt.Errorf("list path is required")
	}

	return &Client{
		http:     http,
		baseURL:  base,
		listPath: listPath,
		logger:   logger,
	}, nil
}

// ListURL returns the listing URL for a window.
func (c *Client) ListURL(offset, limit int) string {
	u := c.resolve(c.listPath)
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String()
}

// ListPage requests one window of the collection listing. Any non-2xx
// response or undecodable body is an error.
func (c *Client) ListPage(ctx context.Context, offset, limit int) (*ListPage, error) {
	resp, err := c.http.Get(ctx, EndpointList, c.ListURL(offset, limit))
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}

	var body listResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	page := &ListPage{
		Count:   body.Count,
		Next:    body.Next,
		Results: make([]Reference, 0, len(body.Results)),
	}
	for _, r := range body.Results {
		recordURL := SanitizeText(r.URL)
		if recordURL != "" {
			recordURL = c.resolve(recordURL).String()
		}
		page.Results = append(page.Results, Reference{
			ID:   IDFromURL(recordURL),
			Name: SanitizeText(r.Name),
			URL:  recordURL,
		})
	}

	c.logger.Debug().
		Int("offset", offset).
		Int("limit", limit).
		Int("results", len(page.Results)).
		Msg("Fetched listing page")

	return page, nil
}

// FetchTags fetches the record behind ref and returns its sanitized
// classification tags in slot order.
func (c *Client) FetchTags(ctx context.Context, ref Reference) ([]string, error) {
	if ref.URL == "" {
		return nil, fmt.Errorf("reference %q has no url", ref.ID)
	}

	resp, err := c.http.Get(ctx, EndpointRecord, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch record %s: %w", ref.ID, err)
	}

	var body recordResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", ref.ID, err)
	}

	sort.SliceStable(body.Types, func(i, j int) bool {
		return body.Types[i].Slot < body.Types[j].Slot
	})

	raw := make([]string, 0, len(body.Types))
	for _, t := range body.Types {
		raw = append(raw, t.Type.Name)
	}
	return SanitizeTags(raw), nil
}

func (c *Client) resolve(ref string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return &url.URL{Path: ref}
	}
	return c.baseURL.ResolveReference(u)
}
