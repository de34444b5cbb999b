// Package fetcher handles feed downloading and normalization.
package fetcher

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mmcdole/gofeed"
)

const maxBodySize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result holds a fetched feed.
type Result struct {
	Title string
	Items []Item
}

// Item is a feed entry normalized from Atom, RSS or JSON Feed.
type Item struct {
	ID      string
	Title   string
	Link    string
	PubDate string
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client HTTPClient
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads the feed at url and normalizes its items, preserving the
// order in which the feed lists them. A well-formed XML document that is
// neither Atom nor RSS yields an empty result rather than an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "YTLiveBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return Parse(body)
}

// Parse normalizes a raw feed document.
func Parse(body []byte) (*Result, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) && wellFormedXML(body) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	res := &Result{Title: feed.Title}
	for _, it := range feed.Items {
		item := Normalize(it)
		if item.ID == "" {
			continue
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

// Normalize converts a parsed entry. The identifier is the entry's own id
// (Atom id, RSS guid), falling back to its link. The date is the published
// date, falling back to the updated date.
func Normalize(it *gofeed.Item) Item {
	id := it.GUID
	if id == "" {
		id = it.Link
	}
	pub := it.Published
	if pub == "" {
		pub = it.Updated
	}
	return Item{
		ID:      id,
		Title:   it.Title,
		Link:    it.Link,
		PubDate: pub,
	}
}

func wellFormedXML(body []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(body))
	sawElement := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return sawElement
		}
		if err != nil {
			return false
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
}
