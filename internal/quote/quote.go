// Package quote fetches a random quote for the daily quote message.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const DefaultURL = "https://api.quotable.io/random"

var ErrEmptyQuote = errors.New("quote service returned no content")

// Fetcher retrieves quotes from a quotable-compatible endpoint.
type Fetcher struct {
	url        string
	httpClient *http.Client
}

func NewFetcher(url string) *Fetcher {
	if url == "" {
		url = DefaultURL
	}
	return &Fetcher{url: url, httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// Fetch returns the text of one random quote, with its author appended when
// the service provides one.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("quote service returned status %d", resp.StatusCode)
	}

	var body struct {
		Content string `json:"content"`
		Author  string `json:"author"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding quote: %w", err)
	}
	content := strings.TrimSpace(body.Content)
	if content == "" {
		return "", ErrEmptyQuote
	}
	if author := strings.TrimSpace(body.Author); author != "" {
		return content + "\n- " + author, nil
	}
	return content, nil
}
