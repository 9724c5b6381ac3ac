package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoMetadata is returned when the endpoint knows no metadata for a content id.
var ErrNoMetadata = errors.New("no metadata found for this retrieval")

// HTTPFetcher reads preview metadata from the proxy's retrieval-info route.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPFetcher returns a fetcher for baseURL, for example
// "http://localhost:8080". A nil client uses http.DefaultClient.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/api/retrieval-info",
		client:   client,
	}
}

type retrievalInfo struct {
	ContentMetadatas []json.RawMessage `json:"content_metadatas"`
}

// FetchPreview returns the first content metadata entry for p.
func (f *HTTPFetcher) FetchPreview(ctx context.Context, p Params) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("messageId", p.MessageID)
	q.Set("contentId", p.ContentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching retrieval info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading retrieval info: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}

	var info retrievalInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding retrieval info: %w", err)
	}
	if len(info.ContentMetadatas) == 0 {
		return nil, ErrNoMetadata
	}
	return info.ContentMetadatas[0], nil
}
