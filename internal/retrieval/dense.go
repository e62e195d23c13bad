package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nextlevelbuilder/botserver/internal/errs"
)

// DenseRetriever queries a Qdrant-class vector index over its REST API
// with plain net/http/JSON; no dedicated SDK.
type DenseRetriever struct {
	baseURL    string
	collection string
	apiKey     string
	client     *http.Client
}

// NewDenseRetriever builds a retriever against a Qdrant-class endpoint.
// httpClient should be built through tlsconfig.Manager's ClientConfig when
// the endpoint requires TLS/mTLS; a plain http.DefaultClient is fine for a
// loopback/dev Qdrant instance.
func NewDenseRetriever(baseURL, collection, apiKey string, httpClient *http.Client) *DenseRetriever {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DenseRetriever{baseURL: baseURL, collection: collection, apiKey: apiKey, client: httpClient}
}

type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []struct {
		ID    any     `json:"id"`
		Score float64 `json:"score"`
	} `json:"result"`
}

// Search performs a nearest-neighbor query against the configured
// collection and returns ranked results.
func (d *DenseRetriever) Search(ctx context.Context, vector []float32, limit int) ([]ScoredResult, error) {
	body, err := json.Marshal(qdrantSearchRequest{Vector: vector, Limit: limit, WithPayload: false})
	if err != nil {
		return nil, fmt.Errorf("encode dense search request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", d.baseURL, d.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build dense search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("api-key", d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dense search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: dense backend returned %d", errs.ErrInternal, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: dense backend returned %d", errs.ErrInvalidInput, resp.StatusCode)
	}

	var parsed qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode dense search response: %w", err)
	}

	results := make([]ScoredResult, 0, len(parsed.Result))
	for i, r := range parsed.Result {
		results = append(results, ScoredResult{
			DocumentID: fmt.Sprint(r.ID),
			Score:      r.Score,
			Rank:       i + 1,
		})
	}
	return results, nil
}
