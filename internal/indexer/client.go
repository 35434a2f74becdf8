// Package indexer talks to the downstream search/index service. Delivery
// is at-least-once: the caller retries transient failures and the service
// deduplicates on document id.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloo-solutions/corpora/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Client is the capability consumed by the pipeline.
type Client interface {
	Submit(ctx context.Context, itemID string, chunks []string, metadata domain.UnitMetadata) error
}

// HTTPClient submits documents to the index service over its JSON API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates an index client for the given base URL. The API
// key is sent as a bearer token when set.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

type submitRequest struct {
	DocumentID string              `json:"document_id"`
	Chunks     []string            `json:"chunks"`
	Metadata   domain.UnitMetadata `json:"metadata"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Submit sends the document's chunks and metadata for indexing. Server
// errors and network failures are transient; a 4xx or an explicit
// success=false response is permanent.
func (c *HTTPClient) Submit(ctx context.Context, itemID string, chunks []string, metadata domain.UnitMetadata) error {
	body, err := json.Marshal(submitRequest{
		DocumentID: itemID,
		Chunks:     chunks,
		Metadata:   metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransientError("index service unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewTransientError("failed to read index response", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewTransientError(
			fmt.Sprintf("index service returned %d", resp.StatusCode),
			fmt.Errorf("%s", raw),
		)
	case resp.StatusCode >= 400:
		return fmt.Errorf("index service rejected document %s: %d %s", itemID, resp.StatusCode, raw)
	}

	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "index service returned malformed response", err)
	}
	if !out.Success {
		return fmt.Errorf("index service did not accept document %s: %s", itemID, out.Message)
	}
	return nil
}

// Ping verifies the index service is reachable. Used at startup when
// indexing is required for the run.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransientError("index service unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("index service health check returned %d", resp.StatusCode)
	}
	return nil
}
