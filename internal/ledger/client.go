// Package ledger talks to the external authoritative store. The ledger owns
// the data hash: it is generated there exactly once at creation, and this
// client only fetches and transmits it.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
)

// Client is an HTTP client for the ledger collaborator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used in tests).
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithRequestTimeout bounds each ledger call.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient constructs a ledger client against the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type hashResponse struct {
	BatchCode string `json:"batchCode"`
	DataHash  string `json:"dataHash"`
}

// FetchAuthoritativeHash looks up the hash recorded at creation for a batch
// code. Unknown codes return domain.ErrHashNotFound; transport failures and
// non-2xx responses wrap domain.ErrLedgerUnavailable so callers fail closed.
func (c *Client) FetchAuthoritativeHash(ctx context.Context, batchCode string) (string, error) {
	endpoint := fmt.Sprintf("%s/hashes/%s", c.baseURL, url.PathEscape(batchCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build ledger request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", domain.ErrHashNotFound
	default:
		return "", fmt.Errorf("%w: ledger responded %d", domain.ErrLedgerUnavailable, resp.StatusCode)
	}

	var payload hashResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrLedgerUnavailable, err)
	}
	return payload.DataHash, nil
}

type creationRequest struct {
	BatchCode    string `json:"batchCode"`
	DrugName     string `json:"drugName"`
	Quantity     int64  `json:"quantity"`
	MfgDate      int64  `json:"mfgDate"`
	ExpDate      int64  `json:"expDate"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

// RecordCreation registers a new batch with the ledger and returns the
// authoritative data hash. Called exactly once per batch at creation; the
// returned hash is stored opaquely and never regenerated.
func (c *Client) RecordCreation(ctx context.Context, batch domain.Batch) (string, error) {
	body, err := json.Marshal(creationRequest{
		BatchCode:    batch.BatchCode,
		DrugName:     batch.DrugName,
		Quantity:     batch.Quantity,
		MfgDate:      batch.ManufactureDate.Unix(),
		ExpDate:      batch.ExpiryDate.Unix(),
		Manufacturer: batch.Manufacturer,
	})
	if err != nil {
		return "", fmt.Errorf("encode creation record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batches", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: ledger responded %d to creation", domain.ErrLedgerUnavailable, resp.StatusCode)
	}

	var payload hashResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode creation response: %v", domain.ErrLedgerUnavailable, err)
	}
	if payload.DataHash == "" {
		return "", fmt.Errorf("%w: ledger returned an empty hash at creation", domain.ErrLedgerUnavailable)
	}
	return payload.DataHash, nil
}
