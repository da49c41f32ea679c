// Package anchor wraps the ledger anchoring collaborator. Anchoring is an
// optional side-step after a verdict is persisted: failures here are
// transient and never fail the job.
package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Receipt references the written ledger entry.
type Receipt struct {
	TransactionRef string `json:"transaction_id"`
	ExplorerURL    string `json:"explorer_url"`
}

// Request is the minimal verdict digest that goes on the ledger.
type Request struct {
	ReceiptID  string `json:"receipt_id"`
	TrustScore int    `json:"trust_score"`
	Verdict    string `json:"verdict"`
}

// Anchorer writes a verdict digest to an external immutable ledger.
type Anchorer interface {
	Anchor(ctx context.Context, req Request) (*Receipt, error)
}

// HTTPAnchorer calls the anchoring service's JSON API.
type HTTPAnchorer struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPAnchorer builds the client. Anchoring gets its own modest timeout;
// it runs after the verdict is safe, so slow is fine but unbounded is not.
func NewHTTPAnchorer(baseURL string) *HTTPAnchorer {
	return &HTTPAnchorer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *HTTPAnchorer) Anchor(ctx context.Context, req Request) (*Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode anchor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/anchor", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build anchor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anchor call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("anchor service returned status %d", resp.StatusCode)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode anchor response: %w", err)
	}
	if receipt.TransactionRef == "" {
		return nil, fmt.Errorf("anchor response missing transaction id")
	}
	return &receipt, nil
}
