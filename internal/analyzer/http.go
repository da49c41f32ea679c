package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// HTTPClient talks to the AI analysis service over its JSON API.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	timeout time.Duration
}

// NewHTTPClient builds a client with the bounded per-call timeout. The
// timeout is the only defense against a stuck backend; there are no retries.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{},
		timeout: timeout,
	}
}

type analyzeReceiptRequest struct {
	ImageURL  string `json:"image_url"`
	ReceiptID string `json:"receipt_id"`
}

func (c *HTTPClient) AnalyzeReceipt(ctx context.Context, imageURL, jobID string) (*ReceiptAnalysis, error) {
	var result ReceiptAnalysis
	err := c.post(ctx, "/api/analyze-receipt", analyzeReceiptRequest{
		ImageURL:  imageURL,
		ReceiptID: jobID,
	}, &result)
	if err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis response: %w", err)
	}
	return &result, nil
}

type checkAccountRequest struct {
	AccountHash  string `json:"account_hash"`
	BankCode     string `json:"bank_code,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

func (c *HTTPClient) CheckReputation(ctx context.Context, fingerprint, bankCode, businessLabel string) (*AccountReputation, error) {
	var result AccountReputation
	err := c.post(ctx, "/api/check-account", checkAccountRequest{
		AccountHash:  fingerprint,
		BankCode:     bankCode,
		BusinessName: businessLabel,
	}, &result)
	if err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reputation response: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyStatusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	var dnsErr *net.DNSError
	if errors.Is(err, syscall.ECONNREFUSED) || errors.As(err, &dnsErr) {
		return ErrUnavailable
	}
	return fmt.Errorf("analysis backend call: %w", err)
}

// backendErrorBody is the error envelope the service emits; FastAPI uses
// "detail", older endpoints used "message".
type backendErrorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func classifyStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body backendErrorBody
	_ = json.Unmarshal(raw, &body)
	message := body.Detail
	if message == "" {
		message = body.Message
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ValidationError{Message: message}
	}
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
		return ErrUnavailable
	}
	if message != "" {
		return errors.New(message)
	}
	return fmt.Errorf("analysis backend returned status %d", resp.StatusCode)
}
