// Package factory implements the QuotaClient port against the Factory
// subscription API.
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmaloy/keydeck/internal/domain/model"
	"github.com/dmaloy/keydeck/internal/domain/port/driven"
)

// DefaultBaseURL is the production Factory API origin.
const DefaultBaseURL = "https://app.factory.ai"

// subscriptionPath is the endpoint that reports usage and allowance for the
// organization a key belongs to.
const subscriptionPath = "/api/organization/subscription/schedule"

// userAgent mirrors a desktop browser; the endpoint rejects obvious bot agents.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Compile-time interface satisfaction check.
var _ driven.QuotaClient = (*Client)(nil)

// Client implements the driven.QuotaClient port over the Factory HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client against the production API.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. Intended for tests injecting an httptest server, and for deployments
// pointing at a mirror.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// usageBucket is one allowance bucket ("standard" or "premium") in the
// subscription response.
type usageBucket struct {
	UserTokens         int64   `json:"userTokens"`
	OrgTotalTokensUsed int64   `json:"orgTotalTokensUsed"`
	OrgOverageUsed     int64   `json:"orgOverageUsed"`
	BasicAllowance     int64   `json:"basicAllowance"`
	TotalAllowance     int64   `json:"totalAllowance"`
	OrgOverageLimit    int64   `json:"orgOverageLimit"`
	UsedRatio          float64 `json:"usedRatio"`
}

type usageData struct {
	StartDate int64       `json:"startDate"` // Unix millis.
	EndDate   int64       `json:"endDate"`   // Unix millis.
	Standard  usageBucket `json:"standard"`
	Premium   usageBucket `json:"premium"`
}

type subscriptionResponse struct {
	Usage    usageData `json:"usage"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// FetchQuota retrieves the quota snapshot for one credential. HTTP statuses
// are normalized: 401 maps to driven.ErrInvalidCredential, 403 to
// driven.ErrForbidden, anything else non-2xx to a status error.
func (c *Client) FetchQuota(ctx context.Context, credential string) (model.QuotaSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+subscriptionPath, nil)
	if err != nil {
		return model.QuotaSnapshot{}, fmt.Errorf("building subscription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.QuotaSnapshot{}, fmt.Errorf("fetching subscription: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return model.QuotaSnapshot{}, driven.ErrInvalidCredential
	case resp.StatusCode == http.StatusForbidden:
		return model.QuotaSnapshot{}, driven.ErrForbidden
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return model.QuotaSnapshot{}, fmt.Errorf("subscription request failed: status %d", resp.StatusCode)
	}

	var data subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return model.QuotaSnapshot{}, fmt.Errorf("decoding subscription response: %w", err)
	}

	return model.QuotaSnapshot{
		ExpiryDate: formatExpiry(data.Usage.EndDate),
		TotalQuota: data.Usage.Standard.TotalAllowance,
		UsedQuota:  data.Usage.Standard.OrgTotalTokensUsed,
		OwnerEmail: data.Customer.Email,
	}, nil
}

// formatExpiry renders a Unix-millisecond timestamp as the MM/DD period
// marker used throughout the domain.
func formatExpiry(unixMillis int64) string {
	t := time.UnixMilli(unixMillis).UTC()
	return fmt.Sprintf("%02d/%02d", int(t.Month()), t.Day())
}
