package effects

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"lessonpay/internal/config"
)

// GA4Client sends purchase events to Google Analytics 4 over the Measurement
// Protocol. There is no official Go SDK for the protocol; it is a single JSON
// POST per event.
type GA4Client struct {
	cfg        *config.AnalyticsConfig
	httpClient *http.Client
}

// NewGA4Client creates a Measurement Protocol client.
func NewGA4Client(cfg *config.AnalyticsConfig) *GA4Client {
	return &GA4Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether analytics credentials are configured.
func (c *GA4Client) Enabled() bool {
	return c.cfg.MeasurementID != "" && c.cfg.APISecret != ""
}

// Purchase is a completed-payment analytics event.
type Purchase struct {
	// ClientID identifies the purchaser stream. Payments have no browser
	// client, so callers pass a stable synthetic id (the payment id).
	ClientID      string
	TransactionID string
	Value         int64
	Currency      string
}

// TrackPurchase posts a purchase event. A non-2xx response is an error; GA4
// itself accepts malformed payloads silently, so status is all we can check.
func (c *GA4Client) TrackPurchase(ctx context.Context, p Purchase) error {
	if !c.Enabled() {
		return nil
	}

	payload := map[string]interface{}{
		"client_id": p.ClientID,
		"events": []map[string]interface{}{
			{
				"name": "purchase",
				"params": map[string]interface{}{
					"transaction_id": p.TransactionID,
					"value":          p.Value,
					"currency":       p.Currency,
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal GA4 payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s?measurement_id=%s&api_secret=%s",
		c.cfg.Endpoint,
		url.QueryEscape(c.cfg.MeasurementID),
		url.QueryEscape(c.cfg.APISecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build GA4 request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GA4 request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GA4 returned status %d", resp.StatusCode)
	}
	return nil
}
