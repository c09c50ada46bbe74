package effects

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonpay/internal/config"
)

func newTestGA4Client() *GA4Client {
	c := NewGA4Client(&config.AnalyticsConfig{
		MeasurementID: "G-TEST",
		APISecret:     "secret",
		Endpoint:      "https://www.google-analytics.com/mp/collect",
	})
	c.httpClient = &http.Client{Transport: httpmock.DefaultTransport}
	return c
}

func TestGA4TrackPurchase(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var got map[string]interface{}
	httpmock.RegisterResponder("POST", "https://www.google-analytics.com/mp/collect",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "G-TEST", req.URL.Query().Get("measurement_id"))
			assert.Equal(t, "secret", req.URL.Query().Get("api_secret"))

			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &got))
			return httpmock.NewStringResponse(204, ""), nil
		})

	c := newTestGA4Client()
	err := c.TrackPurchase(context.Background(), Purchase{
		ClientID:      "pay-1",
		TransactionID: "pay-1",
		Value:         5000,
		Currency:      "JPY",
	})
	require.NoError(t, err)

	assert.Equal(t, "pay-1", got["client_id"])
	events := got["events"].([]interface{})
	require.Len(t, events, 1)
	event := events[0].(map[string]interface{})
	assert.Equal(t, "purchase", event["name"])
	params := event["params"].(map[string]interface{})
	assert.Equal(t, "JPY", params["currency"])
	assert.Equal(t, float64(5000), params["value"])
}

func TestGA4TrackPurchaseNonSuccessStatus(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://www.google-analytics.com/mp/collect",
		httpmock.NewStringResponder(500, "boom"))

	c := newTestGA4Client()
	err := c.TrackPurchase(context.Background(), Purchase{ClientID: "pay-1"})
	assert.Error(t, err)
}

func TestGA4DisabledWithoutCredentials(t *testing.T) {
	c := NewGA4Client(&config.AnalyticsConfig{})
	assert.False(t, c.Enabled())
	// Disabled client is a no-op, no network call attempted.
	assert.NoError(t, c.TrackPurchase(context.Background(), Purchase{}))
}
