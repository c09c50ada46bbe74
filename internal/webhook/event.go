package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

// decodeObject unmarshals the event's data.object into a typed stripe struct.
func decodeObject[T any](e *stripe.Event) (*T, error) {
	var obj T
	if err := json.Unmarshal(e.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return &obj, nil
}

// eventObjectID pulls the id out of data.object without committing to a
// shape. Used for the ledger dedupe key before the event is routed.
func eventObjectID(e *stripe.Event) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Data.Raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// metadataValue reads one key from data.object.metadata. Callers treat an
// empty string as absent.
func metadataValue(e *stripe.Event, key string) string {
	var probe struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(e.Data.Raw, &probe); err != nil {
		return ""
	}
	return probe.Metadata[key]
}

// applicationFeeID extracts the application fee id from either an
// application_fee object or a fee_refund object (whose fee reference may be
// an id string or an expanded object).
func applicationFeeID(e *stripe.Event) string {
	var probe struct {
		Object string          `json:"object"`
		ID     string          `json:"id"`
		Fee    json.RawMessage `json:"fee"`
	}
	if err := json.Unmarshal(e.Data.Raw, &probe); err != nil {
		return ""
	}

	switch probe.Object {
	case "application_fee":
		return probe.ID
	case "fee_refund":
		if len(probe.Fee) == 0 {
			return ""
		}
		var feeID string
		if err := json.Unmarshal(probe.Fee, &feeID); err == nil {
			return feeID
		}
		var fee struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(probe.Fee, &fee); err == nil {
			return fee.ID
		}
	}
	return ""
}
