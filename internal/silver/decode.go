// Package silver filters, decodes, and explodes bronze records into
// normalized line-item rows, applying a three-severity data-quality gate and
// assigning day-granularity partition keys.
package silver

import (
	"encoding/json"
	"fmt"
)

// LineItem is one entry of an order payload's item array.
type LineItem struct {
	SKU       string  `json:"sku"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Note      string  `json:"note,omitempty"`
}

// OrderPayload is the decoded body of an order.created event.
type OrderPayload struct {
	OrderID    string
	LocationID string
	Brand      string
	Items      []LineItem
}

// payloadEnvelope carries the version tag used to select a decoder.
type payloadEnvelope struct {
	SchemaVersion int `json:"schema_version"`
}

type orderCreatedV1 struct {
	SchemaVersion int        `json:"schema_version"`
	OrderID       string     `json:"order_id"`
	LocationID    string     `json:"location_id"`
	Brand         string     `json:"brand"`
	Items         []LineItem `json:"items"`
}

// DecodeOrderCreated decodes an order.created payload. The bronze body stays
// opaque until this point; all payload schema drift is absorbed here by
// versioned decoders, so already-ingested bronze records stay valid when the
// payload evolves.
func DecodeOrderCreated(body json.RawMessage) (*OrderPayload, error) {
	var envelope payloadEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("silver: payload is not valid JSON: %w", err)
	}

	switch envelope.SchemaVersion {
	case 0, 1: // version 0 is the pre-tagged shape, identical to v1
		var payload orderCreatedV1
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("silver: failed to decode order payload v1: %w", err)
		}
		return &OrderPayload{
			OrderID:    payload.OrderID,
			LocationID: payload.LocationID,
			Brand:      payload.Brand,
			Items:      payload.Items,
		}, nil
	default:
		return nil, fmt.Errorf("silver: unsupported payload schema version %d", envelope.SchemaVersion)
	}
}
