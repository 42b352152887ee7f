package types

import "time"

// SilverRow is one exploded line item derived from a bronze record's payload.
// StreamID and Sequence are the lineage link back to the originating bronze
// record; SourceOffset is that record's bronze log position.
type SilverRow struct {
	StreamID     string    `json:"stream_id"`
	Sequence     uint64    `json:"sequence"`
	SourceOffset uint64    `json:"source_offset"`
	ItemIndex    int       `json:"item_index"`
	OrderID      string    `json:"order_id"`
	LocationID   string    `json:"location_id"`
	Brand        string    `json:"brand"`
	SKU          string    `json:"sku"`
	Quantity     int64     `json:"quantity"`
	UnitPrice    float64   `json:"unit_price"`
	Extended     float64   `json:"extended"`
	Note         string    `json:"note,omitempty"`
	EventTime    time.Time `json:"event_time"`
	PartitionKey string    `json:"partition_key"`
}

// DayPartition derives the day-granularity partition key for a timestamp.
func DayPartition(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DayWindowBounds returns the half-open [start, end) bounds of the day window
// identified by a partition key produced by DayPartition.
func DayWindowBounds(key string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", key, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}
