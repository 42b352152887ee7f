package dataset

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/lakeline/lakeline/pkg/types"
)

// GenSpec controls deterministic dataset generation. The same spec always
// produces byte-identical datasets, giving test suites literal expected
// outputs across runs and environments.
type GenSpec struct {
	// Seed drives the PRNG; equal seeds yield equal datasets.
	Seed int64

	// Streams is the number of location streams to simulate.
	Streams int

	// OrdersPerStream is the number of order lifecycles per stream.
	OrdersPerStream int

	// Start is the event time of the first event.
	Start time.Time

	// MeanGap is the average event-time gap between consecutive events
	// within a stream.
	MeanGap time.Duration
}

var genBrands = []string{"acme", "northwind", "globex", "initech"}
var genSKUs = []string{"SKU-100", "SKU-200", "SKU-300", "SKU-400", "SKU-500", "SKU-600"}
var genStages = []string{"picked", "packed", "shipped"}

// orderCreatedBody is the payload shape of an order.created event.
type orderCreatedBody struct {
	SchemaVersion int        `json:"schema_version"`
	OrderID       string     `json:"order_id"`
	LocationID    string     `json:"location_id"`
	Brand         string     `json:"brand"`
	Items         []itemBody `json:"items"`
}

type itemBody struct {
	SKU       string  `json:"sku"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Note      string  `json:"note,omitempty"`
}

type stageBody struct {
	SchemaVersion int    `json:"schema_version"`
	OrderID       string `json:"order_id"`
	Stage         string `json:"stage"`
}

type heartbeatBody struct {
	SchemaVersion int    `json:"schema_version"`
	Status        string `json:"status"`
}

// Generate writes a deterministic event dataset described by spec.
func Generate(w *Writer, spec GenSpec) (int, error) {
	if spec.Streams <= 0 || spec.OrdersPerStream <= 0 {
		return 0, fmt.Errorf("dataset: generation needs at least one stream and one order")
	}
	if spec.MeanGap <= 0 {
		spec.MeanGap = time.Minute
	}
	if spec.Start.IsZero() {
		spec.Start = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	}

	rng := rand.New(rand.NewSource(spec.Seed))
	total := 0

	for s := 0; s < spec.Streams; s++ {
		streamID := fmt.Sprintf("loc-%03d", s+1)
		// Stagger stream start times so the merged event-time order
		// interleaves streams, producing bounded cross-stream disorder.
		now := spec.Start.Add(time.Duration(rng.Int63n(int64(spec.MeanGap))))
		seq := uint64(0)

		emit := func(evType types.EventType, body interface{}) error {
			seq++
			raw, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("dataset: marshal body: %w", err)
			}
			ev := types.Event{
				StreamID:  streamID,
				Sequence:  seq,
				Type:      evType,
				EventTime: now,
				Body:      raw,
			}
			if err := w.Append(ev); err != nil {
				return err
			}
			total++
			// Event time only moves forward within a stream, keeping
			// sequence order and event-time order aligned per stream.
			now = now.Add(time.Duration(rng.Int63n(int64(2*spec.MeanGap))) + time.Second)
			return nil
		}

		for o := 0; o < spec.OrdersPerStream; o++ {
			orderID := fmt.Sprintf("%s-ord-%05d", streamID, o+1)
			brand := genBrands[rng.Intn(len(genBrands))]

			items := make([]itemBody, 1+rng.Intn(4))
			for i := range items {
				items[i] = itemBody{
					SKU:       genSKUs[rng.Intn(len(genSKUs))],
					Quantity:  int64(1 + rng.Intn(5)),
					UnitPrice: float64(100+rng.Intn(9900)) / 100,
				}
				if rng.Intn(3) == 0 {
					items[i].Note = "gift"
				}
			}

			if err := emit(types.EventOrderCreated, orderCreatedBody{
				SchemaVersion: 1,
				OrderID:       orderID,
				LocationID:    streamID,
				Brand:         brand,
				Items:         items,
			}); err != nil {
				return total, err
			}

			for _, stage := range genStages[:1+rng.Intn(len(genStages))] {
				if err := emit(types.EventStageChanged, stageBody{
					SchemaVersion: 1,
					OrderID:       orderID,
					Stage:         stage,
				}); err != nil {
					return total, err
				}
			}

			if err := emit(types.EventOrderCompleted, stageBody{
				SchemaVersion: 1,
				OrderID:       orderID,
				Stage:         "completed",
			}); err != nil {
				return total, err
			}

			if rng.Intn(4) == 0 {
				if err := emit(types.EventHeartbeat, heartbeatBody{
					SchemaVersion: 1,
					Status:        "ok",
				}); err != nil {
					return total, err
				}
			}
		}
	}

	return total, nil
}
