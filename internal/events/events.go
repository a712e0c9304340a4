package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/catalog-ingest/internal/models"
)

// EventType represents the type of catalog event
type EventType string

const (
	// EventTypeProductCreated is recorded when a product enters the catalog
	EventTypeProductCreated EventType = "PRODUCT_CREATED"
	// EventTypeProductUpdated is recorded when an existing product is rewritten
	EventTypeProductUpdated EventType = "PRODUCT_UPDATED"

	AggregateProduct = "product"
	StreamCatalog    = "stream:catalog"
	Source           = "catalog-ingest"
)

// ProductChanged is the payload of PRODUCT_CREATED and PRODUCT_UPDATED events
type ProductChanged struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	ProductID     string    `json:"product_id"`
	Name          string    `json:"name"`
	SourceURL     string    `json:"source_url,omitempty"`
	BrandID       string    `json:"brand_id,omitempty"`
	OriginalPrice string    `json:"original_price"`
	ResalePrice   string    `json:"resale_price"`
	Stock         int       `json:"stock"`
	Images        []string  `json:"images,omitempty"`
	CategoryIDs   []string  `json:"category_ids,omitempty"`
	Source        string    `json:"source"`
}

// NewProductChanged builds the event payload from a product snapshot.
func NewProductChanged(t EventType, p *models.Product) *ProductChanged {
	ts := p.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &ProductChanged{
		EventID:       uuid.New().String(),
		EventType:     string(t),
		Timestamp:     ts,
		ProductID:     p.ID,
		Name:          p.Name,
		SourceURL:     p.SourceURL,
		BrandID:       p.BrandID,
		OriginalPrice: p.OriginalPrice.StringFixed(2),
		ResalePrice:   p.ResalePrice.StringFixed(2),
		Stock:         p.Stock,
		Images:        p.Images,
		CategoryIDs:   p.CategoryIDs,
		Source:        Source,
	}
}

func (e *ProductChanged) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// DecodeProductChanged parses an outbox payload back into its event.
func DecodeProductChanged(data []byte) (*ProductChanged, error) {
	var e ProductChanged
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode product event: %w", err)
	}

	switch EventType(e.EventType) {
	case EventTypeProductCreated, EventTypeProductUpdated:
	default:
		return nil, fmt.Errorf("unknown product event type %q", e.EventType)
	}
	if e.ProductID == "" {
		return nil, errors.New("product event has no product id")
	}

	return &e, nil
}

// StreamEntry returns the fields of the stream entry for e. Consumers route on
// the flat fields; "product" carries the whole snapshot. attempt starts at 1.
func (e *ProductChanged) StreamEntry(outboxID string, attempt int) (map[string]interface{}, error) {
	snapshot, err := e.Marshal()
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"event_id":     e.EventID,
		"event_type":   e.EventType,
		"product_id":   e.ProductID,
		"stock":        strconv.Itoa(e.Stock),
		"resale_price": e.ResalePrice,
		"occurred_at":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"source":       e.Source,
		"outbox_id":    outboxID,
		"attempt":      strconv.Itoa(attempt),
		"product":      string(snapshot),
	}, nil
}
