package events

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tripmate/tripmate-sync/internal/model"
)

//go:embed events.json
var bundled []byte

// Static serves the events dataset bundled with the binary.
type Static struct {
	data []byte
}

// NewStatic returns the bundled dataset source.
func NewStatic() *Static {
	return &Static{data: bundled}
}

// NewStaticFromJSON builds a source over an arbitrary JSON array of records.
func NewStaticFromJSON(data []byte) *Static {
	return &Static{data: data}
}

// ListEvents parses the dataset on every call so each load gets fresh pins.
func (s *Static) ListEvents(ctx context.Context) ([]model.Pin, error) {
	var records []Record
	if err := json.Unmarshal(s.data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse events dataset: %w", err)
	}
	return Pins(records, time.Now().UnixMilli()), nil
}
