package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/kv"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
	"github.com/tripmate/tripmate-sync/pkg/metrics"
)

const (
	pinStorageKey = "pinStore:v1"
	fetchTimeout  = 30 * time.Second
)

// EventSource supplies the externally sourced pins.
type EventSource interface {
	ListEvents(ctx context.Context) ([]model.Pin, error)
}

// persistedPins is the storage shape. Events is always written empty: the
// external partition is regenerated on load, never saved.
type persistedPins struct {
	WantToGo []model.Pin `json:"wantToGo"`
	Events   []model.Pin `json:"events"`
}

// PinStore owns the saved and externally sourced map markers.
type PinStore struct {
	kv     kv.Store
	source EventSource
	writer *snapshotWriter
	notify *notifier
	logger *logger.Logger

	mu       sync.RWMutex
	wantToGo []model.Pin
	events   []model.Pin

	// Mutations made before Load finished, merged into the loaded state.
	loaded       bool
	dirty        bool
	clearedEarly bool
	removedEarly map[string]struct{}

	refreshSeq uint64
	background inflight

	startOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}
}

// NewPinStore creates a pin store. source and pub may be nil.
func NewPinStore(store kv.Store, source EventSource, pub EventPublisher, log *logger.Logger) *PinStore {
	log = log.ForStore("pins")
	return &PinStore{
		kv:           store,
		source:       source,
		writer:       newSnapshotWriter(store, pinStorageKey, "pins", log),
		notify:       &notifier{pub: pub, store: "pins", logger: log},
		logger:       log,
		removedEarly: make(map[string]struct{}),
		ready:        make(chan struct{}),
	}
}

// Start loads the store in the background. Calls after the first are no-ops.
func (p *PinStore) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.Load(ctx)
	})
}

// Ready is closed once the initial load completed.
func (p *PinStore) Ready() <-chan struct{} {
	return p.ready
}

// Load reads the durable partition from storage and fetches the external one.
// Neither failure is fatal: each falls back to an empty partition.
func (p *PinStore) Load(ctx context.Context) {
	defer p.readyOnce.Do(func() { close(p.ready) })

	stored := p.readStored(ctx)

	p.mu.Lock()
	seq := p.nextRefresh()
	p.mu.Unlock()

	fetched := p.fetchEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.clearedEarly {
		seen := make(map[string]struct{}, len(p.wantToGo))
		for _, pin := range p.wantToGo {
			seen[pin.ID] = struct{}{}
		}
		for _, pin := range stored {
			if _, ok := seen[pin.ID]; ok {
				continue
			}
			if _, ok := p.removedEarly[pin.ID]; ok {
				continue
			}
			p.wantToGo = append(p.wantToGo, pin)
		}
	}
	if seq == p.refreshSeq {
		p.events = append(p.events, fetched...)
	}

	p.loaded = true
	p.removedEarly = nil
	if p.dirty || p.clearedEarly {
		p.persistLocked()
	}
	p.dirty, p.clearedEarly = false, false
	p.recordLocked()

	p.logger.Info("pin store loaded",
		zap.Int("want_to_go", len(p.wantToGo)),
		zap.Int("events", len(p.events)),
	)
}

func (p *PinStore) readStored(ctx context.Context) []model.Pin {
	raw, err := p.kv.Get(ctx, pinStorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		p.logger.Warn("failed to read pins, starting empty", zap.Error(err))
		return nil
	}

	var state persistedPins
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		p.logger.Warn("discarding unparsable pin state", zap.Error(err))
		return nil
	}

	// Only pins that belong to the durable partition are honored.
	pins := make([]model.Pin, 0, len(state.WantToGo))
	for _, pin := range state.WantToGo {
		if pin.Type.Durable() {
			pins = append(pins, pin)
		}
	}
	return pins
}

func (p *PinStore) fetchEvents(ctx context.Context) []model.Pin {
	if p.source == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	pins, err := p.source.ListEvents(ctx)
	if err != nil {
		p.logger.Warn("failed to fetch events, external partition empty", zap.Error(err))
		return nil
	}

	events := make([]model.Pin, 0, len(pins))
	for _, pin := range pins {
		if pin.Type.Durable() {
			pin.Type = model.PinTypeEvent
		}
		events = append(events, pin)
	}
	return events
}

// AddPin inserts pin at the head of the partition matching its type.
// Callers own de-duplication.
func (p *PinStore) AddPin(pin model.Pin) {
	p.mu.Lock()
	if pin.Type.Durable() {
		p.wantToGo = prependPin(p.wantToGo, pin)
		p.mutatedLocked()
	} else {
		p.events = prependPin(p.events, pin)
	}
	p.recordLocked()
	p.mu.Unlock()

	p.notify.emit(model.EventPinAdded, pin.ID, map[string]string{"type": string(pin.Type)})
}

// RemovePin removes every pin with id, whatever its partition. Unknown ids are a no-op.
func (p *PinStore) RemovePin(id string) {
	p.mu.Lock()
	var removedDurable, removedEvent bool
	p.wantToGo, removedDurable = withoutPin(p.wantToGo, id)
	p.events, removedEvent = withoutPin(p.events, id)
	if !p.loaded {
		p.removedEarly[id] = struct{}{}
	}
	if removedDurable {
		p.mutatedLocked()
	}
	p.recordLocked()
	p.mu.Unlock()

	if removedDurable || removedEvent {
		p.notify.emit(model.EventPinRemoved, id, nil)
	}
}

// ClearAll empties the durable partition and refreshes the external one in
// the background. The previous external pins stay visible until the refresh lands.
func (p *PinStore) ClearAll() {
	p.mu.Lock()
	p.wantToGo = nil
	if !p.loaded {
		p.clearedEarly = true
		p.removedEarly = make(map[string]struct{})
	}
	p.mutatedLocked()
	seq := p.nextRefresh()
	p.recordLocked()
	p.mu.Unlock()

	p.notify.emit(model.EventPinsCleared, "", nil)

	p.background.add()
	go func() {
		defer p.background.done()
		fetched := p.fetchEvents(context.Background())

		p.mu.Lock()
		defer p.mu.Unlock()
		// A newer refresh superseded this one.
		if seq != p.refreshSeq {
			return
		}
		p.events = fetched
		p.recordLocked()
	}()
}

// State returns a copy of both partitions.
func (p *PinStore) State() model.PinState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return model.PinState{
		WantToGo: copyPins(p.wantToGo),
		Events:   copyPins(p.events),
	}
}

// Flush waits for background refreshes, event publishing and queued writes.
func (p *PinStore) Flush(ctx context.Context) error {
	if err := p.background.wait(ctx); err != nil {
		return err
	}
	if err := p.notify.wait(ctx); err != nil {
		return err
	}
	return p.writer.flush(ctx)
}

// Close writes any pending snapshot and stops the writer.
func (p *PinStore) Close() {
	p.writer.close()
}

func (p *PinStore) nextRefresh() uint64 {
	p.refreshSeq++
	return p.refreshSeq
}

// mutatedLocked persists the durable partition, or remembers to do so once loaded.
func (p *PinStore) mutatedLocked() {
	if !p.loaded {
		p.dirty = true
		return
	}
	p.persistLocked()
}

func (p *PinStore) persistLocked() {
	wantToGo := p.wantToGo
	if wantToGo == nil {
		wantToGo = []model.Pin{}
	}
	data, err := json.Marshal(persistedPins{WantToGo: wantToGo, Events: []model.Pin{}})
	if err != nil {
		p.logger.Error("failed to encode pin state", zap.Error(err))
		return
	}
	p.writer.enqueue(data)
}

func (p *PinStore) recordLocked() {
	metrics.SetPins(len(p.wantToGo), len(p.events))
}

func prependPin(pins []model.Pin, pin model.Pin) []model.Pin {
	next := make([]model.Pin, 0, len(pins)+1)
	next = append(next, pin)
	return append(next, pins...)
}

func withoutPin(pins []model.Pin, id string) ([]model.Pin, bool) {
	next := make([]model.Pin, 0, len(pins))
	for _, pin := range pins {
		if pin.ID != id {
			next = append(next, pin)
		}
	}
	return next, len(next) != len(pins)
}
