package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tripmate/tripmate-sync/internal/kv"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/internal/remote"
)

var errBoom = errors.New("boom")

// flakyKV wraps the memory store and fails on demand.
type flakyKV struct {
	*kv.MemoryStore

	mu      sync.Mutex
	failGet bool
	failSet bool
	sets    int
}

func newFlakyKV() *flakyKV {
	return &flakyKV{MemoryStore: kv.NewMemoryStore()}
}

func (f *flakyKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return "", errBoom
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	f.sets++
	fail := f.failSet
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *flakyKV) setFailures(get, set bool) {
	f.mu.Lock()
	f.failGet, f.failSet = get, set
	f.mu.Unlock()
}

// fakeSource serves a fixed list of events, optionally gated.
type fakeSource struct {
	mu    sync.Mutex
	pins  []model.Pin
	err   error
	gate  chan struct{}
	calls int
}

func (f *fakeSource) ListEvents(ctx context.Context) ([]model.Pin, error) {
	f.mu.Lock()
	f.calls++
	gate, pins, err := f.gate, f.pins, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return append([]model.Pin(nil), pins...), nil
}

func (f *fakeSource) set(pins []model.Pin, err error) {
	f.mu.Lock()
	f.pins, f.err = pins, err
	f.mu.Unlock()
}

// fakeRemote records sync calls against the chat history service.
type fakeRemote struct {
	mu       sync.Mutex
	creates  []model.SessionPayload
	updates  []model.SessionPayload
	fetched  map[string]*model.SessionPayload
	ops      []string
	err      error
	// unknown makes updates answer 404 for sessions never created.
	unknown  bool
	known    map[string]bool
	gate     chan struct{}
	entered  chan struct{}
	panicked bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{fetched: make(map[string]*model.SessionPayload), known: make(map[string]bool)}
}

func (f *fakeRemote) wait(ctx context.Context) error {
	f.mu.Lock()
	gate, entered, panicked := f.gate, f.entered, f.panicked
	f.mu.Unlock()
	if panicked {
		panic("remote exploded")
	}
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeRemote) CreateSession(ctx context.Context, payload model.SessionPayload) (*model.SessionPayload, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, payload)
	f.ops = append(f.ops, "create:"+payload.ID)
	f.known[payload.ID] = true
	return &payload, nil
}

func (f *fakeRemote) SyncSession(ctx context.Context, payload model.SessionPayload) (*model.SessionPayload, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknown && !f.known[payload.ID] {
		return nil, &remote.StatusError{Operation: "sync_session", StatusCode: 404}
	}
	f.updates = append(f.updates, payload)
	f.ops = append(f.ops, "update:"+payload.ID)
	return &payload, nil
}

func (f *fakeRemote) FetchSession(ctx context.Context, id string) (*model.SessionPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.fetched[id]; ok {
		return p, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeRemote) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeRemote) counts() (creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.updates)
}

// recordingPublisher keeps every published store event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.StoreEvent
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, event *model.StoreEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) types() map[model.EventType]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.EventType]int)
	for _, e := range r.events {
		out[e.Type]++
	}
	return out
}

func flushCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func readJSON(t *testing.T, store kv.Store, key string, out any) {
	t.Helper()
	raw, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		t.Fatalf("unmarshal %q: %v", key, err)
	}
}

func writeJSON(t *testing.T, store kv.Store, key string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(context.Background(), key, string(data)); err != nil {
		t.Fatal(err)
	}
}

func wantPin(id string) model.Pin {
	return model.Pin{
		ID:        id,
		Type:      model.PinTypeWant,
		Coords:    model.Coords{Latitude: 46.77, Longitude: 23.59},
		Title:     "Pin " + id,
		Source:    model.PinSourceUser,
		CreatedAt: 1700000000000,
	}
}

func eventPin(id string) model.Pin {
	p := wantPin(id)
	p.Type = model.PinTypeEvent
	p.Source = model.PinSourceAPI
	return p
}

func pinIDs(pins []model.Pin) []string {
	ids := make([]string, len(pins))
	for i, p := range pins {
		ids[i] = p.ID
	}
	return ids
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
