package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/kv"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
	"github.com/tripmate/tripmate-sync/pkg/metrics"
)

const (
	persistTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// snapshotWriter is the single writer of one storage key. Enqueued snapshots
// replace any snapshot still waiting, and are written in enqueue order, so
// the last mutation always ends up in storage.
type snapshotWriter struct {
	kv     kv.Store
	key    string
	store  string
	logger *logger.Logger

	mu      sync.Mutex
	pending []byte
	queued  uint64
	written uint64
	flushed chan struct{} // closed and replaced whenever written advances

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSnapshotWriter(store kv.Store, key, name string, log *logger.Logger) *snapshotWriter {
	w := &snapshotWriter{
		kv:      store,
		key:     key,
		store:   name,
		logger:  log,
		flushed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *snapshotWriter) enqueue(data []byte) {
	w.mu.Lock()
	w.pending = data
	w.queued++
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *snapshotWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.writePending()
		case <-w.quit:
			w.writePending()
			return
		}
	}
}

func (w *snapshotWriter) writePending() {
	w.mu.Lock()
	data, seq := w.pending, w.queued
	w.pending = nil
	w.mu.Unlock()

	if data != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := w.kv.Set(ctx, w.key, string(data))
		cancel()
		metrics.RecordPersist(w.store, err == nil)
		if err != nil {
			// In-memory state stays authoritative; the next mutation writes again.
			w.logger.Warn("failed to persist snapshot", zap.String("key", w.key), zap.Error(err))
		}
	}

	w.mu.Lock()
	if seq > w.written {
		w.written = seq
		close(w.flushed)
		w.flushed = make(chan struct{})
	}
	w.mu.Unlock()
}

// flush waits until every snapshot enqueued before the call was handled.
func (w *snapshotWriter) flush(ctx context.Context) error {
	w.mu.Lock()
	target := w.queued
	w.mu.Unlock()

	for {
		w.mu.Lock()
		if w.written >= target {
			w.mu.Unlock()
			return nil
		}
		ch := w.flushed
		w.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *snapshotWriter) close() {
	w.closeOnce.Do(func() {
		close(w.quit)
		<-w.done
	})
}

// EventPublisher receives store events. Publishing is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, event *model.StoreEvent) error
}

// notifier hands store events to an EventPublisher off the caller's path.
type notifier struct {
	pub    EventPublisher
	store  string
	logger *logger.Logger
	tasks  inflight
}

func (n *notifier) emit(eventType model.EventType, subjectID string, meta map[string]string) {
	if n.pub == nil {
		return
	}
	event := &model.StoreEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Store:     n.store,
		Type:      eventType,
		SubjectID: subjectID,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}

	n.tasks.add()
	go func() {
		defer n.tasks.done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		err := n.pub.Publish(ctx, event)
		status := "success"
		if err != nil {
			status = "failure"
			n.logger.Warn("failed to publish store event",
				zap.String("type", string(eventType)),
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
		}
		metrics.StoreEventsTotal.WithLabelValues(string(eventType), status).Inc()
	}()
}

func (n *notifier) wait(ctx context.Context) error {
	return n.tasks.wait(ctx)
}

// inflight counts running background tasks. Unlike sync.WaitGroup it may be
// waited on while new tasks are being added.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed when n drops to zero
}

func (f *inflight) add() {
	f.mu.Lock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
	f.mu.Unlock()
}

// wait blocks until no task is running. Tasks added after wait observed an
// idle moment are not waited for.
func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
