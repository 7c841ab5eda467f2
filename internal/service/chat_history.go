package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/kv"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/internal/remote"
	"github.com/tripmate/tripmate-sync/pkg/logger"
	"github.com/tripmate/tripmate-sync/pkg/metrics"
)

const (
	chatStorageKey = "chatHistory:v1"

	// MaxTitleLength is the rune length a derived session title is cut to.
	MaxTitleLength = 40
	// DefaultTitle is used when the first message carries no text.
	DefaultTitle = "New Chat"
)

// SessionRemote is the remote chat history service.
type SessionRemote interface {
	CreateSession(ctx context.Context, payload model.SessionPayload) (*model.SessionPayload, error)
	SyncSession(ctx context.Context, payload model.SessionPayload) (*model.SessionPayload, error)
	FetchSession(ctx context.Context, id string) (*model.SessionPayload, error)
}

type persistedHistory struct {
	Sessions []model.ChatSession `json:"sessions"`
}

// sessionEntry pairs a session with a revision bumped on every local mutation,
// so a sync that was in flight during a mutation does not clear the flag.
type sessionEntry struct {
	session model.ChatSession
	rev     uint64
}

// ChatHistoryOption configures a ChatHistoryStore.
type ChatHistoryOption func(*ChatHistoryStore)

// WithSyncTimeout bounds background sync calls.
func WithSyncTimeout(d time.Duration) ChatHistoryOption {
	return func(s *ChatHistoryStore) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ChatHistoryOption {
	return func(s *ChatHistoryStore) {
		s.now = now
	}
}

// ChatHistoryStore owns the chat sessions, newest first.
type ChatHistoryStore struct {
	kv          kv.Store
	remote      SessionRemote
	writer      *snapshotWriter
	notify      *notifier
	logger      *logger.Logger
	syncTimeout time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	sessions []*sessionEntry

	loaded       bool
	dirty        bool
	removedEarly map[string]struct{}
	// adoptedEarly holds ids taken over from the remote before the load.
	// A stored session with the same id replaces the adopted one.
	adoptedEarly map[string]struct{}

	background inflight
	syncTail   map[string]chan struct{}

	startOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}
}

// NewChatHistoryStore creates a chat history store. remote and pub may be nil.
func NewChatHistoryStore(store kv.Store, remote SessionRemote, pub EventPublisher, log *logger.Logger, opts ...ChatHistoryOption) *ChatHistoryStore {
	log = log.ForStore("chat")
	s := &ChatHistoryStore{
		kv:           store,
		remote:       remote,
		writer:       newSnapshotWriter(store, chatStorageKey, "chat", log),
		notify:       &notifier{pub: pub, store: "chat", logger: log},
		logger:       log,
		syncTimeout:  30 * time.Second,
		now:          time.Now,
		removedEarly: make(map[string]struct{}),
		adoptedEarly: make(map[string]struct{}),
		syncTail:     make(map[string]chan struct{}),
		ready:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the store in the background. Calls after the first are no-ops.
func (s *ChatHistoryStore) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.Load(ctx)
	})
}

// Ready is closed once the initial load completed.
func (s *ChatHistoryStore) Ready() <-chan struct{} {
	return s.ready
}

// Load restores sessions from storage. Unreadable state loads as empty.
func (s *ChatHistoryStore) Load(ctx context.Context) {
	defer s.readyOnce.Do(func() { close(s.ready) })

	stored := s.readStored(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range stored {
		if sess.ID == "" {
			continue
		}
		if _, ok := s.removedEarly[sess.ID]; ok {
			continue
		}
		if sess.Messages == nil {
			sess.Messages = []model.ChatMessage{}
		}
		if idx := s.indexLocked(sess.ID); idx >= 0 {
			if _, ok := s.adoptedEarly[sess.ID]; ok {
				s.sessions[idx] = &sessionEntry{session: sess}
				s.dirty = true
			}
			continue
		}
		s.sessions = append(s.sessions, &sessionEntry{session: sess})
	}

	s.loaded = true
	s.removedEarly = nil
	s.adoptedEarly = nil
	if s.dirty {
		s.persistLocked()
		s.dirty = false
	}
	metrics.SessionsCurrent.Set(float64(len(s.sessions)))

	s.logger.Info("chat history loaded", zap.Int("sessions", len(s.sessions)))
}

func (s *ChatHistoryStore) readStored(ctx context.Context) []model.ChatSession {
	raw, err := s.kv.Get(ctx, chatStorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("failed to read chat history, starting empty", zap.Error(err))
		return nil
	}

	var state persistedHistory
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		s.logger.Warn("discarding unparsable chat history", zap.Error(err))
		return nil
	}
	return state.Sessions
}

// CreateSession starts a session with firstMessage and returns its id.
func (s *ChatHistoryStore) CreateSession(firstMessage model.ChatMessage) string {
	now := s.now().UnixMilli()
	firstMessage = s.stamp(firstMessage, now)

	id := uuid.Must(uuid.NewV7()).String()
	entry := &sessionEntry{
		session: model.ChatSession{
			ID:        id,
			Title:     deriveTitle(firstMessage.Text),
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []model.ChatMessage{firstMessage},
			Unsynced:  true,
		},
		rev: 1,
	}

	s.mu.Lock()
	s.sessions = append([]*sessionEntry{entry}, s.sessions...)
	s.mutatedLocked()
	s.mu.Unlock()

	s.notify.emit(model.EventSessionCreated, id, nil)
	return id
}

// AppendMessage puts message at the head of the session. Unknown ids are a no-op.
func (s *ChatHistoryStore) AppendMessage(id string, message model.ChatMessage) {
	s.mu.Lock()
	e := s.findLocked(id)
	if e == nil {
		s.mu.Unlock()
		return
	}
	message = s.stamp(message, s.now().UnixMilli())
	msgs := make([]model.ChatMessage, 0, len(e.session.Messages)+1)
	msgs = append(msgs, message)
	e.session.Messages = append(msgs, e.session.Messages...)
	s.touchLocked(e)
	s.mutatedLocked()
	s.mu.Unlock()

	s.notify.emit(model.EventSessionUpdated, id, map[string]string{"change": "message"})
}

// RenameSession replaces the title. Unknown ids are a no-op.
func (s *ChatHistoryStore) RenameSession(id, title string) {
	s.mu.Lock()
	e := s.findLocked(id)
	if e == nil {
		s.mu.Unlock()
		return
	}
	e.session.Title = title
	s.touchLocked(e)
	s.mutatedLocked()
	s.mu.Unlock()

	s.notify.emit(model.EventSessionUpdated, id, map[string]string{"change": "title"})
}

// DeleteSession removes the session locally. The remote copy is left alone.
func (s *ChatHistoryStore) DeleteSession(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if !s.loaded {
		s.removedEarly[id] = struct{}{}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)
	s.mutatedLocked()
	s.mu.Unlock()

	s.notify.emit(model.EventSessionDeleted, id, nil)
}

// OverrideMapItemCoords moves the map item itemID in every map message of the
// session. It reports whether any item matched; nothing changes otherwise.
func (s *ChatHistoryStore) OverrideMapItemCoords(sessionID, itemID string, coords model.Coords) bool {
	s.mu.Lock()
	e := s.findLocked(sessionID)
	if e == nil {
		s.mu.Unlock()
		return false
	}

	matched := false
	msgs := make([]model.ChatMessage, len(e.session.Messages))
	for i, m := range e.session.Messages {
		if m.Type == model.MessageTypeMap && len(m.MapItems) > 0 {
			items := make([]model.MapItem, len(m.MapItems))
			for j, item := range m.MapItems {
				if item.ID != nil && fmt.Sprint(item.ID) == itemID {
					item.Coords = &model.MapCoords{Lat: coords.Latitude, Long: coords.Longitude}
					matched = true
				}
				items[j] = item
			}
			m.MapItems = items
		}
		msgs[i] = m
	}
	if !matched {
		s.mu.Unlock()
		return false
	}
	e.session.Messages = msgs
	s.touchLocked(e)
	s.mutatedLocked()
	s.mu.Unlock()

	s.notify.emit(model.EventSessionUpdated, sessionID, map[string]string{"change": "map_item", "item_id": itemID})
	return true
}

// TrySyncSession pushes the session as it is now to the remote service: a
// create on its first sync, an update afterwards. It reports whether the
// session ended up synced. Failures only leave the session marked unsynced.
func (s *ChatHistoryStore) TrySyncSession(ctx context.Context, id string) bool {
	job := s.queueSync(id)
	if job == nil {
		return false
	}
	return s.runSync(ctx, job)
}

// SyncInBackground snapshots the session now and pushes it without blocking
// the caller. Pushes of one session reach the remote in call order.
func (s *ChatHistoryStore) SyncInBackground(id string) {
	job := s.queueSync(id)
	if job == nil {
		return
	}
	s.background.add()
	go func() {
		defer s.background.done()
		ctx, cancel := context.WithTimeout(context.Background(), s.syncTimeout)
		defer cancel()
		s.runSync(ctx, job)
	}()
}

// syncJob is one push of a session snapshot. It runs once the previous push
// of the same session finished.
type syncJob struct {
	id      string
	entry   *sessionEntry
	payload model.SessionPayload
	rev     uint64
	op      string
	prev    <-chan struct{}
	done    chan struct{}
}

func (s *ChatHistoryStore) queueSync(id string) *syncJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.findLocked(id)
	if e == nil {
		return nil
	}
	op := "update"
	if e.session.CreatedAt == e.session.UpdatedAt {
		op = "create"
	}
	snap := copySession(e.session)
	job := &syncJob{
		id:      id,
		entry:   e,
		payload: snap.Payload(),
		rev:     e.rev,
		op:      op,
		prev:    s.syncTail[id],
		done:    make(chan struct{}),
	}
	s.syncTail[id] = job.done
	return job
}

func (s *ChatHistoryStore) runSync(ctx context.Context, job *syncJob) bool {
	if job.prev != nil {
		select {
		case <-job.prev:
		case <-ctx.Done():
			s.finishSync(job)
			s.syncFailed(job, ctx.Err())
			return false
		}
	}
	defer s.finishSync(job)

	err := s.pushRemote(ctx, job.op, job.payload)
	metrics.RecordSync(job.op, err == nil)

	s.mu.Lock()
	present := s.containsLocked(job.entry)
	synced := false
	if err != nil {
		if present {
			job.entry.session.Unsynced = true
		}
	} else if present && job.entry.rev == job.rev {
		job.entry.session.Unsynced = false
		s.mutatedLocked()
		synced = true
	}
	s.mu.Unlock()

	if err != nil {
		s.syncFailed(job, err)
		return false
	}
	if synced {
		s.notify.emit(model.EventSessionSynced, job.id, map[string]string{"operation": job.op})
	}
	return synced
}

// finishSync releases the next push of the session. A push abandoned while
// waiting keeps later pushes behind the one it was waiting for.
func (s *ChatHistoryStore) finishSync(job *syncJob) {
	release := func() {
		close(job.done)
		s.mu.Lock()
		if s.syncTail[job.id] == job.done {
			delete(s.syncTail, job.id)
		}
		s.mu.Unlock()
	}
	select {
	case <-job.prev:
		release()
	default:
		if job.prev == nil {
			release()
			return
		}
		go func() {
			<-job.prev
			release()
		}()
	}
}

func (s *ChatHistoryStore) syncFailed(job *syncJob, err error) {
	s.logger.Warn("session sync failed",
		zap.String("session_id", job.id),
		zap.String("operation", job.op),
		zap.Error(err),
	)
	s.notify.emit(model.EventSessionSyncFailed, job.id, map[string]string{"operation": job.op, "reason": err.Error()})
}

// pushRemote sends the snapshot. An update the remote does not know about is
// retried as a create, so a session whose create never landed still syncs.
func (s *ChatHistoryStore) pushRemote(ctx context.Context, op string, payload model.SessionPayload) (err error) {
	if s.remote == nil {
		return errors.New("no remote chat history service configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote %s panicked: %v", op, r)
		}
	}()
	if op == "create" {
		_, err = s.remote.CreateSession(ctx, payload)
		return err
	}
	_, err = s.remote.SyncSession(ctx, payload)
	if errors.Is(err, remote.ErrNotFound) {
		s.logger.Debug("remote does not know session, creating it", zap.String("session_id", payload.ID))
		_, err = s.remote.CreateSession(ctx, payload)
	}
	return err
}

// SyncPending tries to sync every unsynced session, one after another.
func (s *ChatHistoryStore) SyncPending(ctx context.Context) (attempted, synced int) {
	s.mu.RLock()
	var ids []string
	for _, e := range s.sessions {
		if e.session.Unsynced {
			ids = append(ids, e.session.ID)
		}
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		attempted++
		if s.TrySyncSession(ctx, id) {
			synced++
		}
	}
	return attempted, synced
}

// AdoptSessionID moves the session at oldID to the remote-issued newID. When
// newID already exists locally, the session at oldID is discarded instead.
// Before the load, a stored session at newID still wins once it is read.
func (s *ChatHistoryStore) AdoptSessionID(oldID, newID string) {
	if oldID == "" || newID == "" || oldID == newID {
		return
	}

	s.mu.Lock()
	oldIdx := s.indexLocked(oldID)
	if !s.loaded {
		s.removedEarly[oldID] = struct{}{}
	}
	if oldIdx < 0 {
		s.mu.Unlock()
		return
	}

	discarded := false
	if s.indexLocked(newID) >= 0 {
		s.sessions = append(s.sessions[:oldIdx:oldIdx], s.sessions[oldIdx+1:]...)
		discarded = true
	} else {
		e := s.sessions[oldIdx]
		e.session.ID = newID
		e.session.Unsynced = true
		e.rev++
		if !s.loaded {
			s.adoptedEarly[newID] = struct{}{}
		}
	}
	s.mutatedLocked()
	s.mu.Unlock()

	s.notify.emit(model.EventSessionAdopted, newID, map[string]string{
		"old_id":    oldID,
		"discarded": fmt.Sprint(discarded),
	})
}

// LoadSession returns the local session, or fetches it from the remote
// service and keeps it. The bool is false when neither has it.
func (s *ChatHistoryStore) LoadSession(ctx context.Context, id string) (model.ChatSession, bool) {
	if sess, ok := s.GetSession(id); ok {
		return sess, true
	}
	if s.remote == nil || id == "" {
		return model.ChatSession{}, false
	}

	fetched, err := s.remote.FetchSession(ctx, id)
	if err != nil || fetched == nil {
		if err != nil {
			s.logger.Debug("remote session lookup failed", zap.String("session_id", id), zap.Error(err))
		}
		return model.ChatSession{}, false
	}

	sess := fetched.Session()
	sess.ID = id

	s.mu.Lock()
	if e := s.findLocked(id); e != nil {
		// Created locally while the fetch was in flight.
		out := copySession(e.session)
		s.mu.Unlock()
		return out, true
	}
	s.sessions = append([]*sessionEntry{{session: sess}}, s.sessions...)
	s.mutatedLocked()
	s.mu.Unlock()

	return copySession(sess), true
}

// GetSession returns a copy of the session.
func (s *ChatHistoryStore) GetSession(id string) (model.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e := s.findLocked(id); e != nil {
		return copySession(e.session), true
	}
	return model.ChatSession{}, false
}

// ListSessions returns copies of all sessions, newest first.
func (s *ChatHistoryStore) ListSessions() []model.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ChatSession, len(s.sessions))
	for i, e := range s.sessions {
		out[i] = copySession(e.session)
	}
	return out
}

// State returns a snapshot of the store.
func (s *ChatHistoryStore) State() model.ChatHistoryState {
	return model.ChatHistoryState{Sessions: s.ListSessions()}
}

// Flush waits for background syncs, event publishing and queued writes.
func (s *ChatHistoryStore) Flush(ctx context.Context) error {
	if err := s.background.wait(ctx); err != nil {
		return err
	}
	if err := s.notify.wait(ctx); err != nil {
		return err
	}
	return s.writer.flush(ctx)
}

// Close writes any pending snapshot and stops the writer.
func (s *ChatHistoryStore) Close() {
	s.writer.close()
}

func (s *ChatHistoryStore) stamp(m model.ChatMessage, now int64) model.ChatMessage {
	m = copyMessage(m)
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.TS == 0 {
		m.TS = now
	}
	if m.Role == "" {
		m.Role = model.RoleUser
	}
	if m.Type == "" {
		m.Type = model.MessageTypeText
	}
	return m
}

// touchLocked marks a local mutation. updatedAt strictly increases so a
// mutated session never looks like one that was never synced.
func (s *ChatHistoryStore) touchLocked(e *sessionEntry) {
	now := s.now().UnixMilli()
	if now <= e.session.UpdatedAt {
		now = e.session.UpdatedAt + 1
	}
	e.session.UpdatedAt = now
	e.session.Unsynced = true
	e.rev++
}

func (s *ChatHistoryStore) mutatedLocked() {
	metrics.SessionsCurrent.Set(float64(len(s.sessions)))
	if !s.loaded {
		s.dirty = true
		return
	}
	s.persistLocked()
}

func (s *ChatHistoryStore) persistLocked() {
	state := persistedHistory{Sessions: make([]model.ChatSession, len(s.sessions))}
	for i, e := range s.sessions {
		state.Sessions[i] = e.session
	}
	data, err := json.Marshal(state)
	if err != nil {
		s.logger.Error("failed to encode chat history", zap.Error(err))
		return
	}
	s.writer.enqueue(data)
}

func (s *ChatHistoryStore) indexLocked(id string) int {
	for i, e := range s.sessions {
		if e.session.ID == id {
			return i
		}
	}
	return -1
}

func (s *ChatHistoryStore) findLocked(id string) *sessionEntry {
	if i := s.indexLocked(id); i >= 0 {
		return s.sessions[i]
	}
	return nil
}

func (s *ChatHistoryStore) containsLocked(target *sessionEntry) bool {
	for _, e := range s.sessions {
		if e == target {
			return true
		}
	}
	return false
}

func deriveTitle(text string) string {
	title := strings.TrimSpace(text)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		title = string([]rune(title)[:MaxTitleLength])
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}
