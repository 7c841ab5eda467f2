package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tripmate/tripmate-sync/internal/kv"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
)

var fixedNow = time.UnixMilli(1700000000000)

func newTestChatStore(t *testing.T, store kv.Store, remote SessionRemote, pub EventPublisher) *ChatHistoryStore {
	t.Helper()
	s := NewChatHistoryStore(store, remote, pub, logger.Nop(),
		WithClock(func() time.Time { return fixedNow }),
		WithSyncTimeout(5*time.Second),
	)
	t.Cleanup(s.Close)
	return s
}

func newLoadedChatStore(t *testing.T, remote SessionRemote) *ChatHistoryStore {
	t.Helper()
	s := newTestChatStore(t, kv.NewMemoryStore(), remote, nil)
	s.Load(context.Background())
	return s
}

func textMessage(text string) model.ChatMessage {
	return model.ChatMessage{Role: model.RoleUser, Type: model.MessageTypeText, Text: text}
}

func mustSession(t *testing.T, s *ChatHistoryStore, id string) model.ChatSession {
	t.Helper()
	sess, ok := s.GetSession(id)
	if !ok {
		t.Fatalf("session %q not found", id)
	}
	return sess
}

func TestCreateSession(t *testing.T) {
	s := newLoadedChatStore(t, nil)

	first := s.CreateSession(textMessage("Hello"))
	second := s.CreateSession(textMessage("  Where can I get a coffee near the botanical garden tonight?  "))
	third := s.CreateSession(model.ChatMessage{ImageURI: "file:///photo.jpg"})

	if first == "" || first == second {
		t.Fatalf("ids not unique: %q %q", first, second)
	}

	list := s.ListSessions()
	if len(list) != 3 || list[0].ID != third || list[2].ID != first {
		t.Fatalf("sessions not newest first: %+v", list)
	}

	sess := mustSession(t, s, first)
	if sess.Title != "Hello" {
		t.Errorf("Title = %q", sess.Title)
	}
	if !sess.Unsynced {
		t.Error("new session should be unsynced")
	}
	if sess.CreatedAt != fixedNow.UnixMilli() || sess.CreatedAt != sess.UpdatedAt {
		t.Errorf("timestamps = %d/%d", sess.CreatedAt, sess.UpdatedAt)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].ID == "" || sess.Messages[0].TS == 0 {
		t.Errorf("first message not stamped: %+v", sess.Messages)
	}

	long := mustSession(t, s, second).Title
	if n := len([]rune(long)); n != MaxTitleLength {
		t.Errorf("title length = %d, want %d", n, MaxTitleLength)
	}
	if !strings.HasPrefix(long, "Where can I get") {
		t.Errorf("title = %q", long)
	}

	if got := mustSession(t, s, third).Title; got != DefaultTitle {
		t.Errorf("title = %q, want %q", got, DefaultTitle)
	}
}

func TestAppendMessage(t *testing.T) {
	s := newLoadedChatStore(t, nil)
	older := s.CreateSession(textMessage("older"))
	id := s.CreateSession(textMessage("first"))

	s.AppendMessage(older, textMessage("second"))
	s.AppendMessage("missing", textMessage("ignored"))

	sess := mustSession(t, s, older)
	if len(sess.Messages) != 2 || sess.Messages[0].Text != "second" {
		t.Fatalf("messages = %+v", sess.Messages)
	}
	if sess.UpdatedAt <= sess.CreatedAt {
		t.Errorf("updatedAt %d not after createdAt %d", sess.UpdatedAt, sess.CreatedAt)
	}

	// Appending does not reorder the session list.
	if list := s.ListSessions(); list[0].ID != id {
		t.Errorf("list head = %q, want %q", list[0].ID, id)
	}
	if len(s.ListSessions()) != 2 {
		t.Error("unknown id created a session")
	}
}

func TestRenameAndDeleteSession(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestChatStore(t, kv.NewMemoryStore(), nil, pub)
	s.Load(context.Background())

	id := s.CreateSession(textMessage("hi"))
	s.RenameSession(id, "Cluj weekend")
	s.RenameSession("missing", "nope")

	if got := mustSession(t, s, id).Title; got != "Cluj weekend" {
		t.Errorf("Title = %q", got)
	}

	s.DeleteSession(id)
	s.DeleteSession(id)
	if _, ok := s.GetSession(id); ok {
		t.Error("session still present after delete")
	}

	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}
	types := pub.types()
	if types[model.EventSessionCreated] != 1 || types[model.EventSessionUpdated] != 1 || types[model.EventSessionDeleted] != 1 {
		t.Errorf("events = %v", types)
	}
}

func TestTrySyncSessionCreatesThenUpdates(t *testing.T) {
	remote := newFakeRemote()
	s := newLoadedChatStore(t, remote)

	id := s.CreateSession(textMessage("hi"))
	if !s.TrySyncSession(context.Background(), id) {
		t.Fatal("first sync failed")
	}
	if mustSession(t, s, id).Unsynced {
		t.Error("session still unsynced after successful sync")
	}
	if c, u := remote.counts(); c != 1 || u != 0 {
		t.Errorf("creates=%d updates=%d, want 1/0", c, u)
	}

	s.AppendMessage(id, textMessage("again"))
	if !mustSession(t, s, id).Unsynced {
		t.Error("mutation did not mark session unsynced")
	}
	if !s.TrySyncSession(context.Background(), id) {
		t.Fatal("second sync failed")
	}
	if c, u := remote.counts(); c != 1 || u != 1 {
		t.Errorf("creates=%d updates=%d, want 1/1", c, u)
	}
	if got := remote.updates[0].Messages; len(got) != 2 || got[0].Text != "again" {
		t.Errorf("update payload messages = %+v", got)
	}
}

func TestTrySyncSessionFailureKeepsUnsynced(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr(errBoom)
	pub := &recordingPublisher{}
	s := newTestChatStore(t, kv.NewMemoryStore(), remote, pub)
	s.Load(context.Background())

	id := s.CreateSession(textMessage("hi"))
	if s.TrySyncSession(context.Background(), id) {
		t.Fatal("sync reported success")
	}
	if !mustSession(t, s, id).Unsynced {
		t.Error("failed sync cleared unsynced")
	}
	if s.TrySyncSession(context.Background(), "missing") {
		t.Error("sync of unknown session reported success")
	}

	remote.setErr(nil)
	if !s.TrySyncSession(context.Background(), id) {
		t.Error("retry failed")
	}

	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}
	types := pub.types()
	if types[model.EventSessionSyncFailed] != 1 || types[model.EventSessionSynced] != 1 {
		t.Errorf("events = %v", types)
	}
}

func TestTrySyncSessionWithoutRemote(t *testing.T) {
	s := newLoadedChatStore(t, nil)
	id := s.CreateSession(textMessage("hi"))
	if s.TrySyncSession(context.Background(), id) {
		t.Error("sync without a remote reported success")
	}
	if !mustSession(t, s, id).Unsynced {
		t.Error("session should stay unsynced")
	}
}

func TestTrySyncSessionRemotePanic(t *testing.T) {
	remote := newFakeRemote()
	remote.panicked = true
	s := newLoadedChatStore(t, remote)

	id := s.CreateSession(textMessage("hi"))
	if s.TrySyncSession(context.Background(), id) {
		t.Error("panicking remote reported success")
	}
}

func TestTrySyncSessionMutatedInFlight(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.entered = make(chan struct{}, 1)
	s := newLoadedChatStore(t, remote)

	id := s.CreateSession(textMessage("hi"))

	result := make(chan bool, 1)
	go func() { result <- s.TrySyncSession(context.Background(), id) }()

	<-remote.entered
	s.AppendMessage(id, textMessage("typed while syncing"))
	close(remote.gate)

	if <-result {
		t.Error("sync of a stale snapshot reported success")
	}
	sess := mustSession(t, s, id)
	if !sess.Unsynced {
		t.Error("mutation made during sync was marked synced")
	}
	if len(remote.creates) != 1 || len(remote.creates[0].Messages) != 1 {
		t.Errorf("remote received %+v", remote.creates)
	}
}

func TestSyncInBackgroundAndPending(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr(errBoom)
	s := newLoadedChatStore(t, remote)

	a := s.CreateSession(textMessage("a"))
	b := s.CreateSession(textMessage("b"))
	s.SyncInBackground(a)
	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}
	if !mustSession(t, s, a).Unsynced {
		t.Fatal("background sync against failing remote cleared unsynced")
	}

	remote.setErr(nil)
	attempted, synced := s.SyncPending(context.Background())
	if attempted != 2 || synced != 2 {
		t.Errorf("SyncPending = %d/%d, want 2/2", attempted, synced)
	}
	for _, id := range []string{a, b} {
		if mustSession(t, s, id).Unsynced {
			t.Errorf("session %s still unsynced", id)
		}
	}

	attempted, _ = s.SyncPending(context.Background())
	if attempted != 0 {
		t.Errorf("attempted = %d with nothing pending", attempted)
	}
}

func TestAdoptSessionID(t *testing.T) {
	s := newLoadedChatStore(t, newFakeRemote())

	id := s.CreateSession(textMessage("hi"))
	s.TrySyncSession(context.Background(), id)
	s.AdoptSessionID(id, "remote-1")

	if _, ok := s.GetSession(id); ok {
		t.Error("old id still present")
	}
	sess := mustSession(t, s, "remote-1")
	if !sess.Unsynced {
		t.Error("adopted session should be unsynced")
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Text != "hi" {
		t.Errorf("messages = %+v", sess.Messages)
	}

	// No-op cases.
	s.AdoptSessionID("missing", "remote-2")
	s.AdoptSessionID("remote-1", "remote-1")
	s.AdoptSessionID("remote-1", "")
	if len(s.ListSessions()) != 1 {
		t.Errorf("sessions = %+v", s.ListSessions())
	}
}

func TestAdoptSessionIDCollisionDiscardsOld(t *testing.T) {
	s := newLoadedChatStore(t, nil)

	existing := s.CreateSession(textMessage("existing"))
	dup := s.CreateSession(textMessage("duplicate"))

	s.AdoptSessionID(dup, existing)

	list := s.ListSessions()
	if len(list) != 1 || list[0].ID != existing {
		t.Fatalf("sessions = %+v", list)
	}
	if list[0].Messages[0].Text != "existing" {
		t.Errorf("existing session was overwritten: %+v", list[0].Messages)
	}
}

func TestLoadSessionFallsBackToRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.fetched["remote-7"] = &model.SessionPayload{
		ID:        "something-else",
		Title:     "From the server",
		CreatedAt: 1,
		UpdatedAt: 2,
	}
	s := newLoadedChatStore(t, remote)
	local := s.CreateSession(textMessage("local"))

	sess, ok := s.LoadSession(context.Background(), "remote-7")
	if !ok {
		t.Fatal("LoadSession did not find remote session")
	}
	if sess.ID != "remote-7" || sess.Title != "From the server" || sess.Unsynced {
		t.Errorf("session = %+v", sess)
	}
	if sess.Messages == nil {
		t.Error("messages should be an empty list, not nil")
	}

	list := s.ListSessions()
	if len(list) != 2 || list[0].ID != "remote-7" || list[1].ID != local {
		t.Errorf("fetched session not inserted at head: %+v", list)
	}

	if _, ok := s.LoadSession(context.Background(), "nowhere"); ok {
		t.Error("LoadSession found a session that does not exist")
	}
}

func TestOverrideMapItemCoords(t *testing.T) {
	s := newLoadedChatStore(t, nil)
	id := s.CreateSession(textMessage("museums?"))
	s.AppendMessage(id, model.ChatMessage{
		Role: model.RoleBot,
		Type: model.MessageTypeMap,
		MapItems: []model.MapItem{
			{ID: float64(12), LandmarkName: "Art Museum", Coords: &model.MapCoords{Lat: 1, Long: 2}},
			{ID: "abc", LandmarkName: "Botanical Garden"},
		},
	})

	if !s.OverrideMapItemCoords(id, "12", model.Coords{Latitude: 46.77, Longitude: 23.59}) {
		t.Fatal("numeric item id not matched")
	}
	if !s.OverrideMapItemCoords(id, "abc", model.Coords{Latitude: 46.76, Longitude: 23.58}) {
		t.Fatal("string item id not matched")
	}
	if s.OverrideMapItemCoords(id, "nope", model.Coords{}) {
		t.Error("unknown item reported as matched")
	}
	if s.OverrideMapItemCoords("missing", "12", model.Coords{}) {
		t.Error("unknown session reported as matched")
	}

	items := mustSession(t, s, id).Messages[0].MapItems
	if c := items[0].Coords; c == nil || c.Lat != 46.77 || c.Long != 23.59 {
		t.Errorf("item 12 coords = %+v", c)
	}
	if c := items[1].Coords; c == nil || c.Lat != 46.76 {
		t.Errorf("item abc coords = %+v", c)
	}
}

func TestChatHistoryPersistsAcrossRestart(t *testing.T) {
	store := kv.NewMemoryStore()
	s := newTestChatStore(t, store, nil, nil)
	s.Load(context.Background())

	id := s.CreateSession(textMessage("remember me"))
	s.RenameSession(id, "Remembered")
	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}

	restarted := newTestChatStore(t, store, nil, nil)
	restarted.Load(context.Background())

	sess := mustSession(t, restarted, id)
	if sess.Title != "Remembered" || !sess.Unsynced || len(sess.Messages) != 1 {
		t.Errorf("restored session = %+v", sess)
	}
}

func TestChatHistoryMergesMutationsMadeBeforeLoad(t *testing.T) {
	store := kv.NewMemoryStore()
	writeJSON(t, store, chatStorageKey, persistedHistory{Sessions: []model.ChatSession{
		{ID: "stored-1", Title: "one", CreatedAt: 1, UpdatedAt: 1},
		{ID: "stored-2", Title: "two", CreatedAt: 1, UpdatedAt: 1},
	}})
	s := newTestChatStore(t, store, nil, nil)

	early := s.CreateSession(textMessage("early"))
	s.DeleteSession("stored-2")
	s.Load(context.Background())

	list := s.ListSessions()
	if len(list) != 2 || list[0].ID != early || list[1].ID != "stored-1" {
		t.Fatalf("sessions = %+v", list)
	}
	if list[1].Messages == nil {
		t.Error("stored session without messages should load as empty list")
	}

	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}
	var saved persistedHistory
	readJSON(t, store, chatStorageKey, &saved)
	if len(saved.Sessions) != 2 {
		t.Errorf("persisted %d sessions, want 2", len(saved.Sessions))
	}
}

func TestChatHistoryLoadFailsOpen(t *testing.T) {
	store := newFlakyKV()
	_ = store.MemoryStore.Set(context.Background(), chatStorageKey, "[]garbage")
	s := newTestChatStore(t, store, nil, nil)
	s.Load(context.Background())

	if got := s.State().Sessions; len(got) != 0 {
		t.Errorf("sessions = %+v, want empty", got)
	}
}

func TestMessagesAreNewestFirst(t *testing.T) {
	s := newLoadedChatStore(t, nil)
	id := s.CreateSession(textMessage("m0"))
	s.AppendMessage(id, textMessage("m1"))
	s.AppendMessage(id, textMessage("m2"))

	msgs := mustSession(t, s, id).Messages
	got := []string{msgs[0].Text, msgs[1].Text, msgs[2].Text}
	if !equalIDs(got, "m2", "m1", "m0") {
		t.Errorf("messages = %v, want [m2 m1 m0]", got)
	}
}

func TestSyncInBackgroundKeepsCallOrder(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.entered = make(chan struct{}, 2)
	s := newLoadedChatStore(t, remote)

	id := s.CreateSession(textMessage("hi"))
	s.SyncInBackground(id)
	<-remote.entered

	s.AppendMessage(id, model.ChatMessage{Role: model.RoleBot, Text: "hello"})
	s.SyncInBackground(id)
	close(remote.gate)

	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}
	if got := remote.calls(); !equalIDs(got, "create:"+id, "update:"+id) {
		t.Fatalf("remote calls = %v, want create then update", got)
	}
	if n := len(remote.creates[0].Messages); n != 1 {
		t.Errorf("create carried %d messages, want the snapshot taken at call time", n)
	}
	if n := len(remote.updates[0].Messages); n != 2 {
		t.Errorf("update carried %d messages, want 2", n)
	}
	if mustSession(t, s, id).Unsynced {
		t.Error("session unsynced after both pushes landed")
	}
}

func TestSyncUpdateOfUnknownSessionCreatesIt(t *testing.T) {
	remote := newFakeRemote()
	remote.unknown = true
	s := newLoadedChatStore(t, remote)

	id := s.CreateSession(textMessage("hi"))
	s.AppendMessage(id, textMessage("more"))

	if !s.TrySyncSession(context.Background(), id) {
		t.Fatal("sync failed")
	}
	if got := remote.calls(); !equalIDs(got, "create:"+id) {
		t.Errorf("remote calls = %v", got)
	}

	s.AppendMessage(id, textMessage("later"))
	if !s.TrySyncSession(context.Background(), id) {
		t.Fatal("second sync failed")
	}
	if got := remote.calls(); !equalIDs(got, "create:"+id, "update:"+id) {
		t.Errorf("remote calls = %v", got)
	}
}

func TestSessionsHandedOutDoNotShareState(t *testing.T) {
	s := newLoadedChatStore(t, nil)

	reply := model.ChatMessage{
		Role:        model.RoleBot,
		Type:        model.MessageTypeMap,
		MapItems:    []model.MapItem{{ID: "p1", LandmarkName: "Central Park", Coords: &model.MapCoords{Lat: 46.769, Long: 23.578}}},
		Suggestions: []string{"Opening hours?"},
	}
	id := s.CreateSession(textMessage("parks"))
	s.AppendMessage(id, reply)
	s.AppendMessage(id, model.ChatMessage{
		Role: model.RoleBot,
		Type: model.MessageTypeCard,
		Card: &model.ChatCard{Title: "Botanical Garden", Actions: []model.ChatAction{{Type: "book", Label: "Tickets"}}},
	})

	// The caller's own message stays its own.
	reply.MapItems[0].Coords.Lat = 0
	reply.Suggestions[0] = "changed"

	got := mustSession(t, s, id)
	got.Messages[0].Card.Title = "changed"
	got.Messages[0].Card.Actions[0].Label = "changed"
	got.Messages[1].MapItems[0].Coords.Long = 0
	got.Messages[1].MapItems[0].LandmarkName = "changed"
	got.Messages[1].Suggestions[0] = "changed"

	for _, list := range [][]model.ChatSession{s.ListSessions(), {mustSession(t, s, id)}} {
		msgs := list[0].Messages
		if msgs[0].Card.Title != "Botanical Garden" || msgs[0].Card.Actions[0].Label != "Tickets" {
			t.Errorf("card = %+v", msgs[0].Card)
		}
		item := msgs[1].MapItems[0]
		if item.LandmarkName != "Central Park" || *item.Coords != (model.MapCoords{Lat: 46.769, Long: 23.578}) {
			t.Errorf("map item = %+v %+v", item, item.Coords)
		}
		if msgs[1].Suggestions[0] != "Opening hours?" {
			t.Errorf("suggestions = %v", msgs[1].Suggestions)
		}
	}
}

func TestAdoptSessionIDBeforeLoadYieldsToStoredSession(t *testing.T) {
	store := kv.NewMemoryStore()
	writeJSON(t, store, chatStorageKey, persistedHistory{Sessions: []model.ChatSession{
		{ID: "remote-9", Title: "Stored", CreatedAt: 1, UpdatedAt: 2, Messages: []model.ChatMessage{textMessage("stored")}},
		{ID: "stored-2", Title: "Other", CreatedAt: 1, UpdatedAt: 1},
	}})
	s := newTestChatStore(t, store, nil, nil)

	early := s.CreateSession(textMessage("early"))
	s.AdoptSessionID(early, "remote-9")
	s.Load(context.Background())

	list := s.ListSessions()
	if len(list) != 2 {
		t.Fatalf("sessions = %+v", list)
	}
	if _, ok := s.GetSession(early); ok {
		t.Error("old id survived adoption")
	}
	got := mustSession(t, s, "remote-9")
	if got.Title != "Stored" || len(got.Messages) != 1 || got.Messages[0].Text != "stored" {
		t.Errorf("remote-9 = %+v, want the stored session", got)
	}

	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}
	var saved persistedHistory
	readJSON(t, store, chatStorageKey, &saved)
	for _, sess := range saved.Sessions {
		if sess.ID == "remote-9" && sess.Title != "Stored" {
			t.Errorf("persisted remote-9 = %+v", sess)
		}
	}
}

func TestAdoptSessionIDBeforeLoadWithoutStoredTarget(t *testing.T) {
	store := kv.NewMemoryStore()
	writeJSON(t, store, chatStorageKey, persistedHistory{Sessions: []model.ChatSession{
		{ID: "stored-1", Title: "one", CreatedAt: 1, UpdatedAt: 1},
	}})
	s := newTestChatStore(t, store, nil, nil)

	early := s.CreateSession(textMessage("early"))
	s.AdoptSessionID(early, "remote-9")
	s.Load(context.Background())

	got := mustSession(t, s, "remote-9")
	if got.Messages[0].Text != "early" {
		t.Errorf("remote-9 = %+v", got)
	}
	if len(s.ListSessions()) != 2 {
		t.Errorf("sessions = %+v", s.ListSessions())
	}
}
