// Package model defines data structures for the trip planner's local state.
package model

// ChatSession is one guide conversation. Messages are ordered newest first.
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt int64         `json:"createdAt"`
	UpdatedAt int64         `json:"updatedAt"`
	Messages  []ChatMessage `json:"messages"`
	Unsynced  bool          `json:"unsynced"`
}

// Payload returns the body sent to the remote chat history service.
func (s *ChatSession) Payload() SessionPayload {
	return SessionPayload{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Messages:  s.Messages,
	}
}

// SessionPayload is the wire representation of a session in sync calls.
type SessionPayload struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt int64         `json:"createdAt"`
	UpdatedAt int64         `json:"updatedAt"`
	Messages  []ChatMessage `json:"messages"`
}

// Session converts a remote representation into a local, synced session.
func (p SessionPayload) Session() ChatSession {
	msgs := p.Messages
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	return ChatSession{
		ID:        p.ID,
		Title:     p.Title,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Messages:  msgs,
	}
}

// ChatHistoryState is a snapshot of the chat history store.
type ChatHistoryState struct {
	Sessions []ChatSession `json:"sessions"`
}

// CreateSessionRequest is the request to start a new session.
type CreateSessionRequest struct {
	Message ChatMessage `json:"message"`
}

// RenameSessionRequest is the request to rename a session.
type RenameSessionRequest struct {
	Title string `json:"title"`
}

// AdoptSessionRequest is the request to move a session to a remote-issued id.
type AdoptSessionRequest struct {
	NewID string `json:"newId"`
}

// OverrideCoordsRequest moves a map item of a session.
type OverrideCoordsRequest struct {
	Coords Coords `json:"coords"`
}

// ListSessionsResponse is the response for listing sessions.
type ListSessionsResponse struct {
	Sessions []ChatSession `json:"sessions"`
	Total    int           `json:"total"`
}

// SyncResponse reports the state of a session after a sync attempt.
type SyncResponse struct {
	SessionID string `json:"sessionId"`
	Unsynced  bool   `json:"unsynced"`
}

// SyncPendingResponse reports how many sessions a bulk sync confirmed.
type SyncPendingResponse struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
}
