package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
	"github.com/tripmate/tripmate-sync/pkg/metrics"
)

// FallbackReply is the bot message recorded when the guide could not answer.
const FallbackReply = "Sorry, something went wrong."

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMapItemNotFound = errors.New("map item not found")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrResponderFailed = errors.New("guide responder failed")
)

// Responder answers one user turn of a guide conversation.
type Responder interface {
	Name() string
	Reply(ctx context.Context, req *model.GuideRequest) (*model.GuideReply, error)
}

// GuideService drives a guide conversation through the chat history store.
type GuideService struct {
	chat      *ChatHistoryStore
	pins      *PinStore
	responder Responder
	userID    string
	location  model.Coords
	logger    *logger.Logger
}

// NewGuideService creates a new guide service.
func NewGuideService(chat *ChatHistoryStore, pins *PinStore, responder Responder, userID string, location model.Coords, log *logger.Logger) *GuideService {
	return &GuideService{
		chat:      chat,
		pins:      pins,
		responder: responder,
		userID:    userID,
		location:  location,
		logger:    log.With(zap.String("component", "guide")),
	}
}

// Send records the user's message, asks the responder and records its reply.
// The guide sees req.UserID, or the configured user when the request has none.
// A responder failure still records a fallback bot message and returns the
// response together with an error wrapping ErrResponderFailed.
func (s *GuideService) Send(ctx context.Context, req *model.SendMessageRequest) (*model.GuideResponse, error) {
	userMsg := userMessage(req)
	if strings.TrimSpace(userMsg.Text) == "" && userMsg.ImageURI == "" {
		return nil, ErrEmptyMessage
	}

	var (
		id       string
		remoteID *string
	)
	if req.SessionID == "" {
		id = s.chat.CreateSession(userMsg)
		s.chat.SyncInBackground(id)
	} else {
		if _, ok := s.chat.LoadSession(ctx, req.SessionID); !ok {
			return nil, ErrSessionNotFound
		}
		id = req.SessionID
		s.chat.AppendMessage(id, userMsg)
		remoteID = &id
	}

	userID := req.UserID
	if userID == "" {
		userID = s.userID
	}
	guideReq := &model.GuideRequest{
		UserID:    userID,
		Message:   userMsg.Text,
		SessionID: remoteID,
		Location:  s.location,
		ImageURI:  userMsg.ImageURI,
		History:   s.history(id),
	}

	name := "none"
	var (
		reply *model.GuideReply
		err   error
	)
	if s.responder == nil {
		err = errors.New("no guide responder configured")
	} else {
		name = s.responder.Name()
		reply, err = s.responder.Reply(ctx, guideReq)
		if err == nil && reply == nil {
			err = errors.New("empty reply")
		}
	}

	if err != nil {
		metrics.GuideRepliesTotal.WithLabelValues(name, "failure").Inc()
		s.logger.Error("guide reply failed",
			zap.String("session_id", id),
			zap.String("responder", name),
			zap.Error(err),
		)
		s.chat.AppendMessage(id, model.ChatMessage{Role: model.RoleBot, Type: model.MessageTypeText, Text: FallbackReply})
		s.chat.SyncInBackground(id)
		return &model.GuideResponse{
			SessionID: id,
			Reply:     s.latest(id),
			Error:     FallbackReply,
		}, fmt.Errorf("%w: %v", ErrResponderFailed, err)
	}
	metrics.GuideRepliesTotal.WithLabelValues(name, "success").Inc()

	if reply.SessionID != "" && reply.SessionID != id {
		s.chat.AdoptSessionID(id, reply.SessionID)
		id = reply.SessionID
	}

	s.chat.AppendMessage(id, reply.Message())
	s.chat.SyncInBackground(id)

	return &model.GuideResponse{SessionID: id, Reply: s.latest(id)}, nil
}

// SavePlace turns a map item of a session into a want-to-go pin. A pin
// already saved for the item is returned as is.
func (s *GuideService) SavePlace(ctx context.Context, sessionID, itemID string) (model.Pin, error) {
	sess, ok := s.chat.LoadSession(ctx, sessionID)
	if !ok {
		return model.Pin{}, ErrSessionNotFound
	}

	item, ok := findMapItem(sess, itemID)
	if !ok {
		return model.Pin{}, ErrMapItemNotFound
	}

	for _, pin := range s.pins.State().WantToGo {
		if pin.PlaceID == itemID && pin.Source == model.PinSourceChat {
			return pin, nil
		}
	}

	pin := model.Pin{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      model.PinTypeWant,
		Coords:    model.Coords{Latitude: item.Coords.Lat, Longitude: item.Coords.Long},
		PlaceID:   itemID,
		Title:     item.LandmarkName,
		Notes:     item.About,
		Source:    model.PinSourceChat,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.pins.AddPin(pin)
	return pin, nil
}

// history returns the session's messages oldest first, without the newest one.
func (s *GuideService) history(id string) []model.ChatMessage {
	sess, ok := s.chat.GetSession(id)
	if !ok || len(sess.Messages) < 2 {
		return nil
	}
	earlier := sess.Messages[1:]
	out := make([]model.ChatMessage, len(earlier))
	for i, m := range earlier {
		out[len(earlier)-1-i] = m
	}
	return out
}

func (s *GuideService) latest(id string) *model.ChatMessage {
	sess, ok := s.chat.GetSession(id)
	if !ok || len(sess.Messages) == 0 {
		return nil
	}
	msg := sess.Messages[0]
	return &msg
}

func userMessage(req *model.SendMessageRequest) model.ChatMessage {
	var msg model.ChatMessage
	if req.Message != nil {
		msg = *req.Message
	}
	if msg.Text == "" {
		msg.Text = req.Text
	}
	if msg.ImageURI == "" {
		msg.ImageURI = req.ImageURI
	}
	msg.Role = model.RoleUser
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	return msg
}

// findMapItem returns the newest map item with itemID that has coordinates.
func findMapItem(sess model.ChatSession, itemID string) (model.MapItem, bool) {
	for _, m := range sess.Messages {
		if m.Type != model.MessageTypeMap {
			continue
		}
		for _, item := range m.MapItems {
			if item.ID != nil && fmt.Sprint(item.ID) == itemID && item.Coords != nil {
				return item, true
			}
		}
	}
	return model.MapItem{}, false
}
