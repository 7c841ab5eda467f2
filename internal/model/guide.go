package model

// GuideRequest is what the guide responder receives for one user turn.
type GuideRequest struct {
	UserID    string  `json:"userId"`
	Message   string  `json:"message"`
	SessionID *string `json:"sessionId"`
	Location  Coords  `json:"location"`
	ImageURI  string  `json:"imageUri,omitempty"`

	// History holds earlier messages, oldest first. Not sent to the webhook.
	History []ChatMessage `json:"-"`
}

// GuideReply is the guide's answer to one user turn.
type GuideReply struct {
	SessionID   string    `json:"sessionId,omitempty"`
	Output      string    `json:"output,omitempty"`
	Text        string    `json:"text,omitempty"`
	Card        *ChatCard `json:"card,omitempty"`
	MapItems    []MapItem `json:"mapItems,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// Message converts the reply into a bot chat message without id and timestamp.
func (r *GuideReply) Message() ChatMessage {
	text := r.Text
	if text == "" {
		text = r.Output
	}
	msg := ChatMessage{
		Role:        RoleBot,
		Type:        MessageTypeText,
		Text:        text,
		Suggestions: r.Suggestions,
	}
	switch {
	case len(r.MapItems) > 0:
		msg.Type = MessageTypeMap
		msg.MapItems = r.MapItems
	case r.Card != nil:
		msg.Type = MessageTypeCard
		msg.Card = r.Card
	}
	return msg
}
