package model

// Role represents the author of a chat message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// MessageType selects which payload fields of a ChatMessage are populated.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeCard MessageType = "card"
	MessageTypeMap  MessageType = "map"
)

// ChatAction is a button attached to a card.
type ChatAction struct {
	Type    string `json:"type"` // showOnMap | book
	Label   string `json:"label"`
	URL     string `json:"url,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ChatCard is rich content rendered by the guide.
type ChatCard struct {
	ImageURL    string       `json:"imageUrl,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Actions     []ChatAction `json:"actions,omitempty"`
}

// MapCoords uses the short lat/long keys of the guide's location results.
type MapCoords struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// MapItem is one location result of a map message.
// ID is whatever the guide sent: a string or a number.
type MapItem struct {
	ID           any        `json:"id,omitempty"`
	LandmarkName string     `json:"landmarkName"`
	PublicAccess string     `json:"publicAccess,omitempty"`
	About        string     `json:"about,omitempty"`
	OpeningHours string     `json:"openingHours,omitempty"`
	TicketPrices string     `json:"ticketPrices,omitempty"`
	Website      string     `json:"website,omitempty"`
	Coords       *MapCoords `json:"coords,omitempty"`
}

// ChatMessage is a single message of a chat session.
type ChatMessage struct {
	ID          string      `json:"id"`
	Role        Role        `json:"role"`
	Type        MessageType `json:"type"`
	Text        string      `json:"text,omitempty"`
	Card        *ChatCard   `json:"card,omitempty"`
	MapItems    []MapItem   `json:"mapItems,omitempty"`
	ImageURI    string      `json:"imageUri,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
	TS          int64       `json:"ts"`
}

// SendMessageRequest is the request to append a message or talk to the guide.
type SendMessageRequest struct {
	SessionID string       `json:"sessionId,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`
	Text      string       `json:"text,omitempty"`
	ImageURI  string       `json:"imageUri,omitempty"`

	// UserID is the authenticated caller, set by the handler.
	UserID string `json:"-"`
}

// GuideResponse is returned after the guide answered.
type GuideResponse struct {
	SessionID string       `json:"sessionId"`
	Reply     *ChatMessage `json:"reply,omitempty"`
	Error     string       `json:"error,omitempty"`
}
