package bridge

import "encoding/json"

// Message types exchanged between the host and a panel.
const (
	TypeReady       = "ready"
	TypeInit        = "init"
	TypeUpdate      = "update"
	TypeStroke      = "stroke"
	TypeGetFileData = "getFileData"
	TypeResponse    = "response"
)

// Message is the wire shape of every host/panel message. RequestID is only
// set on correlated requests and their responses.
type Message struct {
	Type      string          `json:"type"`
	RequestID *int64          `json:"requestId,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// InitBody is sent once a panel reports ready. Untitled documents get the
// flags; everything else gets the encoded payload.
type InitBody struct {
	Untitled bool   `json:"untitled,omitempty"`
	Editable bool   `json:"editable,omitempty"`
	Value    string `json:"value,omitempty"`
}

// UpdateBody tells a panel to reload after undo, redo or revert.
type UpdateBody struct {
	Value *string         `json:"value,omitempty"`
	Edits json.RawMessage `json:"edits"`
}

// Poster delivers a message to a panel.
type Poster interface {
	PostMessage(msg Message) error
}
