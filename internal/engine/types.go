package engine

import "encoding/json"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is the subset of JSON Schema used to constrain structured replies.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// JSON returns the schema encoded as a JSON document.
func (s *Schema) JSON() json.RawMessage {
	if s == nil {
		return nil
	}
	b, _ := json.Marshal(s)
	return b
}

// EmbedMode selects which side of a retrieval pair a text is embedded as.
type EmbedMode int

const (
	// EmbedQuery embeds a search query.
	EmbedQuery EmbedMode = iota
	// EmbedDocument embeds a stored document.
	EmbedDocument
)

func (m EmbedMode) String() string {
	if m == EmbedDocument {
		return "document"
	}
	return "query"
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
