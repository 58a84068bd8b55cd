package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ImportRequestMessage asks the worker to import ICS sources.
// An empty SourceID means every configured source.
type ImportRequestMessage struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewImportRequestMessage creates a request with a fresh id.
func NewImportRequestMessage(sourceID string) *ImportRequestMessage {
	return &ImportRequestMessage{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		RequestedAt: time.Now().UTC(),
	}
}

// AllSources reports whether the request covers every configured source.
func (m *ImportRequestMessage) AllSources() bool {
	return m.SourceID == ""
}

// ToJSON converts the message to JSON bytes
func (m *ImportRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ImportRequestMessageFromJSON decodes a message and checks it carries an id.
func ImportRequestMessageFromJSON(data []byte) (*ImportRequestMessage, error) {
	var msg ImportRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errors.New("import request without id")
	}
	return &msg, nil
}
