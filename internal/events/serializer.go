package events

import (
	"encoding/json"
	"fmt"
)

// Serializer converts a batch of events into a request body
type Serializer interface {
	Serialize(batch []*Event) ([]byte, error)
	ContentType() string
}

// JSONSerializer encodes a batch as a JSON array of event objects
type JSONSerializer struct{}

// Serialize implements Serializer
func (JSONSerializer) Serialize(batch []*Event) ([]byte, error) {
	if batch == nil {
		batch = []*Event{}
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %d events: %w", len(batch), err)
	}
	return body, nil
}

// ContentType implements Serializer
func (JSONSerializer) ContentType() string {
	return "application/json"
}
