package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope is the structured-mode CloudEvent published for every record.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	TraceParent     string          `json:"traceparent,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// EventName strips the version suffix from Type.
func (e Envelope) EventName() string {
	if idx := strings.LastIndex(e.Type, ".v"); idx > 0 {
		return e.Type[:idx]
	}
	return e.Type
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("outbox: decode envelope: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return Envelope{}, fmt.Errorf("outbox: envelope without id or type")
	}
	return env, nil
}
