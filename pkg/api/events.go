package api

import "encoding/json"

// EventType discriminates the frames of a playground stream.
type EventType string

const (
	EventSession EventType = "session"
	EventChunk   EventType = "chunk"
	EventStatus  EventType = "status"
	EventMetrics EventType = "metrics"
)

// Phase is the lifecycle phase reported by a status event.
type Phase string

const (
	PhaseStreaming Phase = "streaming"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// Terminal reports whether no further events follow for the provider.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Event is one frame of the multiplexed orchestration stream.
// Only the fields relevant to Type are serialized.
type Event struct {
	Type EventType

	SessionID string
	Persisted bool

	ProviderID string
	Content    string
	Timestamp  int64

	Status  Phase
	Message string

	TokensUsed   int
	Cost         float64
	ResponseTime int64
}

func SessionEvent(sessionID string, persisted bool) Event {
	return Event{Type: EventSession, SessionID: sessionID, Persisted: persisted}
}

func ChunkEvent(providerID, content string, ts int64) Event {
	return Event{Type: EventChunk, ProviderID: providerID, Content: content, Timestamp: ts}
}

func StatusEvent(providerID string, phase Phase, message string) Event {
	return Event{Type: EventStatus, ProviderID: providerID, Status: phase, Message: message}
}

func MetricsEvent(providerID string, tokens int, cost float64, responseTimeMS int64) Event {
	return Event{
		Type:         EventMetrics,
		ProviderID:   providerID,
		TokensUsed:   tokens,
		Cost:         cost,
		ResponseTime: responseTimeMS,
	}
}

// MarshalJSON emits the wire shape of each event type. "model" mirrors
// "providerId" for clients written against the original stream format.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSession:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			SessionID string    `json:"sessionId"`
			Persisted bool      `json:"persisted"`
		}{e.Type, e.SessionID, e.Persisted})
	case EventChunk:
		return json.Marshal(struct {
			Type       EventType `json:"type"`
			Model      string    `json:"model"`
			ProviderID string    `json:"providerId"`
			Content    string    `json:"content"`
			Timestamp  int64     `json:"timestamp"`
		}{e.Type, e.ProviderID, e.ProviderID, e.Content, e.Timestamp})
	case EventStatus:
		return json.Marshal(struct {
			Type       EventType `json:"type"`
			Model      string    `json:"model"`
			ProviderID string    `json:"providerId"`
			Status     Phase     `json:"status"`
			Message    string    `json:"message,omitempty"`
		}{e.Type, e.ProviderID, e.ProviderID, e.Status, e.Message})
	case EventMetrics:
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			Model        string    `json:"model"`
			ProviderID   string    `json:"providerId"`
			TokensUsed   int       `json:"tokensUsed"`
			Cost         float64   `json:"cost"`
			ResponseTime int64     `json:"responseTime"`
		}{e.Type, e.ProviderID, e.ProviderID, e.TokensUsed, e.Cost, e.ResponseTime})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// UnmarshalJSON accepts every shape produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type         EventType `json:"type"`
		SessionID    string    `json:"sessionId"`
		Persisted    bool      `json:"persisted"`
		Model        string    `json:"model"`
		ProviderID   string    `json:"providerId"`
		Content      string    `json:"content"`
		Timestamp    int64     `json:"timestamp"`
		Status       Phase     `json:"status"`
		Message      string    `json:"message"`
		TokensUsed   int       `json:"tokensUsed"`
		Cost         float64   `json:"cost"`
		ResponseTime int64     `json:"responseTime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	providerID := raw.ProviderID
	if providerID == "" {
		providerID = raw.Model
	}

	*e = Event{
		Type:         raw.Type,
		SessionID:    raw.SessionID,
		Persisted:    raw.Persisted,
		ProviderID:   providerID,
		Content:      raw.Content,
		Timestamp:    raw.Timestamp,
		Status:       raw.Status,
		Message:      raw.Message,
		TokensUsed:   raw.TokensUsed,
		Cost:         raw.Cost,
		ResponseTime: raw.ResponseTime,
	}
	return nil
}
