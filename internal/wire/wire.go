package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrMissingType   = errors.New("frame missing type")
	ErrMissingTopic  = errors.New("frame missing topic")
	ErrNoTopics      = errors.New("control frame has no topics")
	ErrUnknownAction = errors.New("unknown control action")
)

// Event is an inbound server-pushed message, one JSON object per frame.
type Event struct {
	Type      string          // Event kind (e.g., "trainsetUpdate", "systemNotification")
	Topic     string          // Subscription channel this belongs to
	Payload   json.RawMessage // Event body, decoded by the consumer
	Timestamp time.Time       // Server timestamp; zero if absent or unparseable
}

// eventEnvelope is the wire shape of an Event. The timestamp travels as an
// ISO-8601 string and is parsed separately so a bad "ts" does not reject an
// otherwise valid frame.
type eventEnvelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      string          `json:"ts,omitempty"`
}

// ParseEvent parses a raw inbound frame. A frame without a type or topic is
// malformed; everything else is accepted.
func ParseEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("parse event frame: %w", err)
	}
	if env.Type == "" {
		return Event{}, ErrMissingType
	}
	if env.Topic == "" {
		return Event{}, ErrMissingTopic
	}

	evt := Event{
		Type:    env.Type,
		Topic:   env.Topic,
		Payload: env.Payload,
	}
	if env.TS != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.TS); err == nil {
			evt.Timestamp = ts
		}
	}
	return evt, nil
}

// Encode marshals the event into its wire shape.
func (e Event) Encode() ([]byte, error) {
	env := eventEnvelope{
		Type:    e.Type,
		Topic:   e.Topic,
		Payload: e.Payload,
	}
	if !e.Timestamp.IsZero() {
		env.TS = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(env)
}

// Action identifies the intent of an outbound control frame.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// Control is an outbound subscription control frame. This client always
// emits a single topic per frame; the list form stays on the wire so servers
// accept batched frames from other producers.
type Control struct {
	Action Action   `json:"action"`
	Topics []string `json:"topics"`
}

// NewSubscribe builds a subscribe control frame.
func NewSubscribe(topics ...string) Control {
	return Control{Action: ActionSubscribe, Topics: topics}
}

// NewUnsubscribe builds an unsubscribe control frame.
func NewUnsubscribe(topics ...string) Control {
	return Control{Action: ActionUnsubscribe, Topics: topics}
}

// Encode marshals the control frame, rejecting structurally invalid ones.
func (c Control) Encode() ([]byte, error) {
	switch c.Action {
	case ActionSubscribe, ActionUnsubscribe:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
	}
	if len(c.Topics) == 0 {
		return nil, ErrNoTopics
	}
	return json.Marshal(c)
}

// ParseControl parses an inbound control frame (server side).
func ParseControl(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("parse control frame: %w", err)
	}
	switch c.Action {
	case ActionSubscribe, ActionUnsubscribe:
	default:
		return Control{}, fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
	}
	if len(c.Topics) == 0 {
		return Control{}, ErrNoTopics
	}
	return c, nil
}
