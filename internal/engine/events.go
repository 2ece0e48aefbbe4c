// Package engine reacts to platform activity events: it maintains the usage
// ledger, enforces daily quotas, recomputes trust state, and auto-bans users
// who accumulate too many abuse flags in a day.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType identifies an activity event on the stream.
type EventType string

// Event types the engine consumes.
const (
	EventRatingCreated  EventType = "rating.created"
	EventMessageCreated EventType = "message.created"
	EventFlagCreated    EventType = "flag.created"
	EventFileUploaded   EventType = "file.uploaded"
)

// Event decode errors.
var (
	// ErrMalformedEvent indicates an envelope or payload that cannot be
	// decoded. Malformed events are logged and skipped, never retried.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownEvent indicates an event type the engine does not handle.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Envelope is the wire form of a stream event: a type tag plus an opaque
// payload decoded per type.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RatingCreated is emitted when a user rates another user after a chat.
type RatingCreated struct {
	ID        string    `json:"id"`
	RaterUID  string    `json:"raterUid"`
	RatedUID  string    `json:"ratedUid"`
	ChatID    string    `json:"chatId"`
	Stars     int       `json:"stars"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is the payload of a chat message event. Type distinguishes plain
// text from file attachments.
type Message struct {
	From   string `json:"from"`
	ChatID string `json:"chatId"`
	Type   string `json:"type,omitempty"`
}

// MessageCreated is emitted for every chat message write.
type MessageCreated struct {
	Message Message `json:"message"`
}

// FlagCreated is emitted when a user files an abuse report against another.
type FlagCreated struct {
	ID        string    `json:"id"`
	FromUID   string    `json:"fromUid"`
	ToUID     string    `json:"toUid"`
	Reason    string    `json:"reason"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileUploaded is emitted when a file lands in chat storage. Name is the
// full object path; the uploader is encoded in the path, not a field.
type FileUploaded struct {
	Name string `json:"name"`
}

// Decode parses the typed payload out of an envelope. The returned value is
// a pointer to one of the event structs above.
func Decode(env Envelope) (any, error) {
	switch env.Type {
	case EventRatingCreated:
		var ev RatingCreated
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		return &ev, nil
	case EventMessageCreated:
		var ev MessageCreated
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		return &ev, nil
	case EventFlagCreated:
		var ev FlagCreated
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		return &ev, nil
	case EventFileUploaded:
		var ev FileUploaded
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		return &ev, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

// UploaderFromPath extracts the uploader uid from a chat file object path of
// the form "chatFiles/{chatId}/{uid}/{filename...}". Paths outside that
// layout yield an empty uid.
func UploaderFromPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 4 || parts[0] != "chatFiles" {
		return ""
	}
	if parts[1] == "" || parts[2] == "" {
		return ""
	}
	return parts[2]
}
