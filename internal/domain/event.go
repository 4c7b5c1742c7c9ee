package domain

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// RawEvent is a telemetry event as accepted from the ingestion gateway.
// Payload is kept verbatim; LastError is set only by classification.
type RawEvent struct {
	ID         int64           `json:"id"`
	TenantID   int64           `json:"tenant_id"`
	EventID    string          `json:"event_id"`
	OccurredAt int64           `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
	LastError  *string         `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Event types understood by the classifier.
const (
	EventTypeGlobal       = "global"
	EventTypeNewGame      = "new_game"
	EventTypeGameStarted  = "game_started"
	EventTypePlayerJoined = "player_joined"
	EventTypeKill         = "kill"
	EventTypeGameFinished = "game_finished"
)

// MalformedEventError marks a payload that can never be classified.
// It is permanent: the event is flagged and not retried.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed event: " + e.Reason
}

func malformed(format string, args ...any) error {
	return &MalformedEventError{Reason: fmt.Sprintf(format, args...)}
}

// Payload is the closed set of event variants. Each variant carries only the
// fields its type needs, already validated.
type Payload interface {
	Type() string
}

type GlobalPayload struct {
	Stats json.RawMessage
}

type NewGamePayload struct {
	GameID string
}

type GameStartedPayload struct {
	GameID string
	Keys   []string
}

type PlayerJoinedPayload struct {
	GameID string
	Key    string
}

type KillPayload struct {
	GameID string
	Killer string
	Victim string
}

// Suicide reports whether the killer and the victim are the same reference.
func (p KillPayload) Suicide() bool {
	return p.Killer == p.Victim
}

type GameFinishedPayload struct {
	GameID string
}

// UnknownPayload is a well-formed document whose type is not recognized.
type UnknownPayload struct {
	Name string
}

func (GlobalPayload) Type() string       { return EventTypeGlobal }
func (NewGamePayload) Type() string      { return EventTypeNewGame }
func (GameStartedPayload) Type() string  { return EventTypeGameStarted }
func (PlayerJoinedPayload) Type() string { return EventTypePlayerJoined }
func (KillPayload) Type() string         { return EventTypeKill }
func (GameFinishedPayload) Type() string { return EventTypeGameFinished }
func (p UnknownPayload) Type() string    { return p.Name }

// envelope is the loose wire shape of every payload.
type envelope struct {
	Type   *string         `json:"type"`
	GameID *string         `json:"game_id"`
	Stats  json.RawMessage `json:"stats"`
	Keys   []string        `json:"keys"`
	Key    *string         `json:"key"`
	Killer *string         `json:"killer"`
	Victim *string         `json:"victim"`
}

// ParsePayload decodes a raw payload into its variant. Validation failures
// return *MalformedEventError.
func ParsePayload(raw []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("undecodable payload: %v", err)
	}
	if env.Type == nil || *env.Type == "" {
		return nil, malformed("missing type")
	}

	switch *env.Type {
	case EventTypeGlobal:
		if len(env.Stats) == 0 || string(env.Stats) == "null" {
			return nil, malformed("global event missing stats")
		}
		return GlobalPayload{Stats: env.Stats}, nil
	case EventTypeNewGame, EventTypeGameStarted, EventTypePlayerJoined,
		EventTypeKill, EventTypeGameFinished:
	default:
		return UnknownPayload{Name: *env.Type}, nil
	}

	gameID, err := requireString("game_id", env.GameID, MaxGameIDLength)
	if err != nil {
		return nil, err
	}

	switch *env.Type {
	case EventTypeNewGame:
		return NewGamePayload{GameID: gameID}, nil
	case EventTypeGameStarted:
		if len(env.Keys) == 0 {
			return nil, malformed("game_started missing keys")
		}
		for i, key := range env.Keys {
			if key == "" {
				return nil, malformed("game_started key %d is empty", i)
			}
			if utf8.RuneCountInString(key) > MaxReferenceLength {
				return nil, malformed("game_started key %d exceeds %d characters", i, MaxReferenceLength)
			}
		}
		return GameStartedPayload{GameID: gameID, Keys: env.Keys}, nil
	case EventTypePlayerJoined:
		key, err := requireString("key", env.Key, MaxReferenceLength)
		if err != nil {
			return nil, err
		}
		return PlayerJoinedPayload{GameID: gameID, Key: key}, nil
	case EventTypeKill:
		killer, err := requireString("killer", env.Killer, MaxReferenceLength)
		if err != nil {
			return nil, err
		}
		victim, err := requireString("victim", env.Victim, MaxReferenceLength)
		if err != nil {
			return nil, err
		}
		return KillPayload{GameID: gameID, Killer: killer, Victim: victim}, nil
	default:
		return GameFinishedPayload{GameID: gameID}, nil
	}
}

func requireString(field string, v *string, limit int) (string, error) {
	if v == nil || *v == "" {
		return "", malformed("missing %s", field)
	}
	if utf8.RuneCountInString(*v) > limit {
		return "", malformed("%s exceeds %d characters", field, limit)
	}
	return *v, nil
}
