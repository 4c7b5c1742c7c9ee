package domain

// FactType is the normalized kind of a session fact.
type FactType string

const (
	FactNewGame      FactType = "NEW_GAME"
	FactGameStarted  FactType = "GAME_STARTED"
	FactPlayerJoined FactType = "PLAYER_JOINED"
	FactGameFinished FactType = "GAME_FINISHED"
	FactKill         FactType = "KILL"
	FactDeath        FactType = "DEATH"
	FactSuicide      FactType = "SUICIDE"
)

// Valid reports whether t is one of the closed set of fact types.
func (t FactType) Valid() bool {
	switch t {
	case FactNewGame, FactGameStarted, FactPlayerJoined, FactGameFinished,
		FactKill, FactDeath, FactSuicide:
		return true
	}
	return false
}

// NoSubject is the subject of facts that do not belong to a player
// (NEW_GAME and the per-game finish marker).
const NoSubject = ""

// Length limits shared by ingestion and classification, in characters.
const (
	MaxEventIDLength   = 128
	MaxReferenceLength = 512
	MaxGameIDLength    = 128
)

// SessionFact is an immutable fact derived from exactly one raw event.
// (TenantID, SourceEventID, SubjectReference, FactType) is the idempotency key.
type SessionFact struct {
	TenantID             int64    `json:"tenant_id"`
	SubjectReference     string   `json:"subject_reference"`
	SourceEventID        string   `json:"source_event_id"`
	FactType             FactType `json:"fact_type"`
	OccurredAt           int64    `json:"occurred_at"`
	GameID               *string  `json:"game_id,omitempty"`
	CounterpartReference *string  `json:"counterpart_reference,omitempty"`
}

// HasSubject reports whether the fact is attributed to a player.
func (f SessionFact) HasSubject() bool {
	return f.SubjectReference != NoSubject
}

// FlaggedFact is a fact joined with the view flags of its source event payload.
type FlaggedFact struct {
	FactType      FactType
	IsQualifier   bool
	IsElimination bool
}

// GameSpan is the first and last timestamp of an account's facts for one game.
type GameSpan struct {
	GameID string
	First  int64
	Last   int64
}
