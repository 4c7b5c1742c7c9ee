package sqlc

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type RawEvent struct {
	ID         int64              `json:"id"`
	TenantID   int64              `json:"tenant_id"`
	EventID    string             `json:"event_id"`
	OccurredAt int64              `json:"occurred_at"`
	Payload    []byte             `json:"payload"`
	LastError  pgtype.Text        `json:"last_error"`
	CreatedAt  pgtype.Timestamptz `json:"created_at"`
}

type SessionFact struct {
	ID                   int64              `json:"id"`
	TenantID             int64              `json:"tenant_id"`
	SubjectReference     string             `json:"subject_reference"`
	SourceEventID        string             `json:"source_event_id"`
	FactType             string             `json:"fact_type"`
	OccurredAt           int64              `json:"occurred_at"`
	GameID               pgtype.Text        `json:"game_id"`
	CounterpartReference pgtype.Text        `json:"counterpart_reference"`
	CreatedAt            pgtype.Timestamptz `json:"created_at"`
}

type AccountRollup struct {
	TenantID  int64              `json:"tenant_id"`
	AccountID int64              `json:"account_id"`
	Counts    []byte             `json:"counts"`
	Qualifier []byte             `json:"qualifier"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}
