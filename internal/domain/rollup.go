package domain

import (
	"math"
	"time"
)

// View is a named slice of an account's counts.
type View string

const (
	ViewOverview    View = "overview"
	ViewQualifier   View = "qualifier"
	ViewElimination View = "elimination"
)

// FactCounts holds one counter per fact type.
type FactCounts struct {
	NewGame      int `json:"new_game"`
	GameStarted  int `json:"game_started"`
	PlayerJoined int `json:"player_joined"`
	GameFinished int `json:"game_finished"`
	Kill         int `json:"kill"`
	Death        int `json:"death"`
	Suicide      int `json:"suicide"`
}

// Add increments the counter of t. Unknown types are ignored.
func (c *FactCounts) Add(t FactType) {
	switch t {
	case FactNewGame:
		c.NewGame++
	case FactGameStarted:
		c.GameStarted++
	case FactPlayerJoined:
		c.PlayerJoined++
	case FactGameFinished:
		c.GameFinished++
	case FactKill:
		c.Kill++
	case FactDeath:
		c.Death++
	case FactSuicide:
		c.Suicide++
	}
}

// KillDeathRatio is kills/deaths rounded to two decimals, or the raw kill
// count when there are no deaths.
func (c FactCounts) KillDeathRatio() float64 {
	if c.Death == 0 {
		return float64(c.Kill)
	}
	return Round2(float64(c.Kill) / float64(c.Death))
}

// ViewCounts is the full per-view tally of one account.
type ViewCounts struct {
	Overview    FactCounts `json:"overview"`
	Qualifier   FactCounts `json:"qualifier"`
	Elimination FactCounts `json:"elimination"`
}

// Get returns the counts of view v.
func (vc ViewCounts) Get(v View) FactCounts {
	switch v {
	case ViewQualifier:
		return vc.Qualifier
	case ViewElimination:
		return vc.Elimination
	default:
		return vc.Overview
	}
}

// Tally recomputes the per-view counts from scratch. The result depends only
// on the multiset of facts, never on their order.
func Tally(facts []FlaggedFact) ViewCounts {
	var vc ViewCounts
	for _, f := range facts {
		vc.Overview.Add(f.FactType)
		if f.IsQualifier {
			vc.Qualifier.Add(f.FactType)
		}
		if f.IsElimination {
			vc.Elimination.Add(f.FactType)
		}
	}
	return vc
}

// Requirement is one line of a qualifier verdict breakdown.
type Requirement struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Threshold   any    `json:"threshold"`
	Actual      any    `json:"actual"`
	Met         bool   `json:"met"`
}

// QualifierVerdict is the evaluated outcome of the qualification rule set.
type QualifierVerdict struct {
	IsQualified  bool          `json:"is_qualified"`
	Requirements []Requirement `json:"requirements"`
	EvaluatedAt  time.Time     `json:"evaluated_at"`
}

// AccountRollup is the materialized view of an account's facts.
type AccountRollup struct {
	TenantID  int64             `json:"tenant_id"`
	AccountID int64             `json:"account_id"`
	Counts    ViewCounts        `json:"counts"`
	Qualifier *QualifierVerdict `json:"qualifier,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
