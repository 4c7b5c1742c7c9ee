package domain

import "time"

// Dimension is a leaderboard ranking axis.
type Dimension string

const (
	DimensionKills          Dimension = "kills"
	DimensionDeaths         Dimension = "deaths"
	DimensionSuicides       Dimension = "suicides"
	DimensionKillDeathRatio Dimension = "killDeathRatio"
)

// Dimensions lists every ranking axis in publication order.
var Dimensions = []Dimension{
	DimensionKills,
	DimensionDeaths,
	DimensionSuicides,
	DimensionKillDeathRatio,
}

// LeaderboardViews are the views that get ranked.
var LeaderboardViews = []View{ViewOverview, ViewQualifier}

// RankedAccount is a rollup joined with the account's display identity.
type RankedAccount struct {
	AccountID int64
	Name      string
	Avatar    string
	Counts    ViewCounts
}

// LeaderboardEntry is one row of a published leaderboard.
type LeaderboardEntry struct {
	Rank           int     `json:"rank"`
	AccountID      int64   `json:"account_id"`
	Name           string  `json:"name"`
	Avatar         string  `json:"avatar"`
	Kills          int     `json:"kills"`
	Deaths         int     `json:"deaths"`
	Suicides       int     `json:"suicides"`
	KillDeathRatio float64 `json:"kill_death_ratio"`
}

// LeaderboardSnapshot is a self-contained, immutable build of all rankings.
type LeaderboardSnapshot struct {
	TenantID    int64                                     `json:"tenant_id"`
	Views       map[View]map[Dimension][]LeaderboardEntry `json:"views"`
	GeneratedAt time.Time                                 `json:"generated_at"`
}

// QualifiedAccount is a row of the qualifiers list, with the verdict that
// qualified it.
type QualifiedAccount struct {
	AccountID int64            `json:"account_id"`
	Name      string           `json:"name"`
	Avatar    string           `json:"avatar"`
	Qualifier QualifierVerdict `json:"qualifier"`
}
