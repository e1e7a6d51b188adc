// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// EntityKind distinguishes the two classes of discovery work.
type EntityKind string

// Frontier entity kinds.
const (
	KindPlayer EntityKind = "player"
	KindMatch  EntityKind = "match"
)

// EntryState represents the lifecycle state of a frontier entry.
type EntryState string

// Frontier entry states persisted in the repository.
const (
	StatePending  EntryState = "pending"
	StateInFlight EntryState = "in_flight"
	StateDone     EntryState = "done"
	StateFailed   EntryState = "failed"
)

// PlayerRef identifies a player in the remote system. Used only as a
// lookup key, never mutated.
type PlayerRef struct {
	PUUID  string `json:"puuid"`
	Region string `json:"region"`
}

// MatchRef identifies a match. Globally unique per (Region, ID).
type MatchRef struct {
	ID     string `json:"id"`
	Region string `json:"region"`
}

// ParticipantRecord captures one player's stats within a match.
type ParticipantRecord struct {
	Player            PlayerRef `json:"player"`
	TeamID            int       `json:"team_id"`
	Role              string    `json:"role"`
	ChampionID        int       `json:"champion_id"`
	Kills             int       `json:"kills"`
	Deaths            int       `json:"deaths"`
	Assists           int       `json:"assists"`
	GoldEarned        int       `json:"gold_earned"`
	MinionsKilled     int       `json:"minions_killed"`
	NeutralMinions    int       `json:"neutral_minions"`
	VisionScore       int       `json:"vision_score"`
	DamageToChampions int       `json:"damage_to_champions"`
	Win               bool      `json:"win"`
}

// MatchRecord is the full persisted match detail. Immutable once stored;
// matches are historical facts and are never mutated in place.
type MatchRecord struct {
	Ref          MatchRef            `json:"ref"`
	QueueID      int                 `json:"queue_id"`
	GameStart    time.Time           `json:"game_start"`
	Duration     time.Duration       `json:"duration"`
	Participants []ParticipantRecord `json:"participants"`
	RawPayload   []byte              `json:"-"`
	FetchedAt    time.Time           `json:"fetched_at"`
}

// FrontierEntry is a pending unit of discovery work. At most one live
// entry exists per (Kind, Ref).
type FrontierEntry struct {
	Kind         EntityKind `json:"kind"`
	Ref          string     `json:"ref"`
	Region       string     `json:"region"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	Attempts     int        `json:"attempts"`
	State        EntryState `json:"state"`
	LastError    string     `json:"last_error,omitempty"`
}

// StopReason records why a crawl run terminated.
type StopReason string

// Stop reasons reported in the final run status.
const (
	StopExhausted StopReason = "exhausted"
	StopCeiling   StopReason = "ceiling"
	StopDeadline  StopReason = "deadline"
	StopSignal    StopReason = "signal"
)

// RunStatus summarizes a completed crawl run.
type RunStatus struct {
	RunID          string         `json:"run_id"`
	MatchesStored  int            `json:"matches_stored"`
	PlayersScanned int            `json:"players_scanned"`
	EntriesFailed  int            `json:"entries_failed"`
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
	StopReason     StopReason     `json:"stop_reason"`
	Started        time.Time      `json:"started_at"`
	Finished       time.Time      `json:"finished_at"`
}

// FeatureRecord is one row of the training dataset, derived purely from a
// MatchRecord and regenerable at any time.
type FeatureRecord struct {
	Ref      MatchRef  `json:"ref"`
	Features []float64 `json:"features"`
	Label    float64   `json:"label"`
}
