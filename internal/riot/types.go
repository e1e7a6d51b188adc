// Package riot implements the remote match-statistics API client.
package riot

// matchDTO mirrors the match-v5 response shape. Only the fields the
// pipeline consumes are declared; the raw payload is kept verbatim for
// forward compatibility.
type matchDTO struct {
	Metadata matchMetadataDTO `json:"metadata"`
	Info     matchInfoDTO     `json:"info"`
}

type matchMetadataDTO struct {
	MatchID      string   `json:"matchId"`
	Participants []string `json:"participants"`
}

type matchInfoDTO struct {
	QueueID            int              `json:"queueId"`
	GameStartTimestamp int64            `json:"gameStartTimestamp"`
	GameDuration       int64            `json:"gameDuration"`
	Participants       []participantDTO `json:"participants"`
	Teams              []teamDTO        `json:"teams"`
}

type participantDTO struct {
	PUUID               string `json:"puuid"`
	TeamID              int    `json:"teamId"`
	TeamPosition        string `json:"teamPosition"`
	ChampionID          int    `json:"championId"`
	Kills               int    `json:"kills"`
	Deaths              int    `json:"deaths"`
	Assists             int    `json:"assists"`
	GoldEarned          int    `json:"goldEarned"`
	TotalMinionsKilled  int    `json:"totalMinionsKilled"`
	NeutralMinionsKilled int   `json:"neutralMinionsKilled"`
	// Pointer so an absent field is distinguishable from a true zero;
	// the feature layer imputes its own default.
	VisionScore                 *int `json:"visionScore"`
	TotalDamageDealtToChampions int  `json:"totalDamageDealtToChampions"`
	Win                         bool `json:"win"`
}

type teamDTO struct {
	TeamID int  `json:"teamId"`
	Win    bool `json:"win"`
}

type leagueListDTO struct {
	Entries []leagueEntryDTO `json:"entries"`
}

type leagueEntryDTO struct {
	PUUID string `json:"puuid"`
}
