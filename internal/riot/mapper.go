package riot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/riftlab/matchforge/internal/pipeline"
)

// Vision score default when the field is absent from the payload. Zero is
// a meaningful vision score, so absence gets an out-of-domain sentinel.
const missingVisionScore = -1

// mapMatch converts a raw match-v5 payload into a MatchRecord. The raw
// bytes are retained on the record untouched.
func mapMatch(ref pipeline.MatchRef, payload []byte, fetchedAt time.Time) (pipeline.MatchRecord, error) {
	var dto matchDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return pipeline.MatchRecord{}, fmt.Errorf("decode match payload: %w", err)
	}
	if len(dto.Info.Participants) == 0 {
		return pipeline.MatchRecord{}, fmt.Errorf("match %s: payload has no participants", ref.ID)
	}

	participants := make([]pipeline.ParticipantRecord, 0, len(dto.Info.Participants))
	for _, p := range dto.Info.Participants {
		vision := missingVisionScore
		if p.VisionScore != nil {
			vision = *p.VisionScore
		}
		participants = append(participants, pipeline.ParticipantRecord{
			Player:            pipeline.PlayerRef{PUUID: p.PUUID, Region: ref.Region},
			TeamID:            p.TeamID,
			Role:              p.TeamPosition,
			ChampionID:        p.ChampionID,
			Kills:             p.Kills,
			Deaths:            p.Deaths,
			Assists:           p.Assists,
			GoldEarned:        p.GoldEarned,
			MinionsKilled:     p.TotalMinionsKilled,
			NeutralMinions:    p.NeutralMinionsKilled,
			VisionScore:       vision,
			DamageToChampions: p.TotalDamageDealtToChampions,
			Win:               p.Win,
		})
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)

	return pipeline.MatchRecord{
		Ref:          ref,
		QueueID:      dto.Info.QueueID,
		GameStart:    time.UnixMilli(dto.Info.GameStartTimestamp).UTC(),
		Duration:     time.Duration(dto.Info.GameDuration) * time.Second,
		Participants: participants,
		RawPayload:   raw,
		FetchedAt:    fetchedAt,
	}, nil
}
