package riot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlab/matchforge/internal/pipeline"
)

func TestMapMatch(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"info": {
			"queueId": 420,
			"gameStartTimestamp": 1700000000000,
			"gameDuration": 2100,
			"participants": [
				{"puuid": "p1", "teamId": 100, "teamPosition": "JUNGLE",
				 "championId": 64, "kills": 3, "deaths": 1, "assists": 9,
				 "goldEarned": 11000, "totalMinionsKilled": 40,
				 "neutralMinionsKilled": 150, "visionScore": 31,
				 "totalDamageDealtToChampions": 14000, "win": false},
				{"puuid": "p2", "teamId": 200, "teamPosition": "UTILITY",
				 "championId": 412, "kills": 1, "deaths": 4, "assists": 21,
				 "goldEarned": 8000, "totalMinionsKilled": 25,
				 "totalDamageDealtToChampions": 6000, "win": true}
			]
		}
	}`)
	fetched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ref := pipeline.MatchRef{ID: "EUW1_42", Region: "euw1"}

	record, err := mapMatch(ref, payload, fetched)
	require.NoError(t, err)

	assert.Equal(t, ref, record.Ref)
	assert.Equal(t, 420, record.QueueID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), record.GameStart)
	assert.Equal(t, 35*time.Minute, record.Duration)
	assert.Equal(t, fetched, record.FetchedAt)
	assert.JSONEq(t, string(payload), string(record.RawPayload))

	require.Len(t, record.Participants, 2)
	first := record.Participants[0]
	assert.Equal(t, pipeline.PlayerRef{PUUID: "p1", Region: "euw1"}, first.Player)
	assert.Equal(t, "JUNGLE", first.Role)
	assert.Equal(t, 150, first.NeutralMinions)
	assert.Equal(t, 31, first.VisionScore)
	assert.False(t, first.Win)
}

func TestMapMatchMissingVisionScore(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"info": {
			"participants": [
				{"puuid": "p1", "teamId": 100, "visionScore": 0},
				{"puuid": "p2", "teamId": 200}
			]
		}
	}`)

	record, err := mapMatch(pipeline.MatchRef{ID: "EUW1_1", Region: "euw1"}, payload, time.Now())
	require.NoError(t, err)

	require.Len(t, record.Participants, 2)
	assert.Equal(t, 0, record.Participants[0].VisionScore, "explicit zero survives")
	assert.Equal(t, missingVisionScore, record.Participants[1].VisionScore, "absent field gets the sentinel")
}

func TestMapMatchRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	_, err := mapMatch(pipeline.MatchRef{ID: "EUW1_1", Region: "euw1"}, []byte(`{"info":{}}`), time.Now())
	assert.Error(t, err)

	_, err = mapMatch(pipeline.MatchRef{ID: "EUW1_1", Region: "euw1"}, []byte(`not json`), time.Now())
	assert.Error(t, err)
}
