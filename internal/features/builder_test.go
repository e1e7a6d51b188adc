package features

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riftlab/matchforge/internal/pipeline"
	"github.com/riftlab/matchforge/internal/storage/memory"
)

// fullMatch builds a ten-participant match with known gold totals: blue
// earns 6000 gold, red 4000, blue wins.
func fullMatch(id string) pipeline.MatchRecord {
	roles := []string{"TOP", "JUNGLE", "MIDDLE", "BOTTOM", "UTILITY"}
	participants := make([]pipeline.ParticipantRecord, 0, 10)
	for i := 0; i < 10; i++ {
		teamID := 100
		gold := 1200
		win := true
		if i >= 5 {
			teamID = 200
			gold = 800
			win = false
		}
		participants = append(participants, pipeline.ParticipantRecord{
			Player:        pipeline.PlayerRef{PUUID: fmt.Sprintf("%s-p%d", id, i), Region: "euw1"},
			TeamID:        teamID,
			Role:          roles[i%5],
			ChampionID:    10 + i,
			Kills:         i,
			Deaths:        i % 3,
			Assists:       2 * i,
			GoldEarned:    gold,
			MinionsKilled: 30 * i,
			VisionScore:   i,
			Win:           win,
		})
	}
	return pipeline.MatchRecord{
		Ref:          pipeline.MatchRef{ID: id, Region: "euw1"},
		QueueID:      420,
		GameStart:    time.Unix(1700000000, 0).UTC(),
		Duration:     30 * time.Minute,
		Participants: participants,
	}
}

func TestRoleIndexEnumeration(t *testing.T) {
	t.Parallel()

	for i, role := range rolesOrder {
		assert.Equal(t, i, roleIndex(role))
	}
	assert.Equal(t, len(rolesOrder), roleUnknown)
	assert.Equal(t, roleUnknown, roleIndex("INVALID"))
	assert.Equal(t, roleUnknown, roleIndex(""))
}

func TestComputeLabel(t *testing.T) {
	t.Parallel()

	m := fullMatch("EUW1_1")
	label, ok := computeLabel(m.Participants)
	require.True(t, ok)
	// Blue gold share is 0.6 and blue won: 0.55*0.6 + 0.45*1.
	assert.InDelta(t, 0.78, label, 1e-9)

	// Zero total gold cannot be labeled.
	var empty [10]pipeline.ParticipantRecord
	for i := range empty {
		empty[i].TeamID = 100
		if i >= 5 {
			empty[i].TeamID = 200
		}
	}
	_, ok = computeLabel(empty[:])
	assert.False(t, ok)
}

func TestOrderParticipants(t *testing.T) {
	t.Parallel()

	// Red-side entries first and roles scrambled; ordering must produce
	// blue TOP..UTILITY then red TOP..UTILITY regardless of payload order.
	m := fullMatch("EUW1_1")
	scrambled := append([]pipeline.ParticipantRecord{}, m.Participants[5:]...)
	scrambled = append(scrambled, m.Participants[4], m.Participants[2], m.Participants[0], m.Participants[3], m.Participants[1])

	ordered := orderParticipants(scrambled)
	var got []string
	for _, p := range ordered {
		got = append(got, fmt.Sprintf("%d/%s", p.TeamID, p.Role))
	}
	assert.Equal(t, []string{
		"100/TOP", "100/JUNGLE", "100/MIDDLE", "100/BOTTOM", "100/UTILITY",
		"200/TOP", "200/JUNGLE", "200/MIDDLE", "200/BOTTOM", "200/UTILITY",
	}, got)
}

func TestOrderParticipantsUnknownRoleKeepsPayloadOrder(t *testing.T) {
	t.Parallel()

	participants := []pipeline.ParticipantRecord{
		{Player: pipeline.PlayerRef{PUUID: "a"}, TeamID: 100, Role: "INVALID"},
		{Player: pipeline.PlayerRef{PUUID: "b"}, TeamID: 100, Role: ""},
		{Player: pipeline.PlayerRef{PUUID: "c"}, TeamID: 100, Role: "TOP"},
	}
	ordered := orderParticipants(participants)

	assert.Equal(t, "c", ordered[0].Player.PUUID, "known role sorts first")
	assert.Equal(t, "a", ordered[1].Player.PUUID, "unknown roles keep payload order")
	assert.Equal(t, "b", ordered[2].Player.PUUID)
	assert.Equal(t, float64(roleUnknown), slotFeatures(ordered[1], 30)[0])
}

func TestSlotFeaturesDerivations(t *testing.T) {
	t.Parallel()

	p := pipeline.ParticipantRecord{
		Role:           "JUNGLE",
		ChampionID:     64,
		Kills:          6,
		Deaths:         0,
		Assists:        9,
		GoldEarned:     12000,
		MinionsKilled:  40,
		NeutralMinions: 140,
		VisionScore:    31,
		Win:            true,
	}
	got := slotFeatures(p, 30)

	assert.Equal(t, 1.0, got[0], "role index")
	assert.Equal(t, 15.0, got[5], "kda uses a floor of one death")
	assert.Equal(t, 400.0, got[6], "gold per minute")
	assert.Equal(t, 6.0, got[7], "cs counts lane and jungle minions")
	assert.Equal(t, 1.0, got[10], "win flag")
}

func TestBuildWritesDeterministicDataset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.New(nil)
	// Insert out of order; output is sorted by (region, match id).
	require.NoError(t, repo.PutMatch(ctx, fullMatch("EUW1_2")))
	require.NoError(t, repo.PutMatch(ctx, fullMatch("EUW1_1")))

	// A short lobby that cannot be labeled.
	short := fullMatch("EUW1_3")
	short.Participants = short.Participants[:4]
	require.NoError(t, repo.PutMatch(ctx, short))

	out := filepath.Join(t.TempDir(), "dataset.csv")
	b := New(repo, zap.NewNop())

	stats, err := b.Build(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.MatchesRead)
	assert.Equal(t, 2, stats.RowsWritten)
	assert.Equal(t, 1, stats.Skipped)

	first, err := os.ReadFile(out)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(first))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header plus two rows")
	assert.Equal(t, Header(), records[0])
	assert.Equal(t, "EUW1_1", records[1][1])
	assert.Equal(t, "EUW1_2", records[2][1])
	assert.Len(t, records[1], 3+10*len(slotFeatureNames))
	label, err := strconv.ParseFloat(records[1][2], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.78, label, 1e-9)

	// A second run over the unchanged repository is byte-identical.
	_, err = b.Build(ctx, out)
	require.NoError(t, err)
	second, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// No temp file debris after the atomic replace.
	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dataset.csv", entries[0].Name())
}
