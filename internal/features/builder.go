// Package features derives the flat training dataset from stored
// matches. The transform is pure and repeatable: two runs over an
// unchanged repository produce byte-identical output.
package features

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/riftlab/matchforge/internal/pipeline"
)

// Canonical role order: blue side TOP through UTILITY, then red side.
var rolesOrder = [...]string{"TOP", "JUNGLE", "MIDDLE", "BOTTOM", "UTILITY"}

// roleUnknown is the bucket for roles outside the fixed enumeration.
// Unseen categories encode rather than error.
const roleUnknown = len(rolesOrder)

const (
	blueTeamID = 100
	redTeamID  = 200
)

// Stats summarizes one builder run.
type Stats struct {
	MatchesRead int
	RowsWritten int
	Skipped     int
}

// Builder reads persisted matches and materializes feature records.
type Builder struct {
	repo   pipeline.Repository
	logger *zap.Logger
}

// New constructs a Builder.
func New(repo pipeline.Repository, logger *zap.Logger) *Builder {
	return &Builder{repo: repo, logger: logger}
}

// Build streams every stored match into a feature row and writes the
// dataset as a complete replacement of the output file.
func (b *Builder) Build(ctx context.Context, outputPath string) (Stats, error) {
	var stats Stats
	var records []pipeline.FeatureRecord

	err := b.repo.ForEachMatch(ctx, pipeline.MatchRef{}, func(m pipeline.MatchRecord) error {
		stats.MatchesRead++
		record, ok := buildRecord(m)
		if !ok {
			stats.Skipped++
			return nil
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("iterate matches: %w", err)
	}

	// Row order is part of the determinism contract.
	sort.Slice(records, func(i, j int) bool {
		if records[i].Ref.Region != records[j].Ref.Region {
			return records[i].Ref.Region < records[j].Ref.Region
		}
		return records[i].Ref.ID < records[j].Ref.ID
	})

	if err := writeDataset(outputPath, records); err != nil {
		return stats, err
	}
	stats.RowsWritten = len(records)
	b.logger.Info("feature dataset written",
		zap.String("path", outputPath),
		zap.Int("matches_read", stats.MatchesRead),
		zap.Int("rows", stats.RowsWritten),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// buildRecord derives one feature row. Matches without a full two-team
// lobby cannot be labeled and are skipped.
func buildRecord(m pipeline.MatchRecord) (pipeline.FeatureRecord, bool) {
	if len(m.Participants) != 10 {
		return pipeline.FeatureRecord{}, false
	}
	label, ok := computeLabel(m.Participants)
	if !ok {
		return pipeline.FeatureRecord{}, false
	}

	ordered := orderParticipants(m.Participants)
	minutes := m.Duration.Minutes()
	if minutes < 1 {
		minutes = 1
	}

	features := make([]float64, 0, len(ordered)*len(slotFeatureNames))
	for _, p := range ordered {
		features = append(features, slotFeatures(p, minutes)...)
	}
	return pipeline.FeatureRecord{Ref: m.Ref, Features: features, Label: label}, true
}

// computeLabel measures blue-side success as a continuous value:
// 0.55 × gold_ratio + 0.45 × win_flag.
func computeLabel(participants []pipeline.ParticipantRecord) (float64, bool) {
	var goldBlue, goldRed float64
	var blueWin bool
	for _, p := range participants {
		switch p.TeamID {
		case blueTeamID:
			goldBlue += float64(p.GoldEarned)
			blueWin = p.Win
		case redTeamID:
			goldRed += float64(p.GoldEarned)
		}
	}
	total := goldBlue + goldRed
	if total == 0 {
		return 0, false
	}
	winFlag := 0.0
	if blueWin {
		winFlag = 1.0
	}
	return 0.55*(goldBlue/total) + 0.45*winFlag, true
}

// orderParticipants applies the canonical participant-role sort: blue
// team first, then red, each by the fixed role enumeration. Roles outside
// the enumeration sort into the unknown bucket; ties keep payload order,
// so the result is deterministic for any input.
func orderParticipants(participants []pipeline.ParticipantRecord) []pipeline.ParticipantRecord {
	ordered := make([]pipeline.ParticipantRecord, len(participants))
	copy(ordered, participants)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TeamID != ordered[j].TeamID {
			return ordered[i].TeamID < ordered[j].TeamID
		}
		return roleIndex(ordered[i].Role) < roleIndex(ordered[j].Role)
	})
	return ordered
}

func roleIndex(role string) int {
	for i, r := range rolesOrder {
		if r == role {
			return i
		}
	}
	return roleUnknown
}

// slotFeatureNames is the stable per-slot column layout. Values are raw
// and derived, never normalized; scaling belongs to the model layer.
var slotFeatureNames = []string{
	"role_idx",
	"champion_id",
	"kills",
	"deaths",
	"assists",
	"kda",
	"gold_per_min",
	"cs_per_min",
	"vision_score",
	"damage_to_champions",
	"win",
}

func slotFeatures(p pipeline.ParticipantRecord, minutes float64) []float64 {
	deaths := float64(p.Deaths)
	kdaDenominator := deaths
	if kdaDenominator < 1 {
		kdaDenominator = 1
	}
	win := 0.0
	if p.Win {
		win = 1.0
	}
	return []float64{
		float64(roleIndex(p.Role)),
		float64(p.ChampionID),
		float64(p.Kills),
		deaths,
		float64(p.Assists),
		(float64(p.Kills) + float64(p.Assists)) / kdaDenominator,
		float64(p.GoldEarned) / minutes,
		float64(p.MinionsKilled+p.NeutralMinions) / minutes,
		float64(p.VisionScore),
		float64(p.DamageToChampions),
		win,
	}
}
