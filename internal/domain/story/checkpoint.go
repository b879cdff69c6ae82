package story

import (
	"time"

	"github.com/google/uuid"
)

const CheckpointVersion = 1

// Stage numbers of the analysis pipeline.
const (
	StageSegment     = 1
	StageExtract     = 2
	StageEmbed       = 3
	StageResolve     = 4
	StageRelateIntra = 5
	StageRelateCross = 6
	StageNarrative   = 7
	StageFinal       = StageNarrative
)

// Stage2Output caches the expensive, non-deterministic extraction results so
// a resumed run can skip stage 2 entirely.
type Stage2Output struct {
	ExtractedEntities []ExtractedEntity    `json:"extracted_entities"`
	EntityIDByName    map[string]uuid.UUID `json:"entity_id_by_name"`
	MergeSignals      []MergeSignal        `json:"merge_signals,omitempty"`
}

// Stage4Output carries only the name to id map; entity creation itself is
// idempotent and safe to re-run.
type Stage4Output struct {
	EntityIDByName map[string]uuid.UUID `json:"entity_id_by_name"`
}

// AnalysisCheckpoint is persisted on the document row after each completed
// stage. A checkpoint recorded against a different document version is
// discarded on load.
type AnalysisCheckpoint struct {
	Version            int           `json:"version"`
	DocumentVersion    int           `json:"document_version"`
	StartedAt          time.Time     `json:"started_at"`
	LastStageCompleted int           `json:"last_stage_completed"`
	Stage2             *Stage2Output `json:"stage2_output,omitempty"`
	Stage4             *Stage4Output `json:"stage4_output,omitempty"`
}

// ShouldRunStage reports whether stage n still has to run. A nil checkpoint
// means every stage runs.
func (c *AnalysisCheckpoint) ShouldRunStage(n int) bool {
	if c == nil {
		return true
	}
	return c.LastStageCompleted < n
}
