package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/data/graph"
	storyrepos "github.com/yungbote/storygraph-backend/internal/data/repos/story"
	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis/steps"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/openai"
	"github.com/yungbote/storygraph-backend/internal/realtime"
	"github.com/yungbote/storygraph-backend/internal/realtime/bus"
)

type Service interface {
	// Run executes the full analysis pipeline for one document, resuming
	// from a persisted checkpoint when one is valid. It returns ErrPaused
	// or ErrCancelled when an interruption request was observed at a stage
	// boundary.
	Run(ctx context.Context, in RunInput) (RunOutput, error)
}

type Deps struct {
	Log       *logger.Logger
	AI        openai.Client
	Graph     graph.Store
	Documents storyrepos.DocumentRepo
	Segments  storyrepos.SegmentRepo
	Entities  storyrepos.EntityRepo
	Facets    storyrepos.FacetRepo
	Mentions  storyrepos.MentionRepo
	Threads   storyrepos.ThreadRepo
	Arcs      storyrepos.ArcRepo
	Bus       bus.Bus
}

type RunInput struct {
	DocumentID  uuid.UUID
	OwnerUserID uuid.UUID
	Content     string
	Version     int
}

type RunOutput struct {
	EntityCount       int
	RelationshipCount int
	ThreadCount       int
	ArcCount          int
}

type service struct {
	deps Deps
}

func NewService(deps Deps) (Service, error) {
	if deps.Log == nil || deps.AI == nil || deps.Graph == nil {
		return nil, fmt.Errorf("analysis: missing platform deps")
	}
	if deps.Documents == nil || deps.Segments == nil || deps.Entities == nil ||
		deps.Facets == nil || deps.Mentions == nil || deps.Threads == nil || deps.Arcs == nil {
		return nil, fmt.Errorf("analysis: missing repo deps")
	}
	if deps.Bus == nil {
		deps.Bus = bus.NopBus{}
	}
	return &service{deps: deps}, nil
}

func (s *service) Run(ctx context.Context, in RunInput) (RunOutput, error) {
	var out RunOutput
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("analysis: missing document_id")
	}
	if in.Version <= 0 {
		in.Version = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := s.deps.Log.With(
		"usecase", "AnalyzeDocument",
		"document_id", in.DocumentID.String(),
		"owner_user_id", in.OwnerUserID.String(),
	)
	dbc := dbctx.Context{Ctx: ctx}

	cp := s.loadCheckpoint(dbc, log, in)
	if cp.LastStageCompleted > 0 {
		log.Info("resuming from checkpoint", "last_stage_completed", cp.LastStageCompleted)
	}

	// Stage 1: segmentation.
	if err := s.checkInterruption(dbc, in.DocumentID); err != nil {
		return out, err
	}
	var segments []*story.Segment
	if cp.ShouldRunStage(story.StageSegment) {
		segments = steps.BuildSegments(in.DocumentID, in.Version, in.Content)
		if err := s.deps.Segments.Upsert(dbc, segments); err != nil {
			return out, fmt.Errorf("analysis: store segments: %w", err)
		}
		if err := s.deps.Graph.UpsertDocument(ctx, in.DocumentID, in.Version); err != nil {
			log.Warn("graph document sync failed (continuing)", "error", err.Error())
		}
		if err := s.completeStage(dbc, in.DocumentID, cp, story.StageSegment, 0); err != nil {
			return out, err
		}
	} else {
		var err error
		segments, err = s.deps.Segments.GetByDocument(dbc, in.DocumentID)
		if err != nil {
			return out, fmt.Errorf("analysis: load segments: %w", err)
		}
	}

	// Stage 2: entity extraction.
	if err := s.checkInterruption(dbc, in.DocumentID); err != nil {
		return out, err
	}
	if cp.ShouldRunStage(story.StageExtract) {
		reg, err := s.seedRegistry(dbc, in.DocumentID)
		if err != nil {
			return out, err
		}
		extracted, err := steps.ExtractEntities(ctx, steps.ExtractEntitiesDeps{
			Log: s.deps.Log,
			AI:  s.deps.AI,
		}, steps.ExtractEntitiesInput{
			DocumentID: in.DocumentID,
			Segments:   segments,
			Registry:   reg,
		})
		if err != nil {
			return out, err
		}
		cp.Stage2 = &story.Stage2Output{
			ExtractedEntities: extracted.Entities,
			EntityIDByName:    extracted.EntityIDByName,
			MergeSignals:      extracted.MergeSignals,
		}
		if err := s.completeStage(dbc, in.DocumentID, cp, story.StageExtract, len(extracted.EntityIDByName)); err != nil {
			return out, err
		}
	} else if cp.Stage2 == nil {
		return out, fmt.Errorf("%w: stage 2 payload missing", ErrCheckpointCorrupt)
	}

	// Stage 3: segment embeddings.
	if err := s.checkInterruption(dbc, in.DocumentID); err != nil {
		return out, err
	}
	if cp.ShouldRunStage(story.StageEmbed) {
		if _, err := steps.EmbedSegments(ctx, steps.EmbedSegmentsDeps{
			Log:      s.deps.Log,
			AI:       s.deps.AI,
			Segments: s.deps.Segments,
			Graph:    s.deps.Graph,
		}, steps.EmbedSegmentsInput{
			DocumentID: in.DocumentID,
			Segments:   segments,
		}); err != nil {
			return out, err
		}
		if err := s.completeStage(dbc, in.DocumentID, cp, story.StageEmbed, 0); err != nil {
			return out, err
		}
	}

	// Stage 4: entity resolution.
	if err := s.checkInterruption(dbc, in.DocumentID); err != nil {
		return out, err
	}
	if cp.ShouldRunStage(story.StageResolve) {
		resolved, err := steps.ResolveEntities(ctx, steps.ResolveEntitiesDeps{
			Log:      s.deps.Log,
			AI:       s.deps.AI,
			Entities: s.deps.Entities,
			Facets:   s.deps.Facets,
			Mentions: s.deps.Mentions,
			Graph:    s.deps.Graph,
		}, steps.ResolveEntitiesInput{
			DocumentID:      in.DocumentID,
			DocumentVersion: in.Version,
			Segments:        segments,
			Extracted:       cp.Stage2.ExtractedEntities,
		})
		if err != nil {
			return out, err
		}
		cp.Stage4 = &story.Stage4Output{EntityIDByName: cp.Stage2.EntityIDByName}
		if err := s.completeStage(dbc, in.DocumentID, cp, story.StageResolve, len(resolved.Entities)); err != nil {
			return out, err
		}
	} else if cp.Stage4 == nil {
		return out, fmt.Errorf("%w: stage 4 payload missing", ErrCheckpointCorrupt)
	}

	entities, err := s.deps.Entities.GetByDocument(dbc, in.DocumentID)
	if err != nil {
		return out, fmt.Errorf("analysis: load entities: %w", err)
	}
	entityIDs := make([]uuid.UUID, len(entities))
	for i, e := range entities {
		entityIDs[i] = e.ID
	}
	facets, err := s.deps.Facets.GetByEntityIDs(dbc, entityIDs)
	if err != nil {
		return out, fmt.Errorf("analysis: load facets: %w", err)
	}

	relDeps := steps.ExtractRelationshipsDeps{
		Log:   s.deps.Log,
		AI:    s.deps.AI,
		Graph: s.deps.Graph,
	}
	relInput := steps.ExtractRelationshipsInput{
		DocumentID: in.DocumentID,
		Segments:   segments,
		Extracted:  cp.Stage2.ExtractedEntities,
		Entities:   entities,
		Facets:     facets,
	}

	// Stage 5: intra-segment relationships.
	if err := s.checkInterruption(dbc, in.DocumentID); err != nil {
		return out, err
	}
	if cp.ShouldRunStage(story.StageRelateIntra) {
		if _, err := steps.ExtractIntraSegmentRelationships(ctx, relDeps, relInput); err != nil {
			return out, err
		}
		if err := s.completeStage(dbc, in.DocumentID, cp, story.StageRelateIntra, len(entities)); err != nil {
			return out, err
		}
	}

	// Stage 6: cross-segment relationships.
	if err := s.checkInterruption(dbc, in.DocumentID); err != nil {
		return out, err
	}
	if cp.ShouldRunStage(story.StageRelateCross) {
		if _, err := steps.ExtractCrossSegmentRelationships(ctx, relDeps, relInput); err != nil {
			return out, err
		}
		if err := s.completeStage(dbc, in.DocumentID, cp, story.StageRelateCross, len(entities)); err != nil {
			return out, err
		}
	}

	// Stage 7: narrative analysis.
	if err := s.checkInterruption(dbc, in.DocumentID); err != nil {
		return out, err
	}
	if cp.ShouldRunStage(story.StageNarrative) {
		if _, err := steps.AnalyzeNarrative(ctx, steps.AnalyzeNarrativeDeps{
			Log:     s.deps.Log,
			AI:      s.deps.AI,
			Graph:   s.deps.Graph,
			Threads: s.deps.Threads,
			Arcs:    s.deps.Arcs,
		}, steps.AnalyzeNarrativeInput{
			DocumentID: in.DocumentID,
			Entities:   entities,
			Facets:     facets,
			Extracted:  cp.Stage2.ExtractedEntities,
		}); err != nil {
			return out, err
		}
		if err := s.completeStage(dbc, in.DocumentID, cp, story.StageNarrative, len(entities)); err != nil {
			return out, err
		}
	}

	if err := s.deps.Documents.ClearCheckpoint(dbc, in.DocumentID); err != nil {
		return out, fmt.Errorf("analysis: clear checkpoint: %w", err)
	}

	rels, err := s.deps.Graph.Relationships(ctx, in.DocumentID)
	if err != nil {
		log.Warn("relationship count unavailable", "error", err.Error())
	}
	threads, err := s.deps.Threads.GetByDocument(dbc, in.DocumentID)
	if err != nil {
		return out, fmt.Errorf("analysis: load threads: %w", err)
	}
	arcs, err := s.deps.Arcs.GetByDocument(dbc, in.DocumentID)
	if err != nil {
		return out, fmt.Errorf("analysis: load arcs: %w", err)
	}

	out.EntityCount = len(entities)
	out.RelationshipCount = len(rels)
	out.ThreadCount = len(threads)
	out.ArcCount = len(arcs)
	log.Info("analysis complete",
		"entities", out.EntityCount,
		"relationships", out.RelationshipCount,
		"threads", out.ThreadCount,
		"arcs", out.ArcCount,
	)
	return out, nil
}

// loadCheckpoint returns the persisted checkpoint when it matches the
// current schema and document version, otherwise a fresh one. An unreadable
// checkpoint is treated as absent rather than fatal.
func (s *service) loadCheckpoint(dbc dbctx.Context, log *logger.Logger, in RunInput) *story.AnalysisCheckpoint {
	cp, err := s.deps.Documents.LoadCheckpoint(dbc, in.DocumentID)
	if err != nil {
		log.Warn("checkpoint unreadable, starting fresh", "error", err.Error())
		cp = nil
	}
	if cp != nil && (cp.Version != story.CheckpointVersion || cp.DocumentVersion != in.Version) {
		log.Info("checkpoint stale, starting fresh",
			"checkpoint_version", cp.Version,
			"checkpoint_document_version", cp.DocumentVersion,
			"document_version", in.Version,
		)
		cp = nil
	}
	if cp == nil {
		cp = &story.AnalysisCheckpoint{
			Version:         story.CheckpointVersion,
			DocumentVersion: in.Version,
			StartedAt:       time.Now().UTC(),
		}
	}
	return cp
}

// checkInterruption polls the document status at a stage boundary.
func (s *service) checkInterruption(dbc dbctx.Context, documentID uuid.UUID) error {
	status, err := s.deps.Documents.ReadAnalysisStatus(dbc, documentID)
	if err != nil {
		return fmt.Errorf("analysis: read status: %w", err)
	}
	switch status {
	case story.AnalysisStatusCancelling:
		if err := s.deps.Documents.ClearCheckpoint(dbc, documentID); err != nil {
			return fmt.Errorf("analysis: clear checkpoint on cancel: %w", err)
		}
		return ErrCancelled
	case story.AnalysisStatusPausing, story.AnalysisStatusPaused:
		return ErrPaused
	default:
		return nil
	}
}

// completeStage persists the checkpoint and publishes a progress event.
func (s *service) completeStage(dbc dbctx.Context, documentID uuid.UUID, cp *story.AnalysisCheckpoint, stage, entityCount int) error {
	cp.LastStageCompleted = stage
	if err := s.deps.Documents.SaveCheckpoint(dbc, documentID, cp); err != nil {
		return fmt.Errorf("analysis: save checkpoint after stage %d: %w", stage, err)
	}
	s.deps.Bus.PublishAnalysisEvent(dbc.Ctx, realtime.AnalysisEvent{
		DocumentID:  documentID,
		Stage:       stage,
		StatusHint:  story.AnalysisStatusAnalyzing,
		EntityCount: entityCount,
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// seedRegistry rebuilds the run registry from already-persisted entities so
// re-analysis resolves recurring names to their existing ids.
func (s *service) seedRegistry(dbc dbctx.Context, documentID uuid.UUID) (*steps.Registry, error) {
	entities, err := s.deps.Entities.GetByDocument(dbc, documentID)
	if err != nil {
		return nil, fmt.Errorf("analysis: load entities for registry: %w", err)
	}
	if len(entities) == 0 {
		return steps.NewRegistry(), nil
	}
	ids := make([]uuid.UUID, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	facets, err := s.deps.Facets.GetByEntityIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("analysis: load facets for registry: %w", err)
	}
	return steps.RebuildRegistry(entities, facets), nil
}
