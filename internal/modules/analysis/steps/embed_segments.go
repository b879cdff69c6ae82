package steps

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/data/graph"
	storyrepos "github.com/yungbote/storygraph-backend/internal/data/repos/story"
	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/openai"
)

// embedBatchSize bounds one embeddings request.
const embedBatchSize = 64

type EmbedSegmentsDeps struct {
	Log      *logger.Logger
	AI       openai.Client
	Segments storyrepos.SegmentRepo
	Graph    graph.Store
}

type EmbedSegmentsInput struct {
	DocumentID uuid.UUID
	Segments   []*story.Segment
}

type EmbedSegmentsOutput struct {
	Embedded int
}

// EmbedSegments computes and stores an embedding per segment. Segments that
// already carry one (a resumed run) are skipped.
func EmbedSegments(ctx context.Context, deps EmbedSegmentsDeps, in EmbedSegmentsInput) (EmbedSegmentsOutput, error) {
	var out EmbedSegmentsOutput
	if deps.Log == nil || deps.AI == nil || deps.Segments == nil {
		return out, fmt.Errorf("embed_segments: missing deps")
	}
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("embed_segments: missing document_id")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := deps.Log.With("step", "EmbedSegments", "document_id", in.DocumentID.String())

	var pending []*story.Segment
	for _, seg := range in.Segments {
		if seg == nil || len(seg.Embedding) > 0 {
			continue
		}
		pending = append(pending, seg)
	}

	for start := 0; start < len(pending); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, seg := range batch {
			texts[i] = seg.Text
		}
		vecs, err := deps.AI.Embed(ctx, texts)
		if err != nil {
			return out, fmt.Errorf("embed_segments: %w", err)
		}
		if len(vecs) != len(batch) {
			return out, fmt.Errorf("embed_segments: got %d embeddings for %d segments", len(vecs), len(batch))
		}

		dbc := dbctx.Context{Ctx: ctx}
		for i, seg := range batch {
			raw := encodeVector(vecs[i])
			if raw == nil {
				continue
			}
			if err := deps.Segments.UpdateEmbedding(dbc, seg.ID, raw); err != nil {
				return out, fmt.Errorf("embed_segments: store segment %d: %w", seg.Index, err)
			}
			seg.Embedding = raw
			out.Embedded++
		}
	}

	if deps.Graph != nil {
		if err := deps.Graph.UpsertSegments(ctx, in.DocumentID, in.Segments); err != nil {
			log.Warn("graph segment sync failed (continuing)", "error", err.Error())
		}
	}

	log.Info("segment embeddings stored", "segments", len(in.Segments), "embedded", out.Embedded)
	return out, nil
}
