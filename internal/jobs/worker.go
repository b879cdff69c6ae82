package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/storygraph-backend/internal/config"
	storyrepos "github.com/yungbote/storygraph-backend/internal/data/repos/story"
	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
)

// Worker polls for queued documents and runs the analysis pipeline on each
// one it manages to claim. Claiming is a conditional status flip, so several
// workers can share one queue.
type Worker struct {
	log       *logger.Logger
	cfg       config.WorkerConfig
	documents storyrepos.DocumentRepo
	pipeline  analysis.Service
}

func NewWorker(baseLog *logger.Logger, cfg config.WorkerConfig, documents storyrepos.DocumentRepo, pipeline analysis.Service) (*Worker, error) {
	if baseLog == nil || documents == nil || pipeline == nil {
		return nil, fmt.Errorf("jobs: missing worker deps")
	}
	return &Worker{
		log:       baseLog.With("component", "AnalysisWorker"),
		cfg:       cfg,
		documents: documents,
		pipeline:  pipeline,
	}, nil
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	w.log.Info("worker started",
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval().String(),
	)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("poll failed", "error", err.Error())
			}
		}
	}
}

func (w *Worker) poll(ctx context.Context) error {
	dbc := dbctx.Context{Ctx: ctx}
	queued, err := w.documents.ListQueued(dbc, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list queued: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, doc := range queued {
		doc := doc
		g.Go(func() error {
			w.process(gctx, doc)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) process(ctx context.Context, doc *story.Document) {
	dbc := dbctx.Context{Ctx: ctx}
	log := w.log.With("document_id", doc.ID.String(), "owner_user_id", doc.OwnerUserID.String())

	claimed, err := w.documents.ClaimForAnalysis(dbc, doc.ID)
	if err != nil {
		log.Error("claim failed", "error", err.Error())
		return
	}
	if !claimed {
		return
	}

	out, runErr := w.pipeline.Run(ctx, analysis.RunInput{
		DocumentID:  doc.ID,
		OwnerUserID: doc.OwnerUserID,
		Content:     doc.Content,
		Version:     doc.Version,
	})

	updates := statusUpdates(runErr)
	if runErr == nil {
		log.Info("document analyzed",
			"entities", out.EntityCount,
			"relationships", out.RelationshipCount,
			"threads", out.ThreadCount,
			"arcs", out.ArcCount,
		)
	} else if errors.Is(runErr, analysis.ErrPaused) || errors.Is(runErr, analysis.ErrCancelled) {
		log.Info("analysis interrupted", "result", runErr.Error())
	} else {
		log.Error("analysis failed", "error", runErr.Error())
	}

	if err := w.documents.UpdateFields(dbc, doc.ID, updates); err != nil {
		log.Error("status update failed", "error", err.Error())
	}
}

// statusUpdates maps a pipeline result to the document fields to write back.
func statusUpdates(runErr error) map[string]interface{} {
	now := time.Now().UTC()
	switch {
	case runErr == nil:
		return map[string]interface{}{
			"analysis_status": story.AnalysisStatusComplete,
			"analysis_error":  "",
			"analyzed_at":     now,
		}
	case errors.Is(runErr, analysis.ErrPaused):
		return map[string]interface{}{
			"analysis_status": story.AnalysisStatusPaused,
		}
	case errors.Is(runErr, analysis.ErrCancelled):
		return map[string]interface{}{
			"analysis_status": story.AnalysisStatusIdle,
			"analysis_error":  "",
		}
	default:
		return map[string]interface{}{
			"analysis_status": story.AnalysisStatusFailed,
			"analysis_error":  runErr.Error(),
		}
	}
}
