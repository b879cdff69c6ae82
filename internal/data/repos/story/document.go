package story

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/storygraph-backend/internal/domain/story"
	apperrors "github.com/yungbote/storygraph-backend/internal/pkg/errors"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, rows []*types.Document) ([]*types.Document, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	// ReadAnalysisStatus re-reads only the status column; used for
	// interruption polling at stage boundaries.
	ReadAnalysisStatus(dbc dbctx.Context, id uuid.UUID) (string, error)

	// ClaimForAnalysis flips a queued document to analyzing. Returns false
	// when another worker claimed it first.
	ClaimForAnalysis(dbc dbctx.Context, id uuid.UUID) (bool, error)
	ListQueued(dbc dbctx.Context, limit int) ([]*types.Document, error)

	SaveCheckpoint(dbc dbctx.Context, id uuid.UUID, cp *types.AnalysisCheckpoint) error
	LoadCheckpoint(dbc dbctx.Context, id uuid.UUID) (*types.AnalysisCheckpoint, error)
	ClearCheckpoint(dbc dbctx.Context, id uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *documentRepo) Create(dbc dbctx.Context, rows []*types.Document) ([]*types.Document, error) {
	if len(rows) == 0 {
		return []*types.Document{}, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("document id: %w", apperrors.ErrInvalidArgument)
	}
	var out []*types.Document
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return out[0], nil
}

func (r *documentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *documentRepo) ReadAnalysisStatus(dbc dbctx.Context, id uuid.UUID) (string, error) {
	var status string
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Pluck("analysis_status", &status).Error
	if err != nil {
		return "", err
	}
	return status, nil
}

func (r *documentRepo) ClaimForAnalysis(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Document{}).
		Where("id = ? AND analysis_status = ?", id, types.AnalysisStatusQueued).
		Updates(map[string]interface{}{
			"analysis_status": types.AnalysisStatusAnalyzing,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *documentRepo) ListQueued(dbc dbctx.Context, limit int) ([]*types.Document, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []*types.Document
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("analysis_status = ?", types.AnalysisStatusQueued).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) SaveCheckpoint(dbc dbctx.Context, id uuid.UUID, cp *types.AnalysisCheckpoint) error {
	if id == uuid.Nil || cp == nil {
		return nil
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"analysis_checkpoint": raw,
	})
}

func (r *documentRepo) LoadCheckpoint(dbc dbctx.Context, id uuid.UUID) (*types.AnalysisCheckpoint, error) {
	doc, err := r.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if len(doc.AnalysisCheckpoint) == 0 {
		return nil, nil
	}
	var cp types.AnalysisCheckpoint
	if err := json.Unmarshal(doc.AnalysisCheckpoint, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (r *documentRepo) ClearCheckpoint(dbc dbctx.Context, id uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"analysis_checkpoint": nil,
	})
}
