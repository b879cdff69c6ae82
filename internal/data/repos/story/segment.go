package story

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
)

type SegmentRepo interface {
	// Upsert is keyed by the deterministic segment id, so re-running
	// segmentation after a resume is a no-op for unchanged text.
	Upsert(dbc dbctx.Context, rows []*types.Segment) error
	GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Segment, error)
	DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) error
	UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding []byte) error
}

type segmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSegmentRepo(db *gorm.DB, baseLog *logger.Logger) SegmentRepo {
	return &segmentRepo{db: db, log: baseLog.With("repo", "SegmentRepo")}
}

func (r *segmentRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *segmentRepo) Upsert(dbc dbctx.Context, rows []*types.Segment) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "start_offset", "end_offset", "updated_at"}),
		}).
		Create(&rows).Error
}

func (r *segmentRepo) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Segment, error) {
	var out []*types.Segment
	if documentID == uuid.Nil {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order(`"index" ASC`).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *segmentRepo) DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) error {
	if documentID == uuid.Nil {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Unscoped().
		Where("document_id = ?", documentID).
		Delete(&types.Segment{}).Error
}

func (r *segmentRepo) UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding []byte) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Segment{}).
		Where("id = ?", id).
		Update("embedding", embedding).Error
}
