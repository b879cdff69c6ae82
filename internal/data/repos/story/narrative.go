package story

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
)

type ThreadRepo interface {
	Upsert(dbc dbctx.Context, rows []*types.Thread) error
	GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Thread, error)
}

type ArcRepo interface {
	UpsertArcs(dbc dbctx.Context, rows []*types.Arc) error
	UpsertStates(dbc dbctx.Context, rows []*types.ArcState) error
	GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Arc, error)
	GetStatesByArcIDs(dbc dbctx.Context, arcIDs []uuid.UUID) ([]*types.ArcState, error)
}

type threadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewThreadRepo(db *gorm.DB, baseLog *logger.Logger) ThreadRepo {
	return &threadRepo{db: db, log: baseLog.With("repo", "ThreadRepo")}
}

func (r *threadRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *threadRepo) Upsert(dbc dbctx.Context, rows []*types.Thread) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "is_primary", "event_ids", "updated_at"}),
		}).
		Create(&rows).Error
}

func (r *threadRepo) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Thread, error) {
	var out []*types.Thread
	if documentID == uuid.Nil {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

type arcRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArcRepo(db *gorm.DB, baseLog *logger.Logger) ArcRepo {
	return &arcRepo{db: db, log: baseLog.With("repo", "ArcRepo")}
}

func (r *arcRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *arcRepo) UpsertArcs(dbc dbctx.Context, rows []*types.Arc) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"arc_type", "updated_at"}),
		}).
		Create(&rows).Error
}

func (r *arcRepo) UpsertStates(dbc dbctx.Context, rows []*types.ArcState) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"phase_name", "document_order", "causal_order", "trigger_event_id", "has_gap", "is_current", "facet_ids", "embedding"}),
		}).
		Create(&rows).Error
}

func (r *arcRepo) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Arc, error) {
	var out []*types.Arc
	if documentID == uuid.Nil {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *arcRepo) GetStatesByArcIDs(dbc dbctx.Context, arcIDs []uuid.UUID) ([]*types.ArcState, error) {
	var out []*types.ArcState
	if len(arcIDs) == 0 {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("arc_id IN ?", arcIDs).
		Order("phase_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
