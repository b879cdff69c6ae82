package story

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
)

type EntityRepo interface {
	// CreateIfAbsent inserts rows keyed by pre-assigned id; a second call
	// with the same ids is a no-op.
	CreateIfAbsent(dbc dbctx.Context, rows []*types.Entity) error
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Entity, error)
	GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Entity, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type FacetRepo interface {
	CreateIfAbsent(dbc dbctx.Context, rows []*types.Facet) error
	GetByEntityIDs(dbc dbctx.Context, entityIDs []uuid.UUID) ([]*types.Facet, error)
}

type MentionRepo interface {
	CreateIfAbsent(dbc dbctx.Context, rows []*types.Mention) error
	GetByEntityIDs(dbc dbctx.Context, entityIDs []uuid.UUID) ([]*types.Mention, error)
	CountByEntity(dbc dbctx.Context, entityID uuid.UUID) (int64, error)
}

type entityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEntityRepo(db *gorm.DB, baseLog *logger.Logger) EntityRepo {
	return &entityRepo{db: db, log: baseLog.With("repo", "EntityRepo")}
}

func (r *entityRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *entityRepo) CreateIfAbsent(dbc dbctx.Context, rows []*types.Entity) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *entityRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Entity, error) {
	var out []*types.Entity
	if len(ids) == 0 {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *entityRepo) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Entity, error) {
	var out []*types.Entity
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

func (r *entityRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Entity{}).
		Where("id = ?", id).
		Updates(updates).Error
}

type facetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFacetRepo(db *gorm.DB, baseLog *logger.Logger) FacetRepo {
	return &facetRepo{db: db, log: baseLog.With("repo", "FacetRepo")}
}

func (r *facetRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *facetRepo) CreateIfAbsent(dbc dbctx.Context, rows []*types.Facet) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *facetRepo) GetByEntityIDs(dbc dbctx.Context, entityIDs []uuid.UUID) ([]*types.Facet, error) {
	var out []*types.Facet
	if len(entityIDs) == 0 {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("entity_id IN ?", entityIDs).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

type mentionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMentionRepo(db *gorm.DB, baseLog *logger.Logger) MentionRepo {
	return &mentionRepo{db: db, log: baseLog.With("repo", "MentionRepo")}
}

func (r *mentionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *mentionRepo) CreateIfAbsent(dbc dbctx.Context, rows []*types.Mention) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *mentionRepo) GetByEntityIDs(dbc dbctx.Context, entityIDs []uuid.UUID) ([]*types.Mention, error) {
	var out []*types.Mention
	if len(entityIDs) == 0 {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("entity_id IN ?", entityIDs).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mentionRepo) CountByEntity(dbc dbctx.Context, entityID uuid.UUID) (int64, error) {
	var n int64
	if entityID == uuid.Nil {
		return 0, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Mention{}).
		Where("entity_id = ?", entityID).
		Count(&n).Error
	return n, err
}
