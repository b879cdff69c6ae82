package graph

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
)

// ErrEndpointsMissing is returned by InsertRelationship when one of the edge's
// entity nodes is not in the graph, e.g. after a best-effort entity sync
// failed. It is distinct from cycle rejection, which is not an error.
var ErrEndpointsMissing = errors.New("graph: relationship endpoints not found")

// Store is the persisted narrative graph. Every write is idempotent, keyed
// by caller-supplied ids, so a resumed run never double-creates state.
type Store interface {
	UpsertDocument(ctx context.Context, documentID uuid.UUID, version int) error
	UpsertSegments(ctx context.Context, documentID uuid.UUID, segments []*story.Segment) error
	UpsertEntities(ctx context.Context, documentID uuid.UUID, entities []*story.Entity) error
	UpsertFacets(ctx context.Context, facets []*story.Facet) error
	UpsertMentions(ctx context.Context, mentions []*story.Mention) error

	// InsertRelationship merges the edge. For CAUSES/ENABLES/PREVENTS the
	// insert is cycle-aware: an edge that would close a causal cycle is
	// dropped and (false, nil) is returned. (false, nil) means exactly that;
	// an edge whose endpoint nodes are absent fails with ErrEndpointsMissing.
	InsertRelationship(ctx context.Context, rel story.Relationship) (bool, error)

	// Relationships returns all edges between entities of the document.
	Relationships(ctx context.Context, documentID uuid.UUID) ([]story.Relationship, error)

	UpsertThreads(ctx context.Context, documentID uuid.UUID, threads []*story.Thread) error
	UpsertArcs(ctx context.Context, documentID uuid.UUID, arcs []*story.Arc, states []*story.ArcState) error
}
