package steps

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/data/graph"
	"github.com/yungbote/storygraph-backend/internal/domain/story"
)

func TestParseRelationshipEdgesValidation(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	allowed := map[uuid.UUID]bool{a: true, b: true}

	obj := map[string]any{"relationships": []any{
		map[string]any{
			"from_entity_id": a.String(),
			"to_entity_id":   b.String(),
			"type":           story.RelCauses,
			"description":    "the fire caused the retreat",
			"strength":       1.5,
		},
		// causal edge without strength is dropped
		map[string]any{
			"from_entity_id": a.String(),
			"to_entity_id":   b.String(),
			"type":           story.RelEnables,
			"description":    "no strength given",
			"strength":       nil,
		},
		// structural edge keeps a nil strength even when one is reported
		map[string]any{
			"from_entity_id": b.String(),
			"to_entity_id":   a.String(),
			"type":           story.RelOpposes,
			"description":    "rivals",
			"strength":       0.8,
		},
		// unknown entity id is dropped
		map[string]any{
			"from_entity_id": uuid.New().String(),
			"to_entity_id":   b.String(),
			"type":           story.RelRelatedTo,
			"description":    "",
			"strength":       nil,
		},
		// self edge is dropped
		map[string]any{
			"from_entity_id": a.String(),
			"to_entity_id":   a.String(),
			"type":           story.RelRelatedTo,
			"description":    "",
			"strength":       nil,
		},
		// duplicate of the first edge is deduped
		map[string]any{
			"from_entity_id": a.String(),
			"to_entity_id":   b.String(),
			"type":           story.RelCauses,
			"description":    "repeat",
			"strength":       0.4,
		},
	}}

	edges := parseRelationshipEdges(testLogger(t), obj, allowed, false)
	if len(edges) != 2 {
		t.Fatalf("edges = %d, want 2: %+v", len(edges), edges)
	}
	causal := edges[0]
	if causal.Type != story.RelCauses || causal.Strength == nil {
		t.Fatalf("causal edge missing strength: %+v", causal)
	}
	if *causal.Strength != 1 {
		t.Fatalf("strength = %v, want clamp to 1", *causal.Strength)
	}
	if edges[1].Type != story.RelOpposes || edges[1].Strength != nil {
		t.Fatalf("structural edge should carry no strength: %+v", edges[1])
	}
}

func TestInsertEdgesCountsCycleDrops(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	strength := 0.9
	store := graph.NewMemoryStore()

	var out ExtractRelationshipsOutput
	insertEdges(context.Background(), testLogger(t), store, []story.Relationship{
		{FromEntityID: a, ToEntityID: b, Type: story.RelCauses, Strength: &strength},
		{FromEntityID: b, ToEntityID: a, Type: story.RelCauses, Strength: &strength},
	}, &out)

	if out.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", out.Inserted)
	}
	if out.DroppedCycles != 1 {
		t.Fatalf("dropped cycles = %d, want 1", out.DroppedCycles)
	}
}

// nodelessStore reports every endpoint as absent, like a Neo4j store whose
// entity sync never landed.
type nodelessStore struct {
	*graph.MemoryStore
}

func (s *nodelessStore) InsertRelationship(ctx context.Context, rel story.Relationship) (bool, error) {
	return false, graph.ErrEndpointsMissing
}

func TestInsertEdgesMissingEndpointsAreNotCycleDrops(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	strength := 0.9

	var out ExtractRelationshipsOutput
	insertEdges(context.Background(), testLogger(t), &nodelessStore{graph.NewMemoryStore()}, []story.Relationship{
		{FromEntityID: a, ToEntityID: b, Type: story.RelCauses, Strength: &strength},
	}, &out)

	if out.Inserted != 0 {
		t.Fatalf("inserted = %d, want 0", out.Inserted)
	}
	if out.DroppedCycles != 0 {
		t.Fatalf("missing endpoints were counted as cycle drops: %d", out.DroppedCycles)
	}
}

func TestSegmentMembershipSortsIndexes(t *testing.T) {
	id := uuid.New()
	extracted := []story.ExtractedEntity{
		{ResolvedID: id, SegmentIndex: 3},
		{ResolvedID: id, SegmentIndex: 0},
		{ResolvedID: id, SegmentIndex: 3},
	}
	membership := segmentMembership(extracted)
	segs := membership[id]
	if len(segs) != 2 || segs[0] != 0 || segs[1] != 3 {
		t.Fatalf("membership = %v, want [0 3]", segs)
	}
}
