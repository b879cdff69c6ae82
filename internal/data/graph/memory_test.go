package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
)

func causal(from, to uuid.UUID, typ string) story.Relationship {
	strength := 0.8
	return story.Relationship{FromEntityID: from, ToEntityID: to, Type: typ, Strength: &strength}
}

func TestMemoryStoreRejectsCausalCycles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	for _, rel := range []story.Relationship{
		causal(a, b, story.RelCauses),
		causal(b, c, story.RelEnables),
	} {
		ok, err := store.InsertRelationship(ctx, rel)
		if err != nil || !ok {
			t.Fatalf("insert %s: ok=%v err=%v", rel.Type, ok, err)
		}
	}

	ok, err := store.InsertRelationship(ctx, causal(c, a, story.RelPrevents))
	if err != nil {
		t.Fatalf("cycle-closing insert errored: %v", err)
	}
	if ok {
		t.Fatalf("cycle-closing causal edge was inserted")
	}

	rels, err := store.Relationships(ctx, uuid.Nil)
	if err != nil {
		t.Fatalf("relationships: %v", err)
	}
	for _, rel := range rels {
		if rel.FromEntityID == c && rel.ToEntityID == a {
			t.Fatalf("rejected edge is present in the graph")
		}
	}
	if len(rels) != 2 {
		t.Fatalf("edges = %d, want 2", len(rels))
	}
}

func TestMemoryStoreHappensBeforeExemptFromAcyclicity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	if ok, err := store.InsertRelationship(ctx, causal(a, b, story.RelCauses)); err != nil || !ok {
		t.Fatalf("insert causes: ok=%v err=%v", ok, err)
	}
	// a time jump back against causality is allowed
	ok, err := store.InsertRelationship(ctx, story.Relationship{
		FromEntityID: b, ToEntityID: a, Type: story.RelHappensBefore,
	})
	if err != nil || !ok {
		t.Fatalf("happens-before insert: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreRejectsInvalidEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	// invalid edges fail loudly; (false, nil) is reserved for cycle rejection
	ok, err := store.InsertRelationship(ctx, story.Relationship{
		FromEntityID: a, ToEntityID: b, Type: "FRIENDS_WITH",
	})
	if ok || err == nil {
		t.Fatalf("unknown edge type: ok=%v err=%v, want a rejection error", ok, err)
	}
	ok, err = store.InsertRelationship(ctx, story.Relationship{
		ToEntityID: b, Type: story.RelRelatedTo,
	})
	if ok || err == nil {
		t.Fatalf("nil endpoint: ok=%v err=%v, want a rejection error", ok, err)
	}
}

func TestMemoryStoreScopesRelationshipsByDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	docA, docB := uuid.New(), uuid.New()
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	if err := store.UpsertEntities(ctx, docA, []*story.Entity{{ID: a}, {ID: b}}); err != nil {
		t.Fatalf("upsert entities: %v", err)
	}
	if err := store.UpsertEntities(ctx, docB, []*story.Entity{{ID: c}, {ID: d}}); err != nil {
		t.Fatalf("upsert entities: %v", err)
	}
	store.InsertRelationship(ctx, story.Relationship{FromEntityID: a, ToEntityID: b, Type: story.RelOpposes})
	store.InsertRelationship(ctx, story.Relationship{FromEntityID: c, ToEntityID: d, Type: story.RelOpposes})

	rels, err := store.Relationships(ctx, docA)
	if err != nil {
		t.Fatalf("relationships: %v", err)
	}
	if len(rels) != 1 || rels[0].FromEntityID != a {
		t.Fatalf("document scoping failed: %+v", rels)
	}
}
