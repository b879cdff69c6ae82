package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
)

type edgeKey struct {
	from uuid.UUID
	to   uuid.UUID
	typ  string
}

// MemoryStore is an in-process Store used when no graph backend is
// configured and by tests. It enforces the same causal acyclicity rules as
// the Neo4j store.
type MemoryStore struct {
	mu sync.Mutex

	docVersions map[uuid.UUID]int
	segments    map[uuid.UUID]*story.Segment
	entities    map[uuid.UUID]*story.Entity
	entityDoc   map[uuid.UUID]uuid.UUID
	facets      map[uuid.UUID]*story.Facet
	mentions    map[uuid.UUID]*story.Mention
	edges       map[edgeKey]story.Relationship
	threads     map[uuid.UUID]*story.Thread
	arcs        map[uuid.UUID]*story.Arc
	arcStates   map[uuid.UUID]*story.ArcState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docVersions: map[uuid.UUID]int{},
		segments:    map[uuid.UUID]*story.Segment{},
		entities:    map[uuid.UUID]*story.Entity{},
		entityDoc:   map[uuid.UUID]uuid.UUID{},
		facets:      map[uuid.UUID]*story.Facet{},
		mentions:    map[uuid.UUID]*story.Mention{},
		edges:       map[edgeKey]story.Relationship{},
		threads:     map[uuid.UUID]*story.Thread{},
		arcs:        map[uuid.UUID]*story.Arc{},
		arcStates:   map[uuid.UUID]*story.ArcState{},
	}
}

func (s *MemoryStore) UpsertDocument(ctx context.Context, documentID uuid.UUID, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docVersions[documentID] = version
	return nil
}

func (s *MemoryStore) UpsertSegments(ctx context.Context, documentID uuid.UUID, segments []*story.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range segments {
		if seg == nil || seg.ID == uuid.Nil {
			continue
		}
		cp := *seg
		s.segments[seg.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) UpsertEntities(ctx context.Context, documentID uuid.UUID, entities []*story.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		if e == nil || e.ID == uuid.Nil {
			continue
		}
		cp := *e
		s.entities[e.ID] = &cp
		s.entityDoc[e.ID] = documentID
	}
	return nil
}

func (s *MemoryStore) UpsertFacets(ctx context.Context, facets []*story.Facet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facets {
		if f == nil || f.ID == uuid.Nil {
			continue
		}
		cp := *f
		s.facets[f.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) UpsertMentions(ctx context.Context, mentions []*story.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mentions {
		if m == nil || m.ID == uuid.Nil {
			continue
		}
		cp := *m
		s.mentions[m.ID] = &cp
	}
	return nil
}

// InsertRelationship merges the edge under the same acyclicity rules as the
// Neo4j store. A false return with nil error always means cycle rejection;
// nodes are not required to pre-exist here.
func (s *MemoryStore) InsertRelationship(ctx context.Context, rel story.Relationship) (bool, error) {
	if rel.FromEntityID == uuid.Nil || rel.ToEntityID == uuid.Nil {
		return false, fmt.Errorf("graph: relationship endpoint missing an id")
	}
	if !story.IsValidRelType(rel.Type) {
		return false, fmt.Errorf("graph: invalid relationship type %q", rel.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if story.IsCausalRelType(rel.Type) && s.causalReachableLocked(rel.ToEntityID, rel.FromEntityID) {
		return false, nil
	}
	s.edges[edgeKey{from: rel.FromEntityID, to: rel.ToEntityID, typ: rel.Type}] = rel
	return true, nil
}

// causalReachableLocked walks CAUSES/ENABLES/PREVENTS edges from src looking
// for dst, iteratively to stay safe on large graphs.
func (s *MemoryStore) causalReachableLocked(src, dst uuid.UUID) bool {
	if src == dst {
		return true
	}
	seen := map[uuid.UUID]bool{src: true}
	stack := []uuid.UUID{src}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for k := range s.edges {
			if k.from != cur || !story.IsCausalRelType(k.typ) {
				continue
			}
			if k.to == dst {
				return true
			}
			if !seen[k.to] {
				seen[k.to] = true
				stack = append(stack, k.to)
			}
		}
	}
	return false
}

func (s *MemoryStore) Relationships(ctx context.Context, documentID uuid.UUID) ([]story.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]story.Relationship, 0, len(s.edges))
	for _, rel := range s.edges {
		if documentID != uuid.Nil && s.entityDoc[rel.FromEntityID] != documentID {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

func (s *MemoryStore) UpsertThreads(ctx context.Context, documentID uuid.UUID, threads []*story.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range threads {
		if t == nil || t.ID == uuid.Nil {
			continue
		}
		cp := *t
		s.threads[t.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) UpsertArcs(ctx context.Context, documentID uuid.UUID, arcs []*story.Arc, states []*story.ArcState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range arcs {
		if a == nil || a.ID == uuid.Nil {
			continue
		}
		cp := *a
		s.arcs[a.ID] = &cp
	}
	for _, st := range states {
		if st == nil || st.ID == uuid.Nil {
			continue
		}
		cp := *st
		s.arcStates[st.ID] = &cp
	}
	return nil
}
