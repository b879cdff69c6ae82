package steps

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
)

// registrySnapshotLimit caps how many entries one extraction call sees.
const registrySnapshotLimit = 50

// registrySnapshotFacets caps representative facets per snapshot entry.
const registrySnapshotFacets = 3

// RegistryEntry is the run-scoped view of one known entity.
type RegistryEntry struct {
	RegistryIndex int
	EntityID      uuid.UUID
	Name          string
	Type          string
	Aliases       []string
	Facets        []story.ExtractedFacet
	MentionCount  int
}

// Registry accumulates entities discovered so far in one pipeline run, so
// later segments can resolve repeat mentions to existing identities. It is
// owned by exactly one run and is not safe for concurrent use.
type Registry struct {
	entries []*RegistryEntry
	byID    map[uuid.UUID]*RegistryEntry
}

func NewRegistry() *Registry {
	return &Registry{byID: map[uuid.UUID]*RegistryEntry{}}
}

// RebuildRegistry seeds a registry from persisted entities and facets, used
// when re-analyzing a document that already has a graph.
func RebuildRegistry(entities []*story.Entity, facets []*story.Facet) *Registry {
	r := NewRegistry()
	facetsByEntity := map[uuid.UUID][]story.ExtractedFacet{}
	for _, f := range facets {
		if f == nil {
			continue
		}
		facetsByEntity[f.EntityID] = append(facetsByEntity[f.EntityID], story.ExtractedFacet{
			Type:    f.Type,
			Content: f.Content,
		})
	}
	for _, e := range entities {
		if e == nil || e.ID == uuid.Nil {
			continue
		}
		var aliases []string
		if len(e.Aliases) > 0 {
			_ = json.Unmarshal(e.Aliases, &aliases)
		}
		entry := r.Add(e.ID, e.Name, e.Type, aliases, facetsByEntity[e.ID])
		entry.MentionCount = e.MentionCount
	}
	return r
}

func (r *Registry) Len() int { return len(r.entries) }

// Add appends a new entry with the next running registry index.
func (r *Registry) Add(id uuid.UUID, name, entityType string, aliases []string, facets []story.ExtractedFacet) *RegistryEntry {
	entry := &RegistryEntry{
		RegistryIndex: len(r.entries),
		EntityID:      id,
		Name:          strings.TrimSpace(name),
		Type:          entityType,
		Aliases:       dedupeStrings(aliases),
		MentionCount:  1,
	}
	entry.Facets = append(entry.Facets, facets...)
	r.entries = append(r.entries, entry)
	r.byID[id] = entry
	return entry
}

// Accumulate merges a repeat sighting into an existing entry: new aliases,
// new facets, and a mention count bump.
func (r *Registry) Accumulate(id uuid.UUID, aliases []string, facets []story.ExtractedFacet) *RegistryEntry {
	entry := r.byID[id]
	if entry == nil {
		return nil
	}
	entry.Aliases = dedupeStrings(append(entry.Aliases, aliases...))
	for _, f := range facets {
		if !containsFacet(entry.Facets, f) {
			entry.Facets = append(entry.Facets, f)
		}
	}
	entry.MentionCount++
	return entry
}

func containsFacet(facets []story.ExtractedFacet, f story.ExtractedFacet) bool {
	for _, have := range facets {
		if have.Type == f.Type && strings.EqualFold(strings.TrimSpace(have.Content), strings.TrimSpace(f.Content)) {
			return true
		}
	}
	return false
}

// ByIndex resolves a registry index reported by the extraction service.
func (r *Registry) ByIndex(idx int) (*RegistryEntry, bool) {
	if idx < 0 || idx >= len(r.entries) {
		return nil, false
	}
	return r.entries[idx], true
}

// FindByName matches an exact name or alias, case-insensitively. Used as a
// fallback when the service reports an out-of-range registry index.
func (r *Registry) FindByName(name string) (*RegistryEntry, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	for _, entry := range r.entries {
		if strings.EqualFold(entry.Name, name) {
			return entry, true
		}
		for _, alias := range entry.Aliases {
			if strings.EqualFold(alias, name) {
				return entry, true
			}
		}
	}
	return nil, false
}

type registrySnapshotEntry struct {
	RegistryIndex int      `json:"registry_index"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Aliases       []string `json:"aliases,omitempty"`
	Facets        []string `json:"facets,omitempty"`
	MentionCount  int      `json:"mention_count"`
}

// SnapshotJSON renders the registry trimmed to the highest-mention entries
// for inclusion in an extraction prompt.
func (r *Registry) SnapshotJSON() string {
	entries := make([]*RegistryEntry, len(r.entries))
	copy(entries, r.entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].MentionCount > entries[j].MentionCount
	})
	if len(entries) > registrySnapshotLimit {
		entries = entries[:registrySnapshotLimit]
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RegistryIndex < entries[j].RegistryIndex
	})

	out := make([]registrySnapshotEntry, 0, len(entries))
	for _, e := range entries {
		snap := registrySnapshotEntry{
			RegistryIndex: e.RegistryIndex,
			Name:          e.Name,
			Type:          e.Type,
			Aliases:       e.Aliases,
			MentionCount:  e.MentionCount,
		}
		for _, f := range e.Facets {
			if len(snap.Facets) >= registrySnapshotFacets {
				break
			}
			snap.Facets = append(snap.Facets, f.Type+": "+f.Content)
		}
		out = append(out, snap)
	}
	raw, _ := json.Marshal(out)
	return string(raw)
}
