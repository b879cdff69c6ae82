package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/neo4jdb"
)

type neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger

	schemaOnce sync.Once
}

// NewNeo4jStore returns a Store backed by Neo4j. The client must be non-nil;
// callers without a configured graph backend should use NewMemoryStore.
func NewNeo4jStore(client *neo4jdb.Client, baseLog *logger.Logger) (Store, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph: neo4j client required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("graph: logger required")
	}
	return &neo4jStore{client: client, log: baseLog.With("store", "StoryGraph")}, nil
}

func (s *neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
}

func (s *neo4jStore) readSession(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
}

// Best-effort schema init.
func (s *neo4jStore) ensureSchema(ctx context.Context, session neo4j.SessionWithContext) {
	s.schemaOnce.Do(func() {
		stmts := []string{
			`CREATE CONSTRAINT story_document_id_unique IF NOT EXISTS FOR (d:StoryDocument) REQUIRE d.id IS UNIQUE`,
			`CREATE CONSTRAINT story_segment_id_unique IF NOT EXISTS FOR (sg:StorySegment) REQUIRE sg.id IS UNIQUE`,
			`CREATE CONSTRAINT story_entity_id_unique IF NOT EXISTS FOR (e:StoryEntity) REQUIRE e.id IS UNIQUE`,
			`CREATE CONSTRAINT story_facet_id_unique IF NOT EXISTS FOR (f:StoryFacet) REQUIRE f.id IS UNIQUE`,
			`CREATE CONSTRAINT story_thread_id_unique IF NOT EXISTS FOR (t:StoryThread) REQUIRE t.id IS UNIQUE`,
			`CREATE CONSTRAINT story_arc_id_unique IF NOT EXISTS FOR (a:StoryArc) REQUIRE a.id IS UNIQUE`,
			`CREATE CONSTRAINT story_arc_state_id_unique IF NOT EXISTS FOR (st:StoryArcState) REQUIRE st.id IS UNIQUE`,
		}
		for _, q := range stmts {
			if res, err := session.Run(ctx, q, nil); err != nil {
				s.log.Warn("neo4j schema init failed (continuing)", "error", err)
			} else {
				_, _ = res.Consume(ctx)
			}
		}
	})
}

func runConsume(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (s *neo4jStore) UpsertDocument(ctx context.Context, documentID uuid.UUID, version int) error {
	if documentID == uuid.Nil {
		return nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
MERGE (d:StoryDocument {id: $id})
SET d.version = $version, d.synced_at = $synced_at
`, map[string]any{"id": documentID.String(), "version": version, "synced_at": now})
	})
	return err
}

func (s *neo4jStore) UpsertSegments(ctx context.Context, documentID uuid.UUID, segments []*story.Segment) error {
	if documentID == uuid.Nil || len(segments) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := make([]map[string]any, 0, len(segments))
	for _, seg := range segments {
		if seg == nil || seg.ID == uuid.Nil {
			continue
		}
		rows = append(rows, map[string]any{
			"id":           seg.ID.String(),
			"document_id":  documentID.String(),
			"index":        seg.Index,
			"text":         truncateString(seg.Text, 2400),
			"start_offset": seg.StartOffset,
			"end_offset":   seg.EndOffset,
			"embedding_json": func() string {
				if len(seg.Embedding) == 0 {
					return ""
				}
				return string(seg.Embedding)
			}(),
			"synced_at": now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (sg:StorySegment {id: r.id})
SET sg += r
WITH sg, r
MERGE (d:StoryDocument {id: r.document_id})
MERGE (sg)-[:IN_DOCUMENT]->(d)
`, map[string]any{"rows": rows})
	})
	return err
}

func (s *neo4jStore) UpsertEntities(ctx context.Context, documentID uuid.UUID, entities []*story.Entity) error {
	if documentID == uuid.Nil || len(entities) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e == nil || e.ID == uuid.Nil {
			continue
		}
		row := map[string]any{
			"id":            e.ID.String(),
			"document_id":   documentID.String(),
			"name":          e.Name,
			"type":          e.Type,
			"mention_count": e.MentionCount,
			"aliases_json": func() string {
				if len(e.Aliases) == 0 {
					return ""
				}
				return string(e.Aliases)
			}(),
			"embedding_json": func() string {
				if len(e.Embedding) == 0 {
					return ""
				}
				return string(e.Embedding)
			}(),
			"synced_at": now,
		}
		if e.DocumentOrder != nil {
			row["document_order"] = *e.DocumentOrder
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (e:StoryEntity {id: r.id})
SET e += r
WITH e, r
MERGE (d:StoryDocument {id: r.document_id})
MERGE (e)-[:IN_DOCUMENT]->(d)
`, map[string]any{"rows": rows})
	})
	return err
}

func (s *neo4jStore) UpsertFacets(ctx context.Context, facets []*story.Facet) error {
	if len(facets) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := make([]map[string]any, 0, len(facets))
	for _, f := range facets {
		if f == nil || f.ID == uuid.Nil || f.EntityID == uuid.Nil {
			continue
		}
		rows = append(rows, map[string]any{
			"id":        f.ID.String(),
			"entity_id": f.EntityID.String(),
			"type":      f.Type,
			"content":   truncateString(f.Content, 900),
			"embedding_json": func() string {
				if len(f.Embedding) == 0 {
					return ""
				}
				return string(f.Embedding)
			}(),
			"synced_at": now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (f:StoryFacet {id: r.id})
SET f += r
WITH f, r
MERGE (e:StoryEntity {id: r.entity_id})
MERGE (e)-[:HAS_FACET]->(f)
`, map[string]any{"rows": rows})
	})
	return err
}

func (s *neo4jStore) UpsertMentions(ctx context.Context, mentions []*story.Mention) error {
	if len(mentions) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := make([]map[string]any, 0, len(mentions))
	for _, m := range mentions {
		if m == nil || m.ID == uuid.Nil || m.EntityID == uuid.Nil || m.SegmentID == uuid.Nil {
			continue
		}
		rows = append(rows, map[string]any{
			"id":               m.ID.String(),
			"entity_id":        m.EntityID.String(),
			"segment_id":       m.SegmentID.String(),
			"quote":            truncateString(m.Quote, 900),
			"start_offset":     m.StartOffset,
			"document_version": m.DocumentVersion,
			"confidence":       m.Confidence,
			"source":           m.Source,
			"synced_at":        now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (e:StoryEntity {id: r.entity_id})
MERGE (sg:StorySegment {id: r.segment_id})
MERGE (e)-[m:MENTIONED_IN {id: r.id}]->(sg)
SET m.quote = r.quote,
    m.start_offset = r.start_offset,
    m.document_version = r.document_version,
    m.confidence = r.confidence,
    m.source = r.source,
    m.synced_at = r.synced_at
`, map[string]any{"rows": rows})
	})
	return err
}

func (s *neo4jStore) InsertRelationship(ctx context.Context, rel story.Relationship) (bool, error) {
	if rel.FromEntityID == uuid.Nil || rel.ToEntityID == uuid.Nil {
		return false, nil
	}
	// Relationship types cannot be parameterized in Cypher; the taxonomy
	// check doubles as an injection guard.
	if !story.IsValidRelType(rel.Type) {
		return false, fmt.Errorf("graph: invalid relationship type %q", rel.Type)
	}

	params := map[string]any{
		"from":          rel.FromEntityID.String(),
		"to":            rel.ToEntityID.String(),
		"description":   truncateString(rel.Description, 900),
		"cross_segment": rel.CrossSegment,
		"synced_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if rel.Strength != nil {
		params["strength"] = *rel.Strength
	} else {
		params["strength"] = nil
	}

	causal := story.IsCausalRelType(rel.Type)
	var query string
	if causal {
		// Refuse edges that would close a causal cycle. The MATCH alone
		// decides node existence, so a missing row is unambiguous.
		query = fmt.Sprintf(`
MATCH (a:StoryEntity {id: $from}), (b:StoryEntity {id: $to})
WITH a, b, EXISTS { MATCH (b)-[:CAUSES|ENABLES|PREVENTS*1..]->(a) } AS cycle
FOREACH (_ IN CASE WHEN cycle THEN [] ELSE [1] END |
  MERGE (a)-[r:%s]->(b)
  SET r.description = $description,
      r.strength = $strength,
      r.cross_segment = $cross_segment,
      r.synced_at = $synced_at
)
RETURN cycle
`, rel.Type)
	} else {
		query = fmt.Sprintf(`
MATCH (a:StoryEntity {id: $from}), (b:StoryEntity {id: $to})
MERGE (a)-[r:%s]->(b)
SET r.description = $description,
    r.strength = $strength,
    r.cross_segment = $cross_segment,
    r.synced_at = $synced_at
RETURN count(r) AS inserted
`, rel.Type)
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	inserted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return false, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			// No row back means the MATCH found no endpoint nodes.
			return false, ErrEndpointsMissing
		}
		if causal {
			v, _ := rec.Get("cycle")
			hitCycle, _ := v.(bool)
			return !hitCycle, nil
		}
		n, _ := rec.Get("inserted")
		count, _ := n.(int64)
		return count > 0, nil
	})
	if err != nil {
		return false, err
	}
	ok, _ := inserted.(bool)
	return ok, nil
}

func (s *neo4jStore) Relationships(ctx context.Context, documentID uuid.UUID) ([]story.Relationship, error) {
	if documentID == uuid.Nil {
		return nil, nil
	}

	session := s.readSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:StoryEntity {document_id: $document_id})-[r]->(b:StoryEntity)
WHERE type(r) IN $types
RETURN a.id AS from_id, b.id AS to_id, type(r) AS rel_type,
       r.description AS description, r.strength AS strength,
       r.cross_segment AS cross_segment
`, map[string]any{
			"document_id": documentID.String(),
			"types": []any{
				story.RelCauses, story.RelEnables, story.RelPrevents, story.RelHappensBefore,
				story.RelParticipatesIn, story.RelLocatedAt, story.RelPartOf, story.RelMemberOf,
				story.RelPossesses, story.RelConnectedTo, story.RelOpposes, story.RelAbout,
				story.RelRelatedTo,
			},
		})
		if err != nil {
			return nil, err
		}

		var rels []story.Relationship
		for res.Next(ctx) {
			rec := res.Record()
			rel := story.Relationship{}
			if v, ok := rec.Get("from_id"); ok {
				if id, err := uuid.Parse(asString(v)); err == nil {
					rel.FromEntityID = id
				}
			}
			if v, ok := rec.Get("to_id"); ok {
				if id, err := uuid.Parse(asString(v)); err == nil {
					rel.ToEntityID = id
				}
			}
			if v, ok := rec.Get("rel_type"); ok {
				rel.Type = asString(v)
			}
			if v, ok := rec.Get("description"); ok {
				rel.Description = asString(v)
			}
			if v, ok := rec.Get("strength"); ok && v != nil {
				if f, ok := v.(float64); ok {
					rel.Strength = &f
				}
			}
			if v, ok := rec.Get("cross_segment"); ok && v != nil {
				if b, ok := v.(bool); ok {
					rel.CrossSegment = b
				}
			}
			if rel.FromEntityID == uuid.Nil || rel.ToEntityID == uuid.Nil {
				continue
			}
			rels = append(rels, rel)
		}
		return rels, res.Err()
	})
	if err != nil {
		return nil, err
	}
	rels, _ := out.([]story.Relationship)
	return rels, nil
}

func (s *neo4jStore) UpsertThreads(ctx context.Context, documentID uuid.UUID, threads []*story.Thread) error {
	if documentID == uuid.Nil || len(threads) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	threadRows := make([]map[string]any, 0, len(threads))
	memberRows := make([]map[string]any, 0)
	for _, t := range threads {
		if t == nil || t.ID == uuid.Nil {
			continue
		}
		threadRows = append(threadRows, map[string]any{
			"id":          t.ID.String(),
			"document_id": documentID.String(),
			"name":        t.Name,
			"is_primary":  t.IsPrimary,
			"synced_at":   now,
		})
		for order, eventID := range decodeUUIDList(t.EventIDs) {
			memberRows = append(memberRows, map[string]any{
				"thread_id": t.ID.String(),
				"event_id":  eventID.String(),
				"order":     order,
				"synced_at": now,
			})
		}
	}
	if len(threadRows) == 0 {
		return nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (t:StoryThread {id: r.id})
SET t += r
WITH t, r
MERGE (d:StoryDocument {id: r.document_id})
MERGE (t)-[:IN_DOCUMENT]->(d)
`, map[string]any{"rows": threadRows}); err != nil {
			return nil, err
		}
		if len(memberRows) == 0 {
			return nil, nil
		}
		return nil, runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (t:StoryThread {id: r.thread_id})
MERGE (e:StoryEntity {id: r.event_id})
MERGE (t)-[m:HAS_EVENT]->(e)
SET m.order = r.order, m.synced_at = r.synced_at
`, map[string]any{"rows": memberRows})
	})
	return err
}

func (s *neo4jStore) UpsertArcs(ctx context.Context, documentID uuid.UUID, arcs []*story.Arc, states []*story.ArcState) error {
	if documentID == uuid.Nil || (len(arcs) == 0 && len(states) == 0) {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	arcRows := make([]map[string]any, 0, len(arcs))
	for _, a := range arcs {
		if a == nil || a.ID == uuid.Nil || a.EntityID == uuid.Nil {
			continue
		}
		arcRows = append(arcRows, map[string]any{
			"id":          a.ID.String(),
			"document_id": documentID.String(),
			"entity_id":   a.EntityID.String(),
			"arc_type":    a.ArcType,
			"synced_at":   now,
		})
	}

	stateRows := make([]map[string]any, 0, len(states))
	changeRows := make([]map[string]any, 0)
	byArc := map[uuid.UUID][]*story.ArcState{}
	for _, st := range states {
		if st == nil || st.ID == uuid.Nil || st.ArcID == uuid.Nil {
			continue
		}
		row := map[string]any{
			"id":             st.ID.String(),
			"arc_id":         st.ArcID.String(),
			"phase_index":    st.PhaseIndex,
			"phase_name":     st.PhaseName,
			"document_order": st.DocumentOrder,
			"causal_order":   st.CausalOrder,
			"has_gap":        st.HasGap,
			"is_current":     st.IsCurrent,
			"embedding_json": func() string {
				if len(st.Embedding) == 0 {
					return ""
				}
				return string(st.Embedding)
			}(),
			"synced_at": now,
		}
		stateRows = append(stateRows, row)
		byArc[st.ArcID] = append(byArc[st.ArcID], st)
	}
	for _, seq := range byArc {
		sort.Slice(seq, func(i, j int) bool { return seq[i].PhaseIndex < seq[j].PhaseIndex })
		for i := 1; i < len(seq); i++ {
			prev, cur := seq[i-1], seq[i]
			change := map[string]any{
				"from_id":   prev.ID.String(),
				"to_id":     cur.ID.String(),
				"has_gap":   cur.HasGap,
				"synced_at": now,
			}
			if cur.TriggerEventID != nil {
				change["trigger_event_id"] = cur.TriggerEventID.String()
			} else {
				change["trigger_event_id"] = nil
			}
			changeRows = append(changeRows, change)
		}
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(arcRows) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (a:StoryArc {id: r.id})
SET a += r
WITH a, r
MERGE (e:StoryEntity {id: r.entity_id})
MERGE (a)-[:ARC_OF]->(e)
`, map[string]any{"rows": arcRows}); err != nil {
				return nil, err
			}
		}
		if len(stateRows) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (st:StoryArcState {id: r.id})
SET st += r
WITH st, r
MERGE (a:StoryArc {id: r.arc_id})
MERGE (a)-[:HAS_STATE]->(st)
`, map[string]any{"rows": stateRows}); err != nil {
				return nil, err
			}
		}
		if len(changeRows) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (a:StoryArcState {id: r.from_id})
MERGE (b:StoryArcState {id: r.to_id})
MERGE (a)-[c:CHANGES_TO]->(b)
SET c.trigger_event_id = r.trigger_event_id,
    c.has_gap = r.has_gap,
    c.synced_at = r.synced_at
`, map[string]any{"rows": changeRows}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func decodeUUIDList(raw []byte) []uuid.UUID {
	if len(raw) == 0 {
		return nil
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err != nil {
		return nil
	}
	out := make([]uuid.UUID, 0, len(strs))
	for _, s := range strs {
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}
