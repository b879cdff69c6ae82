package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/storygraph-backend/internal/data/graph"
	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis/prompts"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
)

func TestMain(m *testing.M) {
	prompts.RegisterAll()
	os.Exit(m.Run())
}

const docContent = "Alice argued with Bob. Bob slammed the door."

type fakeAI struct {
	respond map[string]func() map[string]any
	calls   map[string]int
	embeds  int
}

func newFakeAI() *fakeAI {
	return &fakeAI{respond: map[string]func() map[string]any{}, calls: map[string]int{}}
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.embeds++
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.calls[schemaName]++
	fn := f.respond[schemaName]
	if fn == nil {
		return nil, fmt.Errorf("no canned response for schema %s", schemaName)
	}
	return fn(), nil
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", nil
}

func (f *fakeAI) generationCalls() int {
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// fakeDocuments keeps the status column and checkpoint blob in memory.
type fakeDocuments struct {
	status          string
	checkpoint      []byte
	failSaveAtStage int
}

func (r *fakeDocuments) Create(dbc dbctx.Context, rows []*story.Document) ([]*story.Document, error) {
	return rows, nil
}

func (r *fakeDocuments) GetByID(dbc dbctx.Context, id uuid.UUID) (*story.Document, error) {
	return &story.Document{ID: id, AnalysisStatus: r.status, AnalysisCheckpoint: datatypes.JSON(r.checkpoint)}, nil
}

func (r *fakeDocuments) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *fakeDocuments) ReadAnalysisStatus(dbc dbctx.Context, id uuid.UUID) (string, error) {
	if r.status == "" {
		return story.AnalysisStatusAnalyzing, nil
	}
	return r.status, nil
}

func (r *fakeDocuments) ClaimForAnalysis(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

func (r *fakeDocuments) ListQueued(dbc dbctx.Context, limit int) ([]*story.Document, error) {
	return nil, nil
}

func (r *fakeDocuments) SaveCheckpoint(dbc dbctx.Context, id uuid.UUID, cp *story.AnalysisCheckpoint) error {
	if cp == nil {
		return nil
	}
	if r.failSaveAtStage != 0 && cp.LastStageCompleted == r.failSaveAtStage {
		return fmt.Errorf("connection reset")
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	r.checkpoint = raw
	return nil
}

func (r *fakeDocuments) LoadCheckpoint(dbc dbctx.Context, id uuid.UUID) (*story.AnalysisCheckpoint, error) {
	if len(r.checkpoint) == 0 {
		return nil, nil
	}
	var cp story.AnalysisCheckpoint
	if err := json.Unmarshal(r.checkpoint, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (r *fakeDocuments) ClearCheckpoint(dbc dbctx.Context, id uuid.UUID) error {
	r.checkpoint = nil
	return nil
}

type fakeSegments struct {
	rows map[uuid.UUID]*story.Segment
}

func newFakeSegments() *fakeSegments {
	return &fakeSegments{rows: map[uuid.UUID]*story.Segment{}}
}

func (r *fakeSegments) Upsert(dbc dbctx.Context, rows []*story.Segment) error {
	for _, seg := range rows {
		if seg == nil {
			continue
		}
		cp := *seg
		if have := r.rows[seg.ID]; have != nil {
			cp.Embedding = have.Embedding
		}
		r.rows[seg.ID] = &cp
	}
	return nil
}

func (r *fakeSegments) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*story.Segment, error) {
	var out []*story.Segment
	for _, seg := range r.rows {
		if seg.DocumentID != documentID {
			continue
		}
		cp := *seg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (r *fakeSegments) DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) error {
	for id, seg := range r.rows {
		if seg.DocumentID == documentID {
			delete(r.rows, id)
		}
	}
	return nil
}

func (r *fakeSegments) UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding []byte) error {
	if seg := r.rows[id]; seg != nil {
		seg.Embedding = datatypes.JSON(embedding)
	}
	return nil
}

type fakeEntities struct {
	rows []*story.Entity
	byID map[uuid.UUID]*story.Entity
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{byID: map[uuid.UUID]*story.Entity{}}
}

func (r *fakeEntities) CreateIfAbsent(dbc dbctx.Context, rows []*story.Entity) error {
	for _, e := range rows {
		if e == nil || r.byID[e.ID] != nil {
			continue
		}
		cp := *e
		r.rows = append(r.rows, &cp)
		r.byID[e.ID] = &cp
	}
	return nil
}

func (r *fakeEntities) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*story.Entity, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*story.Entity
	for _, e := range r.rows {
		if want[e.ID] {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEntities) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*story.Entity, error) {
	var out []*story.Entity
	for _, e := range r.rows {
		if e.DocumentID == documentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEntities) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	e := r.byID[id]
	if e == nil {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "mention_count":
			if n, ok := v.(int); ok {
				e.MentionCount = n
			}
		case "aliases":
			if j, ok := v.(datatypes.JSON); ok {
				e.Aliases = j
			}
		case "embedding":
			if j, ok := v.(datatypes.JSON); ok {
				e.Embedding = j
			}
		}
	}
	return nil
}

func (r *fakeEntities) idByName(name string) uuid.UUID {
	for _, e := range r.rows {
		if e.Name == name {
			return e.ID
		}
	}
	return uuid.Nil
}

type fakeFacets struct {
	rows []*story.Facet
	byID map[uuid.UUID]bool
}

func newFakeFacets() *fakeFacets {
	return &fakeFacets{byID: map[uuid.UUID]bool{}}
}

func (r *fakeFacets) CreateIfAbsent(dbc dbctx.Context, rows []*story.Facet) error {
	for _, f := range rows {
		if f == nil || r.byID[f.ID] {
			continue
		}
		cp := *f
		r.rows = append(r.rows, &cp)
		r.byID[f.ID] = true
	}
	return nil
}

func (r *fakeFacets) GetByEntityIDs(dbc dbctx.Context, entityIDs []uuid.UUID) ([]*story.Facet, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range entityIDs {
		want[id] = true
	}
	var out []*story.Facet
	for _, f := range r.rows {
		if want[f.EntityID] {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeMentions struct {
	rows []*story.Mention
	byID map[uuid.UUID]bool
}

func newFakeMentions() *fakeMentions {
	return &fakeMentions{byID: map[uuid.UUID]bool{}}
}

func (r *fakeMentions) CreateIfAbsent(dbc dbctx.Context, rows []*story.Mention) error {
	for _, m := range rows {
		if m == nil || r.byID[m.ID] {
			continue
		}
		cp := *m
		r.rows = append(r.rows, &cp)
		r.byID[m.ID] = true
	}
	return nil
}

func (r *fakeMentions) GetByEntityIDs(dbc dbctx.Context, entityIDs []uuid.UUID) ([]*story.Mention, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range entityIDs {
		want[id] = true
	}
	var out []*story.Mention
	for _, m := range r.rows {
		if want[m.EntityID] {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMentions) CountByEntity(dbc dbctx.Context, entityID uuid.UUID) (int64, error) {
	var n int64
	for _, m := range r.rows {
		if m.EntityID == entityID {
			n++
		}
	}
	return n, nil
}

type fakeThreads struct {
	rows map[uuid.UUID]*story.Thread
}

func newFakeThreads() *fakeThreads {
	return &fakeThreads{rows: map[uuid.UUID]*story.Thread{}}
}

func (r *fakeThreads) Upsert(dbc dbctx.Context, rows []*story.Thread) error {
	for _, t := range rows {
		if t == nil {
			continue
		}
		cp := *t
		r.rows[t.ID] = &cp
	}
	return nil
}

func (r *fakeThreads) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*story.Thread, error) {
	var out []*story.Thread
	for _, t := range r.rows {
		if t.DocumentID == documentID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeArcs struct {
	arcs   map[uuid.UUID]*story.Arc
	states map[uuid.UUID]*story.ArcState
}

func newFakeArcs() *fakeArcs {
	return &fakeArcs{arcs: map[uuid.UUID]*story.Arc{}, states: map[uuid.UUID]*story.ArcState{}}
}

func (r *fakeArcs) UpsertArcs(dbc dbctx.Context, rows []*story.Arc) error {
	for _, a := range rows {
		if a == nil {
			continue
		}
		cp := *a
		r.arcs[a.ID] = &cp
	}
	return nil
}

func (r *fakeArcs) UpsertStates(dbc dbctx.Context, rows []*story.ArcState) error {
	for _, st := range rows {
		if st == nil {
			continue
		}
		cp := *st
		r.states[st.ID] = &cp
	}
	return nil
}

func (r *fakeArcs) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*story.Arc, error) {
	var out []*story.Arc
	for _, a := range r.arcs {
		if a.DocumentID == documentID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeArcs) GetStatesByArcIDs(dbc dbctx.Context, arcIDs []uuid.UUID) ([]*story.ArcState, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range arcIDs {
		want[id] = true
	}
	var out []*story.ArcState
	for _, st := range r.states {
		if want[st.ArcID] {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}

type pipelineFixture struct {
	svc      Service
	ai       *fakeAI
	docs     *fakeDocuments
	entities *fakeEntities
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	ai := newFakeAI()
	docs := &fakeDocuments{}
	entities := newFakeEntities()
	svc, err := NewService(Deps{
		Log:       log,
		AI:        ai,
		Graph:     graph.NewMemoryStore(),
		Documents: docs,
		Segments:  newFakeSegments(),
		Entities:  entities,
		Facets:    newFakeFacets(),
		Mentions:  newFakeMentions(),
		Threads:   newFakeThreads(),
		Arcs:      newFakeArcs(),
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return &pipelineFixture{svc: svc, ai: ai, docs: docs, entities: entities}
}

// primeExtraction cans the two generation calls a one-segment document with
// two characters makes: extraction and intra-segment relationships. The
// relationship response resolves entity ids lazily, once stage 4 assigned
// them.
func (f *pipelineFixture) primeExtraction() {
	f.ai.respond["segment_entities"] = func() map[string]any {
		character := func(name string) map[string]any {
			return map[string]any{
				"name":    name,
				"type":    "character",
				"aliases": []any{},
				"facets": []any{
					map[string]any{"type": "trait", "content": "stubborn like " + name},
				},
				"mentions": []any{
					map[string]any{"quote": name, "confidence": 1},
				},
				"existing_match": nil,
			}
		}
		return map[string]any{"version": 1, "entities": []any{
			character("Alice"),
			character("Bob"),
		}}
	}
	f.ai.respond["segment_relationships"] = func() map[string]any {
		return map[string]any{"version": 1, "relationships": []any{
			map[string]any{
				"from_entity_id": f.entities.idByName("Alice").String(),
				"to_entity_id":   f.entities.idByName("Bob").String(),
				"type":           story.RelOpposes,
				"description":    "they argue over the door",
				"strength":       nil,
			},
		}}
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	f := newPipelineFixture(t)
	f.primeExtraction()
	in := RunInput{DocumentID: uuid.New(), OwnerUserID: uuid.New(), Content: docContent, Version: 1}

	// the checkpoint write after stage 5 fails, as a crash mid-run would
	f.docs.failSaveAtStage = story.StageRelateIntra
	if _, err := f.svc.Run(context.Background(), in); err == nil {
		t.Fatalf("run survived the checkpoint write failure")
	}

	cp, err := f.docs.LoadCheckpoint(dbctx.Context{}, in.DocumentID)
	if err != nil || cp == nil {
		t.Fatalf("checkpoint after crash: cp=%v err=%v", cp, err)
	}
	if cp.LastStageCompleted != story.StageResolve || cp.Stage2 == nil || cp.Stage4 == nil {
		t.Fatalf("checkpoint incomplete after crash: %+v", cp)
	}
	extractCalls := f.ai.calls["segment_entities"]
	embedCalls := f.ai.embeds
	if extractCalls == 0 || embedCalls == 0 {
		t.Fatalf("first run never reached extraction/embedding: extract=%d embed=%d", extractCalls, embedCalls)
	}

	f.docs.failSaveAtStage = 0
	out, err := f.svc.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if f.ai.calls["segment_entities"] != extractCalls {
		t.Fatalf("extraction re-ran on resume: %d -> %d", extractCalls, f.ai.calls["segment_entities"])
	}
	if f.ai.embeds != embedCalls {
		t.Fatalf("embedding re-ran on resume: %d -> %d", embedCalls, f.ai.embeds)
	}
	if len(f.docs.checkpoint) != 0 {
		t.Fatalf("checkpoint not cleared on success")
	}

	// a crash-free run of the same document yields the same counts
	clean := newPipelineFixture(t)
	clean.primeExtraction()
	cleanOut, err := clean.svc.Run(context.Background(), RunInput{
		DocumentID: uuid.New(), OwnerUserID: uuid.New(), Content: docContent, Version: 1,
	})
	if err != nil {
		t.Fatalf("clean run: %v", err)
	}
	if out != cleanOut {
		t.Fatalf("resumed output %+v differs from clean output %+v", out, cleanOut)
	}
	if out.EntityCount != 2 || out.RelationshipCount != 1 || out.ThreadCount != 0 || out.ArcCount != 0 {
		t.Fatalf("output = %+v", out)
	}
}

func TestRunDiscardsStaleVersionCheckpoint(t *testing.T) {
	f := newPipelineFixture(t)
	f.primeExtraction()
	docID := uuid.New()

	stale := &story.AnalysisCheckpoint{
		Version:            story.CheckpointVersion,
		DocumentVersion:    1,
		LastStageCompleted: story.StageFinal,
	}
	if err := f.docs.SaveCheckpoint(dbctx.Context{}, docID, stale); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	out, err := f.svc.Run(context.Background(), RunInput{
		DocumentID: docID, OwnerUserID: uuid.New(), Content: docContent, Version: 2,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.ai.calls["segment_entities"] == 0 {
		t.Fatalf("stale checkpoint suppressed extraction")
	}
	if out.EntityCount != 2 || out.RelationshipCount != 1 {
		t.Fatalf("output = %+v", out)
	}
}

func TestRunMissingStagePayloadIsFatal(t *testing.T) {
	f := newPipelineFixture(t)
	docID := uuid.New()

	// stage 2 marked complete with no cached payload
	cp := &story.AnalysisCheckpoint{
		Version:            story.CheckpointVersion,
		DocumentVersion:    1,
		LastStageCompleted: story.StageExtract,
	}
	if err := f.docs.SaveCheckpoint(dbctx.Context{}, docID, cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	_, err := f.svc.Run(context.Background(), RunInput{
		DocumentID: docID, OwnerUserID: uuid.New(), Content: docContent, Version: 1,
	})
	if !errors.Is(err, ErrCheckpointCorrupt) {
		t.Fatalf("err = %v, want checkpoint corruption", err)
	}
}

func TestRunCancelClearsCheckpoint(t *testing.T) {
	f := newPipelineFixture(t)
	docID := uuid.New()

	cp := &story.AnalysisCheckpoint{
		Version:            story.CheckpointVersion,
		DocumentVersion:    1,
		LastStageCompleted: story.StageExtract,
		Stage2:             &story.Stage2Output{},
	}
	if err := f.docs.SaveCheckpoint(dbctx.Context{}, docID, cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	f.docs.status = story.AnalysisStatusCancelling

	_, err := f.svc.Run(context.Background(), RunInput{
		DocumentID: docID, OwnerUserID: uuid.New(), Content: docContent, Version: 1,
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if len(f.docs.checkpoint) != 0 {
		t.Fatalf("cancellation kept the checkpoint")
	}
	if f.ai.generationCalls() != 0 || f.ai.embeds != 0 {
		t.Fatalf("cancelled run still called the model")
	}
}

func TestRunPauseKeepsCheckpoint(t *testing.T) {
	f := newPipelineFixture(t)
	docID := uuid.New()

	cp := &story.AnalysisCheckpoint{
		Version:            story.CheckpointVersion,
		DocumentVersion:    1,
		LastStageCompleted: story.StageExtract,
		Stage2:             &story.Stage2Output{},
	}
	if err := f.docs.SaveCheckpoint(dbctx.Context{}, docID, cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	f.docs.status = story.AnalysisStatusPausing

	_, err := f.svc.Run(context.Background(), RunInput{
		DocumentID: docID, OwnerUserID: uuid.New(), Content: docContent, Version: 1,
	})
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("err = %v, want ErrPaused", err)
	}

	kept, err := f.docs.LoadCheckpoint(dbctx.Context{}, docID)
	if err != nil || kept == nil {
		t.Fatalf("pause lost the checkpoint: cp=%v err=%v", kept, err)
	}
	if kept.LastStageCompleted != story.StageExtract {
		t.Fatalf("paused checkpoint mutated: %+v", kept)
	}
}
