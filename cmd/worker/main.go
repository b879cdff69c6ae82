package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/storygraph-backend/internal/config"
	"github.com/yungbote/storygraph-backend/internal/data/db"
	"github.com/yungbote/storygraph-backend/internal/data/graph"
	storyrepos "github.com/yungbote/storygraph-backend/internal/data/repos/story"
	"github.com/yungbote/storygraph-backend/internal/jobs"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis/prompts"
	"github.com/yungbote/storygraph-backend/internal/platform/envutil"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/neo4jdb"
	"github.com/yungbote/storygraph-backend/internal/platform/openai"
	"github.com/yungbote/storygraph-backend/internal/realtime/bus"
)

func main() {
	log, err := logger.New(envutil.String("APP_ENV", "development"))
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	prompts.RegisterAll()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", "error", err.Error())
	}

	dbService, err := db.NewService(log)
	if err != nil {
		log.Fatal("database connection failed", "error", err.Error())
	}
	if err := dbService.AutoMigrate(); err != nil {
		log.Fatal("migration failed", "error", err.Error())
	}

	ai, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("openai client init failed", "error", err.Error())
	}

	var graphStore graph.Store
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("neo4j connection failed", "error", err.Error())
	}
	if neoClient != nil {
		defer neoClient.Close(context.Background())
		graphStore, err = graph.NewNeo4jStore(neoClient, log)
		if err != nil {
			log.Fatal("graph store init failed", "error", err.Error())
		}
	} else {
		log.Info("NEO4J_URI not set, using in-memory graph store")
		graphStore = graph.NewMemoryStore()
	}

	eventBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Fatal("redis connection failed", "error", err.Error())
	}
	defer eventBus.Close()

	gdb := dbService.DB()
	pipeline, err := analysis.NewService(analysis.Deps{
		Log:       log,
		AI:        ai,
		Graph:     graphStore,
		Documents: storyrepos.NewDocumentRepo(gdb, log),
		Segments:  storyrepos.NewSegmentRepo(gdb, log),
		Entities:  storyrepos.NewEntityRepo(gdb, log),
		Facets:    storyrepos.NewFacetRepo(gdb, log),
		Mentions:  storyrepos.NewMentionRepo(gdb, log),
		Threads:   storyrepos.NewThreadRepo(gdb, log),
		Arcs:      storyrepos.NewArcRepo(gdb, log),
		Bus:       eventBus,
	})
	if err != nil {
		log.Fatal("pipeline init failed", "error", err.Error())
	}

	worker, err := jobs.NewWorker(log, cfg.Worker, storyrepos.NewDocumentRepo(gdb, log), pipeline)
	if err != nil {
		log.Fatal("worker init failed", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("worker exited", "error", err.Error())
	}
}
