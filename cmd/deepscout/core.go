package main

import (
	"fmt"
	"os"
	"time"

	"github.com/user/deepscout/internal/config"
	ctxengine "github.com/user/deepscout/internal/context"
	"github.com/user/deepscout/internal/gateway"
	"github.com/user/deepscout/internal/research"
	"github.com/user/deepscout/internal/state"
	"github.com/user/deepscout/internal/templates"
	"github.com/user/deepscout/pkg/llm"
	"github.com/user/deepscout/pkg/llm/openai"
)

// core bundles the long-lived pieces of the daemon so serve and chat wire
// them identically: stores, LLM client, context engine, research
// orchestrator, and the gateway that feeds it.
type core struct {
	cfg       *config.Config
	sessions  *state.SessionStore
	events    *state.EventStore
	artifacts *state.ArtifactStore
	sources   *state.SourceStore
	tplStore  *templates.Store
	templates *templates.Manager
	client    *openai.Client
	engine    *ctxengine.Engine
	watcher   *research.Watcher
	orch      *research.Orchestrator
	gateway   *gateway.Gateway
	fetcher   *research.Fetcher
}

func buildCore(cfg *config.Config) (*core, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	sessions := state.NewSessionStore(cfg.DataDir)
	events := state.NewEventStore(cfg.DataDir)
	artifacts := state.NewArtifactStore(cfg.DataDir)
	sources := state.NewSourceStore(cfg.DataDir)

	tplStore, err := templates.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open template store: %w", err)
	}

	client := openai.New(&llm.Config{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		ChatModel:     cfg.LLM.ChatModel,
		ResearchModel: cfg.LLM.ResearchModel,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		TopP:          cfg.LLM.TopP,
	})

	engine, err := ctxengine.New(cfg.LLM.ChatModel, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		tplStore.Close()
		return nil, fmt.Errorf("create context engine: %w", err)
	}

	manager := templates.NewManager(tplStore)
	gw := gateway.New(sessions, int64(cfg.MaxConcurrent))

	watcher := research.NewWatcher(client,
		research.WithTimeout(time.Duration(cfg.Research.TimeoutMinutes)*time.Minute))

	orch := research.NewOrchestrator(research.Deps{
		Provider:   client,
		Researcher: client,
		Engine:     engine,
		Sessions:   sessions,
		Events:     events,
		Artifacts:  artifacts,
		Sources:    sources,
		Templates:  manager,
		Watcher:    watcher,
		Retry:      gw.Retry(),
	})
	gw.Queue.SetProcessor(orch.ProcessRun)

	return &core{
		cfg:       cfg,
		sessions:  sessions,
		events:    events,
		artifacts: artifacts,
		sources:   sources,
		tplStore:  tplStore,
		templates: manager,
		client:    client,
		engine:    engine,
		watcher:   watcher,
		orch:      orch,
		gateway:   gw,
		fetcher:   research.NewFetcher(),
	}, nil
}

func (c *core) Close() {
	if err := c.tplStore.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close template store: %v\n", err)
	}
}
