package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/personabot/pbot/internal/command"
	"github.com/personabot/pbot/internal/composer"
	"github.com/personabot/pbot/internal/config"
	"github.com/personabot/pbot/internal/engine"
	"github.com/personabot/pbot/internal/inference"
	"github.com/personabot/pbot/internal/memory"
	"github.com/personabot/pbot/internal/pipeline"
	"github.com/personabot/pbot/internal/storage"
	"github.com/personabot/pbot/internal/worker"
)

// app is the assembled chat stack shared by serve and chat.
type app struct {
	cfg     config.Config
	store   *storage.Store
	backend engine.Backend
	mem     *memory.Manager
	chat    *worker.Chat
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	backend, err := engine.New(ctx, engine.Config{
		Kind:    cfg.Inference.Backend,
		BaseURL: cfg.Inference.BaseURL,
		APIKey:  cfg.Inference.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating inference backend: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	gateway := inference.New(backend, store)
	mem, err := memory.NewManager(store, gateway, memoryConfig(cfg))
	if err != nil {
		store.Close()
		return nil, err
	}

	gen := pipeline.NewGenerator(mem, gateway, composer.New(cfg.Persona.Owner), pipeline.Config{
		Models:      chainModels(cfg),
		Temperature: cfg.Inference.Temperature,
	})

	return &app{
		cfg:     cfg,
		store:   store,
		backend: backend,
		mem:     mem,
		chat:    worker.NewChat(command.NewDispatcher(mem), gen),
	}, nil
}

func (a *app) Close() {
	a.mem.Close()
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// openMemory opens storage and a memory manager that never calls a model.
// Provisioning commands use it so they work without inference credentials.
func openMemory(cfg config.Config) (*storage.Store, *memory.Manager, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	mem, err := memory.NewManager(store, nil, memoryConfig(cfg))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, mem, nil
}

func memoryConfig(cfg config.Config) memory.Config {
	return memory.Config{
		UtilityModel:        inference.Model(cfg.Inference.UtilityModel),
		CompactionThreshold: cfg.Memory.CompactionThreshold,
		Language:            cfg.Persona.Language,
	}
}

func chainModels(cfg config.Config) []inference.Model {
	var models []inference.Model
	for _, m := range []string{cfg.Inference.PrimaryModel, cfg.Inference.SecondaryModel, cfg.Inference.TertiaryModel} {
		if m != "" {
			models = append(models, inference.Model(m))
		}
	}
	return models
}

// modelNames lists every configured model once, in configuration order.
func modelNames(cfg config.Config) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range []string{cfg.Inference.PrimaryModel, cfg.Inference.SecondaryModel, cfg.Inference.TertiaryModel, cfg.Inference.UtilityModel} {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
