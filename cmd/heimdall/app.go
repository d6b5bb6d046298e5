package main

import (
	"github.com/heimdall-asis/heimdall/internal/adapters"
	"github.com/heimdall-asis/heimdall/internal/cleaners"
	"github.com/heimdall-asis/heimdall/internal/cleaners/extract"
	"github.com/heimdall-asis/heimdall/internal/config"
	"github.com/heimdall-asis/heimdall/internal/ingest"
	"github.com/heimdall-asis/heimdall/internal/net/fetch"
	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/persistence/sqlite"
	"github.com/heimdall-asis/heimdall/internal/pipeline"
)

// app bundles everything a command needs after wiring.
type app struct {
	cfg    config.Config
	store  *sqlite.Store
	repo   *persistence.Repository
	engine *ingest.Engine
	runner *pipeline.Runner
}

// newApp loads config, opens the store, and wires the engines. Callers must
// Close.
func newApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	repo := store.Repository()

	client := fetch.New(fetch.Options{
		Timeout:            cfg.HTTP.Timeout(),
		MaxRetries:         cfg.HTTP.MaxRetries,
		PerHostConcurrency: cfg.HTTP.PerHostConcurrency,
		PerHostRPS:         cfg.HTTP.PerHostRPS,
		PerHostBurst:       cfg.HTTP.PerHostBurst,
		UserAgent:          cfg.HTTP.UserAgent,
	})

	registry := adapters.Registry{
		persistence.FamilyMacro: adapters.NewMacroAdapter(adapters.MacroConfig{
			BaseURL: cfg.Sources.Macro.BaseURL,
			APIKey:  cfg.Sources.Macro.APIKey(),
		}, client),
		persistence.FamilyPrice: adapters.NewPriceAdapter(adapters.PriceConfig{
			BaseURL: cfg.Sources.Price.BaseURL,
			APIKey:  cfg.Sources.Price.APIKey(),
		}, client),
		persistence.FamilyNews: adapters.NewNewsAdapter(adapters.NewsConfig{
			BaseURL: cfg.Sources.News.BaseURL,
			APIKey:  cfg.Sources.News.APIKey(),
		}, client),
	}

	extractor := extract.New(client, cfg.Cleaning.ExtractTimeout())
	runner := pipeline.NewRunner(repo, store,
		cleaners.NewMacroCleaner(),
		cleaners.NewPriceCleaner(),
		cleaners.NewNewsCleaner(extractor, cfg.Cleaning.ExtractWorkers),
	)

	return &app{
		cfg:    cfg,
		store:  store,
		repo:   repo,
		engine: ingest.New(repo, store, registry),
		runner: runner,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}
