// Package app wires application services to their infrastructure adapters.
package app

import (
	"context"

	"github.com/insightx/insightx/internal/api"
	"github.com/insightx/insightx/internal/application/orchestrator"
	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/infrastructure/ai"
	"github.com/insightx/insightx/internal/infrastructure/config"
	"github.com/insightx/insightx/internal/infrastructure/credentials"
	"github.com/insightx/insightx/internal/infrastructure/sandbox/code"
	"github.com/insightx/insightx/internal/infrastructure/sandbox/query"
	"github.com/insightx/insightx/internal/infrastructure/storage"
)

// Container holds the wired dependency graph.
type Container struct {
	Config       domain.Config
	ConfigLoader *config.FileLoader
	Store        *storage.Store
	Pool         *credentials.Pool
	Gateway      *ai.Gateway
	Orchestrator *orchestrator.Service
	Server       *api.Server
}

// BuildContainer constructs the dependency graph from configuration.
func BuildContainer(ctx context.Context) (*Container, error) {
	loader := config.NewFileLoader("")
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}

	pool, err := credentials.NewPool(cfg.Credentials)
	if err != nil {
		store.Close()
		return nil, err
	}

	gateway := ai.NewGateway(pool, cfg.Gateway)

	pipeline := &orchestrator.Service{
		Gateway:   gateway,
		Rotations: pool,
		Queries:   query.NewSandbox(store.DB(), cfg.Sandbox.MaxRows),
		Code:      code.NewSandbox(cfg.Sandbox.CodeTimeout()),
	}

	server := &api.Server{
		Repo:     store,
		Ingestor: store,
		Pipeline: pipeline,
		Keys:     pool,
	}

	return &Container{
		Config:       cfg,
		ConfigLoader: loader,
		Store:        store,
		Pool:         pool,
		Gateway:      gateway,
		Orchestrator: pipeline,
		Server:       server,
	}, nil
}

// Close releases held resources.
func (c *Container) Close() error {
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
