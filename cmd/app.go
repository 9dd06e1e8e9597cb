package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/agent"
	"github.com/xkilldash9x/nexus-agent/internal/browser"
	"github.com/xkilldash9x/nexus-agent/internal/config"
	"github.com/xkilldash9x/nexus-agent/internal/eventbus"
	"github.com/xkilldash9x/nexus-agent/internal/llmclient"
	"github.com/xkilldash9x/nexus-agent/internal/memory"
	"github.com/xkilldash9x/nexus-agent/internal/tools"
)

// app holds the assembled component graph shared by run and serve.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	bus        *eventbus.Bus
	store      *memory.Store
	session    schemas.BrowserSession
	manager    *browser.Manager
	controller *agent.Controller
}

// buildApp assembles the full stack. With dryRun the browser is an in-memory
// fake and no Chromium process is started.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, dryRun bool) (*app, error) {
	bus := eventbus.New(logger, cfg.Events.RingSize, cfg.Events.SubscriberBuffer)
	store := memory.NewStore(logger)

	var (
		session schemas.BrowserSession
		manager *browser.Manager
	)
	if dryRun {
		logger.Info("Dry run: using the in-memory browser fake.")
		session = browser.NewFake()
	} else {
		manager = browser.NewManager(cfg.Browser, logger)
		s, err := manager.NewSession(bus)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("failed to create browser session: %w", err)
		}
		session = s
	}

	llm, err := llmclient.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		if manager != nil {
			manager.Shutdown()
		}
		bus.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	registry := tools.NewRegistry(session, store, cfg.Browser.ContentLimit, logger)

	controller := agent.NewController(agent.Options{
		Config:      cfg.Agent,
		LLM:         llm,
		Registry:    registry,
		Browser:     session,
		Memory:      store,
		Bus:         bus,
		MemoryScope: cfg.Memory.Scope,
		Temperature: cfg.LLM.Temperature,
		Logger:      logger,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		store:      store,
		session:    session,
		manager:    manager,
		controller: controller,
	}, nil
}

// close tears the stack down in reverse order.
func (a *app) close(ctx context.Context) {
	if err := a.controller.Reset(ctx); err != nil {
		a.logger.Warn("Controller reset during shutdown failed.", zap.Error(err))
	}
	if a.manager != nil {
		a.manager.Shutdown()
	}
	a.bus.Close()
}
