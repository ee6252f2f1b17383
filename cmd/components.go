// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/agent"
	"github.com/xkilldash9x/webtrail/internal/browser"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/llmclient"
	"github.com/xkilldash9x/webtrail/internal/store"
)

// taskExecutor is the part of the agent the commands drive.
type taskExecutor interface {
	ExecuteTask(ctx context.Context, instruction string) (*agent.TaskResult, error)
}

// agentProvider assembles a ready agent. Tests inject a fake one.
type agentProvider interface {
	// Create returns the agent and a cleanup function that releases the
	// browser, the oracle and the run index.
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (taskExecutor, func(), error)
}

type defaultAgentProvider struct{}

// NewAgentProvider returns the provider that wires real components.
func NewAgentProvider() agentProvider {
	return &defaultAgentProvider{}
}

// agentComponents holds everything one agent owns.
type agentComponents struct {
	Browser *browser.Browser
	Oracle  schemas.Oracle
	Pool    *pgxpool.Pool
	Agent   *agent.Agent
	logger  *zap.Logger
}

// Shutdown releases components in reverse order of creation.
func (c *agentComponents) Shutdown() {
	if c.Pool != nil {
		c.Pool.Close()
		c.logger.Debug("Database connection pool closed.")
	}
	if c.Oracle != nil {
		if err := c.Oracle.Close(); err != nil {
			c.logger.Warn("Failed to close LLM client.", zap.Error(err))
		}
	}
	if c.Browser != nil {
		if err := c.Browser.Close(); err != nil {
			c.logger.Warn("Failed to close browser.", zap.Error(err))
		}
	}
}

func (p *defaultAgentProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (taskExecutor, func(), error) {
	c, err := initializeAgentComponents(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return c.Agent, c.Shutdown, nil
}

// initializeAgentComponents handles dependency injection. The oracle is
// created first so a missing API key fails before a browser is launched. The
// run index and the browser are then brought up together; if either fails the
// other is cancelled and released.
func initializeAgentComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*agentComponents, error) {
	c := &agentComponents{logger: logger}

	oracle, err := llmclient.NewClient(ctx, cfg.Agent().LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	c.Oracle = oracle

	var runStore *store.Store
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Database().URL != "" {
		g.Go(func() error {
			pool, s, err := connectStore(gctx, cfg, logger)
			if err != nil {
				return err
			}
			c.Pool, runStore = pool, s
			return nil
		})
	}
	g.Go(func() error {
		b, err := browser.Connect(gctx, cfg, logger)
		if err != nil {
			return err
		}
		c.Browser = b
		return nil
	})
	if err := g.Wait(); err != nil {
		c.Shutdown()
		return nil, err
	}

	var opts []agent.Option
	if runStore != nil {
		opts = append(opts, agent.WithRecorder(runStore))
	}
	c.Agent = agent.New(c.Browser.Page(), oracle, cfg, logger, opts...)
	logger.Info("Agent ready.",
		zap.String("provider", string(cfg.Agent().LLM.Provider)),
		zap.String("model", cfg.Agent().LLM.ResolvedModel()),
		zap.Bool("attached", c.Browser.Attached()),
		zap.Bool("run_index", c.Pool != nil))
	return c, nil
}

// connectStore opens the run index and makes sure its tables exist.
func connectStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*pgxpool.Pool, *store.Store, error) {
	dbCfg := cfg.Database()
	connectCtx, cancel := context.WithTimeout(ctx, dbCfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dbCfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	runStore, err := store.New(connectCtx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := runStore.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to prepare run index: %w", err)
	}
	return pool, runStore, nil
}
