// Command raven-skills runs the skill engine service: it retrieves
// learned skills by embedding similarity, executes them step by step
// through the agent service, and learns new skills in the background.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ravenlabs/raven/pkg/agentclient"
	"github.com/ravenlabs/raven/pkg/config"
	"github.com/ravenlabs/raven/pkg/embedding"
	"github.com/ravenlabs/raven/pkg/logger"
	"github.com/ravenlabs/raven/pkg/observability"
	"github.com/ravenlabs/raven/pkg/server"
	"github.com/ravenlabs/raven/pkg/skills"
	"github.com/ravenlabs/raven/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "raven-skills: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg := config.LoadSkills()
	logger.Init(logger.ParseLevel(cfg.LogLevel), os.Stderr, cfg.LogFormat)
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTELEndpoint, cfg.OTELServiceName)
	if err != nil {
		log.Warn("tracing_disabled", "error", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing_shutdown_failed", "error", err)
		}
	}()

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics(cfg.OTELServiceName)
	}

	// A missing database keeps the service up; runs answer 503 until the
	// pool comes back on restart.
	var storage skills.Storage
	st, err := store.New(ctx, cfg.DatabaseURL, cfg.EmbeddingDim, log)
	if err != nil {
		log.Error("skills_pool_init_failed", "error", err)
	} else if err := st.Init(ctx); err != nil {
		log.Error("skills_schema_init_failed", "error", err)
		st.Close()
	} else {
		storage = st
		defer st.Close()
	}

	embedder := embedding.New(cfg.EmbeddingModel, cfg.OpenAIBaseURL, cfg.OpenAITimeout, log)
	agentCaller := agentclient.New(cfg.AgentServiceURL, cfg.AgentServiceTimeout, log)
	generator := skills.NewLLMGenerator(cfg.OpenAIBaseURL, cfg.OpenAITimeout, cfg.MaxSteps, log)

	engine := skills.New(cfg, storage, embedder, agentCaller, generator, log)
	defer engine.Wait()

	srv := server.NewSkillsServer(engine, cfg, metrics, tracer, log)
	return server.Serve(ctx, cfg.Addr, srv.Router(), log)
}
