// Command raven-agent runs the agent service: an LLM tool-call loop
// against an MCP tool server, exposed over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ravenlabs/raven/pkg/agent"
	"github.com/ravenlabs/raven/pkg/config"
	"github.com/ravenlabs/raven/pkg/logger"
	"github.com/ravenlabs/raven/pkg/observability"
	"github.com/ravenlabs/raven/pkg/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "raven-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg := config.LoadAgent()
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

	contextOverride := cfg.ModelContextTokens
	if contextOverride <= 0 {
		contextOverride = cfg.AssistantContextTokens
	}

	prompts := agent.NewPromptStore(cfg.PromptPath)
	orchestrator := agent.New(prompts, contextOverride, cfg.LogTruncate, log)
	srv := server.NewAgentServer(orchestrator, prompts, cfg, metrics, tracer, log)

	return server.Serve(ctx, cfg.Addr, srv.Router(), log)
}
