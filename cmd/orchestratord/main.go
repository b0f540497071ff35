// Command orchestratord runs the workflow orchestration and progress
// broadcasting HTTP/WebSocket service: it wires an event bus, a progress
// broadcaster, a connection manager, a workflow engine, and a multi-agent
// flow into a single process and serves the submission and push
// subscription interfaces.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/taskflow-run/orchestrator/broadcast"
	"github.com/taskflow-run/orchestrator/config"
	"github.com/taskflow-run/orchestrator/eventbus"
	"github.com/taskflow-run/orchestrator/executor"
	"github.com/taskflow-run/orchestrator/httpapi"
	"github.com/taskflow-run/orchestrator/llmclient/anthropic"
	"github.com/taskflow-run/orchestrator/multiagent"
	"github.com/taskflow-run/orchestrator/planner"
	"github.com/taskflow-run/orchestrator/telemetry"
	"github.com/taskflow-run/orchestrator/toolregistry"
	"github.com/taskflow-run/orchestrator/transport"
	"github.com/taskflow-run/orchestrator/workflow"
)

// version is reported by the version subcommand and the GET /workflows/health
// endpoint; override at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestratord:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "Workflow orchestration and progress broadcasting service",
	}
	root.AddCommand(serveCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orchestratord version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		apiKey     string
		model      string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, listenAddr, apiKey, model, debug)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; defaults are used when omitted)")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8090", "HTTP listen address")
	cmd.Flags().StringVar(&apiKey, "anthropic-api-key", os.Getenv("ANTHROPIC_API_KEY"), "Anthropic API key (defaults to ANTHROPIC_API_KEY)")
	cmd.Flags().StringVar(&model, "anthropic-model", "claude-sonnet-4-5", "Anthropic model identifier")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func serve(configPath, listenAddr, apiKey, model string, debug bool) error {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("orchestratord: %w", err)
		}
		cfg = loaded
	}

	llmClient, err := anthropic.NewFromAPIKey(apiKey, model, 1024)
	if err != nil {
		return fmt.Errorf("orchestratord: %w", err)
	}

	bus := eventbus.New(logger)
	broadcaster := broadcast.New(bus, logger, broadcast.WithGracePeriod(cfg.GracePeriod()))
	manager := transport.New(bus, logger,
		transport.WithOutboxCapacity(cfg.Progress.OutboxCapacity),
		transport.WithEnqueueTimeout(cfg.TerminalEnqueueTimeout()),
	)
	defer manager.Close()

	classifier := workflow.NewClassifier(cfg.Classifier.ToolKeywords)
	registry := toolregistry.New()
	validator := toolregistry.NewArgumentValidator()
	planr := planner.New(llmClient)
	generic := executor.NewGenericExecutor(llmClient)
	tool := executor.NewToolExecutor(registry, validator, llmClient)

	engine := workflow.New(planr, classifier, generic, tool, broadcaster, logger, workflow.WithMaxSteps(cfg.Planner.MaxSteps))
	flow := multiagent.New(engine, planr, classifier, generic, tool, broadcaster, logger,
		multiagent.WithThresholds(cfg.MultiAgent.SingleMax, cfg.MultiAgent.ParallelMin),
		multiagent.WithMaxSteps(cfg.Planner.MaxSteps),
	)

	server := httpapi.New(engine, broadcaster, manager, logger, version, httpapi.WithMultiAgentFlow(flow))
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server,
		ReadHeaderTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	heartbeatStop := make(chan struct{})
	go runHeartbeat(manager, broadcaster, cfg.HeartbeatInterval(), heartbeatStop)

	go func() {
		log.Printf(ctx, "orchestratord: listening on %s", listenAddr)
		errc <- httpServer.ListenAndServe()
	}()

	err = <-errc
	log.Printf(ctx, "orchestratord: shutting down: %v", err)
	close(heartbeatStop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// runHeartbeat drives the Connection Manager's heartbeat tick and the
// Progress Broadcaster's terminal-state purge on the same interval, stopping
// when stop is closed.
func runHeartbeat(manager *transport.Manager, broadcaster *broadcast.Broadcaster, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			manager.HeartbeatTick(now)
			broadcaster.PurgeExpired()
		case <-stop:
			return
		}
	}
}
