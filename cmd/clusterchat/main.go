// clusterchat is a retrieval-augmented chat service for compute-cluster
// documentation: sessions over HTTP, a tool-calling orchestration loop, and
// a durable interaction log.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clusterchat/clusterchat/internal/config"
	"github.com/clusterchat/clusterchat/internal/orchestrator"
	"github.com/clusterchat/clusterchat/internal/server"
	"github.com/clusterchat/clusterchat/pkg/audit"
	"github.com/clusterchat/clusterchat/pkg/llm"
	"github.com/clusterchat/clusterchat/pkg/observability"
	"github.com/clusterchat/clusterchat/pkg/retrieval"
	"github.com/clusterchat/clusterchat/pkg/session"
	"github.com/clusterchat/clusterchat/pkg/tools"
)

// version is set via ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "clusterchat",
		Short:        "Retrieval-augmented chat service for cluster documentation",
		SilenceUsage: true,
	}

	var configFile string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configFile)
		},
	}
	serveCmd.Flags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clusterchat %s\n", version)
		},
	}

	root.AddCommand(serveCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Printf("Starting clusterchat %s on %s", version, cfg.ListenAddr)

	observability.InitMetrics()
	shutdownTracing, err := observability.InitTracing("clusterchat")
	if err != nil {
		return err
	}

	backend, redisBackend, err := newSessionBackend(cfg)
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(backend, session.Config{
		TTL:         cfg.Session.TTL.Std(),
		Secret:      []byte(cfg.Session.Secret),
		NonBlocking: cfg.Session.NonBlocking,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	recorder, err := audit.OpenSQLite(cfg.Audit.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = recorder.Close() }()

	gateway, err := retrieval.NewGateway(retrieval.Config{
		Endpoint: cfg.Retrieval.Endpoint,
		Timeout:  cfg.Retrieval.Timeout.Std(),
	})
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewSearchDocs(gateway, recorder, cfg.Retrieval.TopK)); err != nil {
		return err
	}

	model := llm.NewClient(llm.Config{
		Endpoint: cfg.Model.Endpoint,
		APIKey:   cfg.Model.APIKey,
		Timeout:  cfg.Model.Timeout.Std(),
	})

	orch := orchestrator.New(model, registry, recorder, orchestrator.Config{
		Model:              cfg.Model.Name,
		SystemPrompt:       cfg.Chat.SystemPrompt,
		Temperature:        cfg.Model.Temperature,
		TopP:               cfg.Model.TopP,
		MaxTokens:          cfg.Model.MaxTokens,
		IterationCap:       cfg.Chat.IterationCap,
		HistoryTokenBudget: cfg.Chat.HistoryTokenBudget,
	})

	health := observability.NewHealthChecker()
	health.Register(observability.Check{Name: "audit", Run: recorder.Ping, Critical: true})
	if redisBackend != nil {
		health.Register(observability.Check{Name: "redis", Run: redisBackend.Ping, Critical: true})
	}
	health.Register(observability.Check{Name: "retrieval", Run: gateway.Ping})

	limiter := server.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	srv := server.New(sessions, orch, health, limiter, server.Config{
		ListenAddr:    cfg.ListenAddr,
		StreamDefault: cfg.Chat.StreamDefault,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	log.Println("Stopped")
	return nil
}

// newSessionBackend picks redis when configured, the in-process store
// otherwise. The redis backend is returned separately for health checks.
func newSessionBackend(cfg *config.Config) (session.StorageBackend, *session.RedisBackend, error) {
	if cfg.Session.RedisAddr == "" {
		log.Println("No redis_addr configured; using in-memory session store")
		return session.NewMemoryBackend(), nil, nil
	}

	backend, err := session.NewRedisBackend(session.RedisConfig{
		Addr: cfg.Session.RedisAddr,
		TTL:  cfg.Session.TTL.Std(),
	})
	if err != nil {
		return nil, nil, err
	}
	return backend, backend, nil
}
