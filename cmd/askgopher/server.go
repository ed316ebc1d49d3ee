package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/askgopher/askgopher/internal/api"
	"github.com/askgopher/askgopher/internal/cache"
	"github.com/askgopher/askgopher/internal/completion"
	"github.com/askgopher/askgopher/internal/composer"
	"github.com/askgopher/askgopher/internal/config"
	"github.com/askgopher/askgopher/internal/evidence"
	"github.com/askgopher/askgopher/internal/ingest"
	"github.com/askgopher/askgopher/internal/memory"
	"github.com/askgopher/askgopher/internal/ollama"
	"github.com/askgopher/askgopher/internal/pipeline"
	"github.com/askgopher/askgopher/internal/quota"
	"github.com/askgopher/askgopher/internal/retrieval"
	"github.com/askgopher/askgopher/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the askgopher server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running askgopher server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show askgopher system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "askgopher.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevelFrom(name string) slog.Level {
	switch {
	case strings.EqualFold(name, "debug"):
		return slog.LevelDebug
	case strings.EqualFold(name, "warn"):
		return slog.LevelWarn
	case strings.EqualFold(name, "error"):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "askgopher version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevelFrom(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	// Refuse to start a second instance on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("askgopher is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("askgopher is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check embedding backend readiness.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Retrieval stack.
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	index := retrieval.NewIndex()
	retriever := retrieval.NewRetriever(embedder, index, cfg.Retrieval.TopK, cfg.Retrieval.ContextBudget, logger)
	refresher := ingest.NewRefresher(store, embedder, index, cfg.Retrieval.ChunkSize, logger)
	if err := refresher.Reload(); err != nil {
		return fmt.Errorf("loading search index: %w", err)
	}

	// Question pipeline.
	quotaEnforcer := quota.New(cfg.Quota.DailyCap, cfg.ElevatedUserList())
	memStore := memory.NewStore(cfg.Memory.MaxTurns, cfg.Memory.TokenBudget, time.Duration(cfg.Memory.IdleExpiryMinutes)*time.Minute)
	answerCache := cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLMinutes)*time.Minute)
	completer := completion.New(cfg.Upstream.APIKey, cfg.Upstream.Model, cfg.Upstream.RequestsPerSecond,
		time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second)

	var finder pipeline.EvidenceFinder
	if cfg.Evidence.Enabled {
		finder = evidence.NewFinder(cfg.Evidence.Repo, cfg.Evidence.Token, logger)
		logger.Info("evidence lookups enabled", "repo", cfg.Evidence.Repo)
	}

	orchestrator := pipeline.New(pipeline.Options{
		Quota:          quotaEnforcer,
		Memory:         memStore,
		Cache:          answerCache,
		Index:          index,
		Retriever:      retriever,
		Evidence:       finder,
		Composer:       composer.New(0),
		Completer:      completer,
		Jobs:           store,
		Logger:         logger,
		MaxQuestionLen: cfg.Transport.MaxQuestionLen,
		MaxMessageLen:  cfg.Transport.MaxMessageLen,
	})

	// Background maintenance.
	worker := ingest.NewWorker(store, refresher, 500*time.Millisecond, logger)
	go worker.Run(ctx)
	go answerCache.RunSweeper(ctx, time.Minute)
	go memStore.RunSweeper(ctx, time.Minute)

	handler := api.NewHandler(api.Deps{
		Asker:     orchestrator,
		Store:     store,
		Refresher: refresher,
		Token:     cfg.Server.Token,
		Logger:    logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Asker: orchestrator,
		Store: store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
	}()
	logger.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "askgopher listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("askgopher is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop askgopher (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to askgopher (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Upstream model", "%s", cfg.Upstream.Model)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Daily cap", "%d questions", cfg.Quota.DailyCap)
	if cfg.Evidence.Enabled {
		printStatus("Evidence repo", "%s", cfg.Evidence.Repo)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
