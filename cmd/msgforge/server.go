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

	"github.com/go-playground/validator/v10"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kalambet/msgforge/internal/actions"
	"github.com/kalambet/msgforge/internal/api"
	"github.com/kalambet/msgforge/internal/composer"
	"github.com/kalambet/msgforge/internal/config"
	"github.com/kalambet/msgforge/internal/discovery"
	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/generation"
	"github.com/kalambet/msgforge/internal/jobs"
	"github.com/kalambet/msgforge/internal/ratelimit"
	"github.com/kalambet/msgforge/internal/retry"
	"github.com/kalambet/msgforge/internal/scoring"
	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/tagging"
	"github.com/kalambet/msgforge/internal/templates"
	"github.com/kalambet/msgforge/internal/versions"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the msgforge server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running msgforge server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show msgforge system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "msgforge.pid")
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

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func retryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		Multiplier: 2,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Warn("retrying generator call", "attempt", attempt, "delay", delay, "error", err)
		},
	}
}

// newLimiter returns the shared Redis limiter when an address is configured,
// otherwise an in-process one. The returned func releases its resources.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, func(), error) {
	if cfg.RedisAddr == "" {
		return ratelimit.NewSlidingWindow(cfg.MaxRequests, cfg.Window), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return ratelimit.NewRedisWindow(client, "msgforge:generation", cfg.MaxRequests, cfg.Window), func() { client.Close() }, nil
}

// services holds every long-lived component of a running server.
type services struct {
	store     *storage.Store
	engine    engine.Engine
	templates *templates.Loader
	jobs      *jobs.Manager
	worker    *jobs.Worker
	versions  *versions.Manager
	actions   *actions.Runner
	schedules *jobs.ScheduleRunner
	tagger    *tagging.Tagger
	scheduler *jobs.Scheduler
}

func buildServices(cfg config.Config, store *storage.Store, eng engine.Engine, limiter ratelimit.Limiter) *services {
	policy := retryPolicy(cfg)
	tmpl := templates.NewLoader(cfg.Templates.Dir)
	guarded := engine.NewGuarded(eng, limiter, policy)
	scorer := scoring.NewDefault(guarded, cfg.Scoring.Timeout, scoring.DefaultPersonas)
	orch := generation.New(store, eng, limiter, scorer, tmpl, composer.New(0), generation.Config{
		BaseTemperature: cfg.Generation.BaseTemperature,
		VariantsPerCell: cfg.Generation.VariantsPerCell,
		ReferenceTopK:   cfg.Generation.ReferenceTopK,
		Retry:           policy,
	})

	svc := &services{
		store:     store,
		engine:    eng,
		templates: tmpl,
		jobs:      jobs.NewManager(store, tmpl),
		worker:    jobs.NewWorker(store, orch, cfg.Jobs.PollInterval),
		versions:  versions.NewManager(store),
		actions:   actions.NewRunner(store),
		tagger:    tagging.New(guarded, cfg.Scoring.Timeout),
	}
	svc.actions.Register(actions.PolishName, actions.NewPolish(guarded, svc.versions))

	svc.scheduler = jobs.NewScheduler(jobs.Task{
		Name:       "requeue-stale-jobs",
		Interval:   max(cfg.Jobs.StaleAfter/2, time.Minute),
		RunAtStart: true,
		Fn: func(ctx context.Context) error {
			_, err := svc.jobs.RecoverStale(cfg.Jobs.StaleAfter)
			return err
		},
	})
	if cfg.Discovery.Endpoint != "" {
		client := discovery.NewClient(cfg.Discovery.Endpoint, cfg.Discovery.Token, policy)
		svc.schedules = jobs.NewScheduleRunner(store, client).WithTagger(svc.tagger)
		svc.scheduler.Add(jobs.Task{
			Name:     "discovery",
			Interval: cfg.Discovery.PollInterval,
			Fn: func(ctx context.Context) error {
				sum, err := svc.schedules.RunDue(ctx)
				if err != nil {
					return err
				}
				if sum.Processed > 0 {
					slog.Info("discovery run finished", "processed", sum.Processed, "discovered", sum.Discovered, "errors", len(sum.Errors))
				}
				return nil
			},
		})
	}
	return svc
}

func (s *services) handler(cfg config.Config) http.Handler {
	return api.NewAppHandler(api.AppDeps{
		Store:     s.store,
		Jobs:      s.jobs,
		Versions:  s.versions,
		Actions:   s.actions,
		Schedules: s.schedules,
		Templates: s.templates,
		Tagger:    s.tagger,
		Validate:  validator.New(),
		Token:     cfg.Server.APIToken,
		Engine:    s.engine.Name(),
	})
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "msgforge version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("msgforge is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("msgforge is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(engine.ProviderConfig{
		Provider:         cfg.Engine.Provider,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OllamaModel:      cfg.Ollama.Model,
		OpenRouterAPIKey: cfg.Proxy.OpenRouterAPIKey,
		OpenRouterModel:  cfg.Proxy.Model,
	})
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr); err != nil {
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

	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeLimiter()

	svc := buildServices(cfg, store, eng, limiter)
	if _, err := svc.actions.RecoverStale(0); err != nil {
		slog.Error("recovering stale actions", "error", err)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		svc.worker.Run(workerCtx)
		close(workerDone)
	}()
	svc.scheduler.Start(ctx)
	defer svc.scheduler.Stop()

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Jobs:      svc.jobs,
			Versions:  svc.versions,
			Templates: svc.templates,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.handler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("msgforge listening", "addr", addr, "engine", eng.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.actions.Shutdown(shutdownCtx); err != nil {
		slog.Warn("actions did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}

	// Stop the worker before the deferred store.Close.
	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		slog.Warn("worker did not stop in time")
	}
	return serveErr
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
		printError("msgforge is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop msgforge (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to msgforge (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	var health struct {
		Status string `json:"status"`
		Engine string `json:"engine"`
	}
	if err := client.call(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Engine", "%s", health.Engine)
		for _, st := range []string{storage.JobPending, storage.JobRunning, storage.JobFailed} {
			var list []storage.GenerationJob
			if err := client.call(ctx, http.MethodGet, "/jobs?limit=100&status="+st, nil, &list); err == nil {
				printStatus("Jobs "+st, "%s", countLabel(len(list), 100))
			}
		}
	}

	printStatus("Provider", "%s", cfg.Engine.Provider)
	if cfg.RateLimit.RedisAddr != "" {
		printStatus("Rate limit", "%d per %s (redis %s)", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, cfg.RateLimit.RedisAddr)
	} else {
		printStatus("Rate limit", "%d per %s", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}
	if cfg.Discovery.Endpoint != "" {
		printStatus("Discovery", "%s every %s", cfg.Discovery.Endpoint, cfg.Discovery.PollInterval)
	} else {
		printStatus("Discovery", "disabled")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
