package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
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
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pdfdeck/internal/api"
	"github.com/kalambet/pdfdeck/internal/artifact"
	"github.com/kalambet/pdfdeck/internal/config"
	"github.com/kalambet/pdfdeck/internal/convert"
	"github.com/kalambet/pdfdeck/internal/engine"
	"github.com/kalambet/pdfdeck/internal/retention"
	"github.com/kalambet/pdfdeck/internal/storage"
	"github.com/kalambet/pdfdeck/internal/validate"
	"github.com/kalambet/pdfdeck/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pdfdeck server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pdfdeck server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pdfdeck server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pdfdeck.pid")
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

// newLogger builds the process logger from the log settings.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildChain constructs the engine chain from the engine settings.
func buildChain(cfg config.Config, logger *slog.Logger) (*engine.Chain, error) {
	return engine.Build(engine.ChainConfig{
		Order:          cfg.Engines.OrderList(),
		DefaultTimeout: config.Duration(cfg.Engines.Timeout),
		Timeouts:       cfg.Engines.Timeouts(),
		SofficePath:    cfg.Engines.SofficePath,
		DPI:            float64(cfg.Engines.DPI),
		Logger:         logger,
	})
}

// openRetentionStore returns the configured entry store and a close func.
func openRetentionStore(cfg config.Config, store *storage.Store) (retention.EntryStore, func() error, error) {
	if cfg.Retention.Store != "redis" {
		return store, func() error { return nil }, nil
	}
	rs, err := retention.NewRedisStore(retention.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return rs, rs.Close, nil
}

func newScheduler(cfg config.Config, entries retention.EntryStore, logger *slog.Logger) *retention.Scheduler {
	opts := []retention.Option{retention.WithLogger(logger)}
	if d := config.Duration(cfg.Retention.Grace); d > 0 {
		opts = append(opts, retention.WithGrace(d))
	}
	if d := config.Duration(cfg.Retention.SweepInterval); d > 0 {
		opts = append(opts, retention.WithInterval(d))
	}
	return retention.NewScheduler(entries, opts...)
}

func listenAddr(cfg config.ServerConfig) string {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "pdfdeck version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	// Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("pdfdeck is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("pdfdeck is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	chain, err := buildChain(cfg, logger)
	if err != nil {
		return fmt.Errorf("building engine chain: %w", err)
	}
	statuses, err := engine.CheckAll(ctx, chain, os.Stderr)
	if err != nil {
		return err
	}

	entries, closeEntries, err := openRetentionStore(cfg, store)
	if err != nil {
		return fmt.Errorf("opening retention store: %w", err)
	}
	defer closeEntries()
	sched := newScheduler(cfg, entries, logger)

	var fetcher artifact.ObjectFetcher
	if cfg.GCS.Enabled {
		gcs, err := artifact.NewGCSFetcher(ctx, cfg.GCS.CredentialsFile)
		if err != nil {
			return fmt.Errorf("creating GCS client: %w", err)
		}
		defer gcs.Close()
		fetcher = gcs
	}

	validator := validate.New(validate.Thresholds{})
	orch := convert.New(store, chain, validator, artifact.NewResolver(fetcher), sched, convert.Config{
		WorkDir:    filepath.Join(cfg.Storage.DataDir, "work"),
		OutputTTL:  config.Duration(cfg.Retention.OutputTTL),
		UploadRoot: filepath.Join(cfg.Storage.DataDir, "uploads"),
		InputTTL:   config.Duration(cfg.Retention.InputTTL),
	})
	pool := worker.NewPool(store, orch, worker.PoolConfig{
		Convert:      cfg.Workers.Convert,
		Merge:        cfg.Workers.Merge,
		PollInterval: config.Duration(cfg.Workers.PollInterval),
		Lease:        config.Duration(cfg.Workers.Lease),
	})
	convertN, mergeN := pool.Size()

	deps := api.AppDeps{
		Store:          store,
		Retention:      sched,
		Validator:      validator,
		Engines:        statuses,
		DataDir:        cfg.Storage.DataDir,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		ConvertWorkers: convertN,
		MergeWorkers:   mergeN,
	}

	addr := listenAddr(cfg.Server)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	srv := &http.Server{
		Handler:           api.NewAppHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "pdfdeck listening on %s (%d convert, %d merge workers)\n", addr, convertN, mergeN)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
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
		printError("pdfdeck is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pdfdeck (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pdfdeck (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped (%s)", client.baseURL)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running at %s", client.baseURL)

	var caps api.Capabilities
	if r, err := client.get(ctx, "/capabilities"); err == nil && decodeJSON(r, &caps) == nil {
		printStatus("Workers", "%d convert, %d merge", caps.Workers.Convert, caps.Workers.Merge)
		for _, e := range caps.Engines {
			state := colorize(colorGreen, "ready")
			if !e.Available {
				state = colorize(colorRed, "unavailable")
			}
			printStatus("Engine "+e.Name, "%s (timeout %s)", state, e.Timeout)
		}
	}

	var st storage.Stats
	if r, err := client.get(ctx, "/stats"); err == nil && decodeJSON(r, &st) == nil {
		printStatus("Jobs", "%s", formatCounts(st.ByStatus))
		if st.Total > 0 {
			printStatus("Success rate", "%.0f%%", st.SuccessRate*100)
		}
	}
	return nil
}

// formatCounts renders per-status counts in lifecycle order.
func formatCounts(byStatus map[string]int) string {
	var parts []string
	for _, s := range []string{"pending", "processing", "completed", "failed"} {
		parts = append(parts, fmt.Sprintf("%d %s", byStatus[s], s))
	}
	return strings.Join(parts, ", ")
}
