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

	"github.com/kalambet/liftoff/internal/api"
	"github.com/kalambet/liftoff/internal/config"
	"github.com/kalambet/liftoff/internal/ollama"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the liftoff server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running liftoff server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show liftoff system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "liftoff.pid")
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

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "liftoff version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("liftoff is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("liftoff is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	if cfg.Enrichment.Backend == config.BackendOllama {
		if err := ollama.EnsureReady(ctx, ollama.New(cfg.Enrichment.OllamaURL), cfg.Enrichment.OllamaModel, os.Stderr); err != nil {
			slog.Warn("local model unavailable, enrichment will fall back", "error", err)
		}
	}

	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, HTTP API is unauthenticated")
	}

	// Publish the persisted snapshot before the first network round trip.
	if err := svc.coordinator.Load(ctx); err != nil {
		slog.Warn("loading persisted launches", "error", err)
	}
	go svc.coordinator.Run(ctx, cfg.Sync.IntervalDuration())
	go watchLowMemory(ctx, svc.loader)

	handler := api.NewHandler(api.Deps{
		Launches: svc.coordinator,
		Assets:   svc.loader,
		Runs:     svc.store,
		Token:    cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Launches: svc.coordinator, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "liftoff listening on %s\n", addr)
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
		printError("liftoff is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop liftoff (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to liftoff (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := newAPIClientFor(cfg, 2*time.Second)
	resp, err := client.get(ctx, "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.Provider.BaseURL)
	switch {
	case cfg.Enrichment.Backend == config.BackendOllama:
		state := "not running"
		if oc := ollama.New(cfg.Enrichment.OllamaURL); oc.IsRunning(ctx) {
			state = "running"
			if ok, _ := oc.HasModel(ctx, cfg.Enrichment.OllamaModel); !ok {
				state = "running, model missing"
			}
		}
		printStatus("Enrichment", "ollama %s at %s (%s)", cfg.Enrichment.OllamaModel, cfg.Enrichment.OllamaURL, state)
	case cfg.Enrichment.APIKey != "":
		printStatus("Enrichment", "%s (%s)", cfg.Enrichment.Model, cfg.Enrichment.BaseURL)
	default:
		printStatus("Enrichment", "fallback only (no API key)")
	}
	printStatus("Sync interval", "%s", cfg.Sync.Interval)

	if running {
		var list struct {
			Count int `json:"count"`
		}
		if resp, err := client.get(ctx, "/launches"); err == nil && decodeJSON(resp, &list) == nil {
			printStatus("Launches", "%d", list.Count)
		}
		var runs []runSummary
		if resp, err := client.get(ctx, "/sync-runs?limit=1"); err == nil && decodeJSON(resp, &runs) == nil && len(runs) > 0 {
			printStatus("Last sync", "%s", describeRun(runs[0]))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
