package main

import (
	"context"
	"encoding/json"
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

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/tfyn/internal/api"
	"github.com/kalambet/tfyn/internal/board"
	"github.com/kalambet/tfyn/internal/config"
	"github.com/kalambet/tfyn/internal/engine"
	"github.com/kalambet/tfyn/internal/notebook"
	"github.com/kalambet/tfyn/internal/pipeline"
	"github.com/kalambet/tfyn/internal/profile"
	"github.com/kalambet/tfyn/internal/research"
	"github.com/kalambet/tfyn/internal/storage"
	"github.com/kalambet/tfyn/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tfyn server (foreground)",
	Long: `Run the tfyn server (foreground).

Serves the management API and the MCP endpoint, and keeps a worker
scanning the notebook on the configured interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServer(addr)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tfyn server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tfyn system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (defaults to 127.0.0.1:<server.port>)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tfyn.pid")
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

func runServer(addrOverride string) error {
	fmt.Fprintf(os.Stderr, "tfyn version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.Log.Level)

	// Management endpoints refuse to run unauthenticated.
	if cfg.Server.APIToken == "" {
		return fmt.Errorf("no API token configured; %s", config.SecretHint("server.api_token"))
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	if addrOverride != "" {
		addr = addrOverride
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://%s/health", addr)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tfyn is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tfyn is already running on %s", addr)
		return fmt.Errorf("server already running on %s", addr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Select and warm the inference backend.
	eng, err := engine.Select(ctx, engineConfig(cfg))
	if err != nil {
		return err
	}
	if err := eng.EnsureReady(ctx, os.Stderr); err != nil {
		return err
	}
	slog.Info("inference engine ready", "engine", eng.Name(), "model", eng.Model())

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	profileMgr := profile.NewManager(store)

	extractor, err := buildExtractor(eng, cfg.Extract.Strategy, slog.Default())
	if err != nil {
		return err
	}

	var taskBoard pipeline.TaskBoard
	if cfg.Board.APIKey != "" {
		taskBoard = board.NewClient(boardConfig(cfg, false), slog.Default())
	} else {
		slog.Warn("no board API key configured; extracted tasks will only be archived locally")
	}

	// Start the notebook worker when a notebook is configured. The API and
	// MCP surfaces work without one.
	var scanner api.Scanner
	if cfg.Notebook.Dir != "" {
		scanInterval, err := time.ParseDuration(cfg.Worker.ScanInterval)
		if err != nil {
			slog.Warn("invalid scan interval, using default 5m", "value", cfg.Worker.ScanInterval, "error", err)
			scanInterval = 5 * time.Minute
		}
		source := notebook.NewSource(cfg.Notebook.Dir, slog.Default())
		pipe := pipeline.NewExtraction(source, extractor, store, taskBoard, profileMgr, slog.Default())
		w := worker.NewWorker(store, source, pipe, 500*time.Millisecond, scanInterval)
		scanner = w
		go w.Run(ctx)
		slog.Info("notebook worker started", "dir", cfg.Notebook.Dir, "scan_interval", scanInterval)
	} else {
		slog.Warn("no notebook directory configured; periodic scanning disabled")
	}

	var researcher api.MCPResearcher
	if cfg.Research.APIKey != "" {
		researcher = research.NewService(research.NewClient(cfg.Research.APIKey), slog.Default())
	}

	// Build HTTP handler and server: management routes plus the MCP
	// endpoint on /mcp (Streamable HTTP transport).
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Profile:   profileMgr,
		Extractor: extractor,
		Scanner:   scanner,
		Token:     cfg.Server.APIToken,
	})
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:      store,
		Profile:    profileMgr,
		Extractor:  extractor,
		Researcher: researcher,
	})

	topRouter := chi.NewRouter()
	topRouter.Handle("/mcp", server.NewStreamableHTTPServer(mcpSrv))
	topRouter.Mount("/", appHandler)

	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tfyn listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("MCP server mounted", "path", "/mcp")

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
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
		printError("tfyn is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tfyn (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tfyn (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
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

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Engine", "%s", cfg.LLM.Engine)
	printStatus("Ollama model", "%s", cfg.Ollama.Model)
	printStatus("Groq model", "%s", cfg.Groq.Model)
	if cfg.Notebook.Dir != "" {
		printStatus("Notebook", "%s", cfg.Notebook.Dir)
	} else {
		printStatus("Notebook", "not configured")
	}

	// Show note/task counts if server is running.
	if cfg.Server.APIToken != "" && resp != nil && resp.StatusCode == 200 {
		notesResp, err := apiGet(client, serverURL+"/notes?limit=100", cfg.Server.APIToken)
		if err == nil {
			var notes []json.RawMessage
			if json.NewDecoder(notesResp.Body).Decode(&notes) == nil {
				printStatus("Notes processed", "%s", countLabel(len(notes), 100))
			}
			notesResp.Body.Close()
		}
		tasksResp, err2 := apiGet(client, serverURL+"/tasks?limit=100", cfg.Server.APIToken)
		if err2 == nil {
			var tasks []json.RawMessage
			if json.NewDecoder(tasksResp.Body).Decode(&tasks) == nil {
				printStatus("Tasks archived", "%s", countLabel(len(tasks), 100))
			}
			tasksResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
