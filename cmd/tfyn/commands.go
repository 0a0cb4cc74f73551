package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/tfyn/internal/board"
	"github.com/kalambet/tfyn/internal/config"
	"github.com/kalambet/tfyn/internal/engine"
	"github.com/kalambet/tfyn/internal/extract"
	"github.com/kalambet/tfyn/internal/notebook"
	"github.com/kalambet/tfyn/internal/pipeline"
	"github.com/kalambet/tfyn/internal/profile"
	"github.com/kalambet/tfyn/internal/research"
	"github.com/kalambet/tfyn/internal/storage"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract tasks from changed notebook notes",
	Long: `Extract tasks from changed notebook notes.

Walks the notebook, sends every new or modified note through the
configured model, archives the extracted tasks, and pushes them to the
kanban board when one is configured.

Examples:
  tfyn extract
  tfyn extract --notebook ~/notes --dry-run
  tfyn extract --force --strategy default`,
	RunE: func(cmd *cobra.Command, args []string) error {
		notebookDir, _ := cmd.Flags().GetString("notebook")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")
		strategy, _ := cmd.Flags().GetString("strategy")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if notebookDir == "" {
			notebookDir = cfg.Notebook.Dir
		}
		if notebookDir == "" {
			return fmt.Errorf("no notebook directory configured; pass --notebook or set notebook.dir")
		}
		if strategy == "" {
			strategy = cfg.Extract.Strategy
		}

		logger := setupLogging(cfg.Log.Level)
		ctx := cmd.Context()

		eng, err := engine.Select(ctx, engineConfig(cfg))
		if err != nil {
			return err
		}
		if err := eng.EnsureReady(ctx, os.Stderr); err != nil {
			return err
		}
		printStep("Using %s (%s)", eng.Name(), eng.Model())

		extractor, err := buildExtractor(eng, strategy, logger)
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		var taskBoard pipeline.TaskBoard
		switch {
		case dryRun:
			taskBoard = board.NewClient(boardConfig(cfg, true), logger)
		case cfg.Board.APIKey != "":
			taskBoard = board.NewClient(boardConfig(cfg, false), logger)
		default:
			printWarning("no board API key configured; tasks will be archived locally only")
		}

		source := notebook.NewSource(notebookDir, logger)
		pipe := pipeline.NewExtraction(source, extractor, store, taskBoard, profile.NewManager(store), logger)
		pipe.SetForce(force)

		res, err := pipe.Run(ctx)
		if err != nil {
			return err
		}

		printSuccess("Scanned %d notes: %d processed, %d unchanged, %d tasks extracted",
			res.Scanned, res.Processed, res.Skipped, res.Tasks)
		if res.PushFailed > 0 {
			printWarning("%d tasks could not be pushed to the board", res.PushFailed)
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d notes failed; they will be retried next run", res.Failed)
		}
		return nil
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Research confirmed board tasks and post the findings back",
	Long: `Research confirmed board tasks and post the findings back.

Fetches every task sitting in the board's confirmed bucket, runs its
stored search queries against the research backend, appends the
assembled findings to the task, and moves it to the done bucket.

With --dry-run the research runs but the board is left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Board.APIKey == "" {
			return fmt.Errorf("no board API key configured; %s", config.SecretHint("board.api_key"))
		}
		if cfg.Research.APIKey == "" {
			return fmt.Errorf("no research API key configured; %s", config.SecretHint("research.api_key"))
		}

		logger := setupLogging(cfg.Log.Level)
		ctx := cmd.Context()

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		boardClient := board.NewClient(boardConfig(cfg, dryRun), logger)
		researcher := research.NewService(research.NewClient(cfg.Research.APIKey), logger)

		pipe := pipeline.NewExecution(store, boardClient, researcher, logger)
		res, err := pipe.Run(ctx)
		if err != nil {
			return err
		}

		if res.Confirmed == 0 {
			printSuccess("No confirmed tasks waiting")
			return nil
		}
		printSuccess("Executed %d of %d confirmed tasks", res.Executed, res.Confirmed)
		if res.Failed > 0 {
			return fmt.Errorf("%d tasks failed", res.Failed)
		}
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List archived tasks",
	Long: `List archived tasks.

Examples:
  tfyn tasks
  tfyn tasks --status done --limit 10
  tfyn tasks --source notes/projects/garden.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ListTaskRecords(source, status, limit)
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}
		for _, rec := range records {
			line := fmt.Sprintf("%s  %-9s  %s  %s",
				colorize(colorCyan, shortID(rec.ID)),
				rec.Status,
				rec.CreatedAt.Format("2006-01-02"),
				truncate(rec.Title, 60))
			if rec.BoardTaskID != 0 {
				line += fmt.Sprintf("  (board #%d)", rec.BoardTaskID)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Ask the running tfyn server to scan the notebook now",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.post(cmd.Context(), "/scan", nil)
		if err != nil {
			return err
		}
		var out struct {
			Enqueued int `json:"enqueued"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Scan triggered: %d notes enqueued", out.Enqueued)
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or edit the owner profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := profile.NewManager(store).GetProfile()
		if err != nil {
			return fmt.Errorf("loading profile: %w", err)
		}
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one profile field",
	Long: `Set one profile field.

Keys use dot notation (identity.name, identity.role, research.focus,
research.instructions). The list keys interests and priorities take a
JSON array.

Examples:
  tfyn profile set identity.name "Petya"
  tfyn profile set interests '["local-first ai","sqlite"]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		key := args[0]
		value, err := parseProfileValue(args[1])
		if err != nil {
			return fmt.Errorf("value for %q: %w", key, err)
		}
		if err := profile.NewManager(store).SetField(key, value); err != nil {
			return err
		}
		printSuccess("Profile updated: %s", key)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		val, err := config.GetKey(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist one configuration value",
	Long: `Persist one configuration value.

Run "tfyn config list" for the available keys. Secrets (API keys, the
management token) are never stored in the config backend; set them via
environment variables or the platform secret store.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, ki := range config.ShowAll(cfg) {
			printStatus(ki.Key, "%s", ki.Value)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().String("notebook", "", "notebook directory (defaults to notebook.dir)")
	extractCmd.Flags().Bool("dry-run", false, "extract without touching the board")
	extractCmd.Flags().Bool("force", false, "re-extract every note, changed or not")
	extractCmd.Flags().String("strategy", "", "extraction strategy: research or default")

	executeCmd.Flags().Bool("dry-run", false, "research without updating the board")

	tasksCmd.Flags().String("status", "", "filter by status (extracted, pushed, done)")
	tasksCmd.Flags().String("source", "", "filter by source note path")
	tasksCmd.Flags().Int("limit", 20, "maximum number of tasks to list")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
}

// setupLogging installs the process-wide slog default. Commands that run
// pipelines locally call it so package logging goes through one handler.
func setupLogging(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		Backend:       cfg.LLM.Engine,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OllamaModel:   cfg.Ollama.Model,
		GroqAPIKey:    cfg.Groq.APIKey,
		GroqModel:     cfg.Groq.Model,
	}
}

func boardConfig(cfg config.Config, dryRun bool) board.Config {
	return board.Config{
		BaseURL:           cfg.Board.BaseURL,
		APIKey:            cfg.Board.APIKey,
		ProjectID:         int64(cfg.Board.ProjectID),
		ViewID:            int64(cfg.Board.ViewID),
		ConfirmedBucketID: int64(cfg.Board.ConfirmedBucketID),
		DoneBucketID:      int64(cfg.Board.DoneBucketID),
		DryRun:            dryRun,
	}
}

// buildExtractor maps a strategy name to a wired extractor. "research"
// wants prose around a fenced block, so its adapter leaves JSON mode off.
func buildExtractor(eng engine.Engine, strategy string, logger *slog.Logger) (extract.TaskExtractor, error) {
	switch strategy {
	case "research", "":
		return extract.NewResearch(engine.ChatAdapter(eng, false), extract.Options{Logger: logger}), nil
	case "default":
		return extract.New(engine.ChatAdapter(eng, true), extract.Options{Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q (valid: research, default)", strategy)
	}
}

// parseProfileValue turns CLI input into a profile field value. A leading
// bracket means a JSON array (the list keys), anything else stays a string.
func parseProfileValue(raw string) (interface{}, error) {
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var list []interface{}
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("parsing value as JSON array: %w", err)
		}
		return list, nil
	}
	return raw, nil
}

func openStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

