package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TFYN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "TFYN_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "notebook.dir", typ: kString, env: "TFYN_NOTEBOOK_DIR",
		apply:   func(cfg *Config, v any) { cfg.Notebook.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Notebook.Dir },
	},
	{
		key: "llm.engine", typ: kString, env: "TFYN_LLM_ENGINE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Engine = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Engine },
	},
	{
		key: "ollama.base_url", typ: kString, env: "TFYN_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "TFYN_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "groq.api_key", typ: kString, env: "TFYN_GROQ_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Groq.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Groq.APIKey },
	},
	{
		key: "groq.model", typ: kString, env: "TFYN_GROQ_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Groq.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Groq.Model },
	},
	{
		key: "board.base_url", typ: kString, env: "TFYN_BOARD_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Board.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Board.BaseURL },
	},
	{
		key: "board.api_key", typ: kString, env: "TFYN_BOARD_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Board.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Board.APIKey },
	},
	{
		key: "board.project_id", typ: kInt, env: "TFYN_BOARD_PROJECT_ID",
		apply:   func(cfg *Config, v any) { cfg.Board.ProjectID = v.(int) },
		extract: func(cfg Config) any { return cfg.Board.ProjectID },
	},
	{
		key: "board.view_id", typ: kInt, env: "TFYN_BOARD_VIEW_ID",
		apply:   func(cfg *Config, v any) { cfg.Board.ViewID = v.(int) },
		extract: func(cfg Config) any { return cfg.Board.ViewID },
	},
	{
		key: "board.confirmed_bucket_id", typ: kInt, env: "TFYN_BOARD_CONFIRMED_BUCKET_ID",
		apply:   func(cfg *Config, v any) { cfg.Board.ConfirmedBucketID = v.(int) },
		extract: func(cfg Config) any { return cfg.Board.ConfirmedBucketID },
	},
	{
		key: "board.done_bucket_id", typ: kInt, env: "TFYN_BOARD_DONE_BUCKET_ID",
		apply:   func(cfg *Config, v any) { cfg.Board.DoneBucketID = v.(int) },
		extract: func(cfg Config) any { return cfg.Board.DoneBucketID },
	},
	{
		key: "research.api_key", typ: kString, env: "TFYN_RESEARCH_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Research.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Research.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TFYN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "extract.strategy", typ: kString, env: "TFYN_EXTRACT_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Extract.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.Strategy },
	},
	{
		key: "worker.scan_interval", typ: kString, env: "TFYN_WORKER_SCAN_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.ScanInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.ScanInterval },
	},
	{
		key: "log.level", typ: kString, env: "TFYN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
