package config

import (
	"strings"
)

type Config struct {
	Server   ServerConfig
	Notebook NotebookConfig
	LLM      LLMConfig
	Ollama   OllamaConfig
	Groq     GroqConfig
	Board    BoardConfig
	Research ResearchConfig
	Storage  StorageConfig
	Extract  ExtractConfig
	Worker   WorkerConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type NotebookConfig struct {
	Dir string
}

type LLMConfig struct {
	Engine string // "auto", "ollama", or "groq"
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type GroqConfig struct {
	APIKey string
	Model  string
}

type BoardConfig struct {
	BaseURL           string
	APIKey            string
	ProjectID         int
	ViewID            int
	ConfirmedBucketID int
	DoneBucketID      int
}

type ResearchConfig struct {
	APIKey string
}

type StorageConfig struct {
	DataDir string
}

type ExtractConfig struct {
	Strategy string
}

type WorkerConfig struct {
	ScanInterval string // Go duration string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		LLM: LLMConfig{
			Engine: "auto",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1:8b",
		},
		Groq: GroqConfig{
			Model: "llama-3.3-70b-versatile",
		},
		Board: BoardConfig{
			BaseURL:           "http://localhost:3456",
			ProjectID:         1,
			ViewID:            4,
			ConfirmedBucketID: 4,
			DoneBucketID:      5,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Extract: ExtractConfig{
			Strategy: "research",
		},
		Worker: WorkerConfig{
			ScanInterval: "5m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.tfyn.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/tfyn/config.json
// and secrets fall back to a secrets file under $XDG_DATA_HOME/tfyn.
//
// Environment variables (TFYN_*) override backend values on all platforms.
// No key is required at load time; commands validate the secrets they need.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets still empty after env get one keychain lookup each.
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(cfg).(string); v != "" {
			continue
		}
		if key, err := kc.Get("tfyn", secretAccount(s.key)); err == nil && key != "" {
			s.apply(&cfg, key)
		}
	}

	return cfg, nil
}

// SecretHint names where a missing secret key can be provided. Commands
// append it to their own "missing X" errors.
func SecretHint(key string) string {
	for _, s := range specs {
		if s.key == key && s.secret {
			return "set it via environment variable " + s.env + apiKeyHint(secretAccount(key))
		}
	}
	return ""
}

func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	return keychainLookup(service, account)
}
