package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot.
type Config struct {
	General       GeneralConfig       `json:"general" yaml:"general"`
	Server        ServerConfig        `json:"server" yaml:"server"`
	WhatsApp      WhatsAppConfig      `json:"whatsapp" yaml:"whatsapp"`
	Relay         RelayConfig         `json:"relay" yaml:"relay"`
	Assistant     AssistantConfig     `json:"assistant" yaml:"assistant"`
	Transcription TranscriptionConfig `json:"transcription" yaml:"transcription"`
	Media         MediaConfig         `json:"media" yaml:"media"`
	Memory        MemoryConfig        `json:"memory" yaml:"memory"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"` // "text" | "json"
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

// ServerConfig configures the inbound webhook HTTP server.
type ServerConfig struct {
	Host               string `json:"host" yaml:"host"`
	Port               int    `json:"port" yaml:"port"`
	WebhookPath        string `json:"webhookPath" yaml:"webhookPath"`
	Secret             string `json:"secret,omitempty" yaml:"secret,omitempty"` // optional HMAC secret (X-Signature-256)
	MaxBodyBytes       int64  `json:"maxBodyBytes" yaml:"maxBodyBytes"`
	ReadTimeoutSeconds int    `json:"readTimeoutSeconds" yaml:"readTimeoutSeconds"`
}

// WhatsAppConfig identifies who the bot answers to and how it is addressed.
type WhatsAppConfig struct {
	SelfNumber   string `json:"selfNumber" yaml:"selfNumber"`     // user part of the operator's JID
	TriggerToken string `json:"triggerToken" yaml:"triggerToken"` // mention that addresses the assistant in groups
}

// RelayConfig configures the outbound messaging relay.
type RelayConfig struct {
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIHost        string `json:"apiHost" yaml:"apiHost"`
	CitationMarker string `json:"citationMarker" yaml:"citationMarker"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// AssistantConfig configures the assistant backend and the run poller.
type AssistantConfig struct {
	APIBase                string `json:"apiBase" yaml:"apiBase"`
	APIKey                 string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	AssistantID            string `json:"assistantId" yaml:"assistantId"`
	PunctuationAssistantID string `json:"punctuationAssistantId" yaml:"punctuationAssistantId"`
	PunctuationKey         string `json:"punctuationKey" yaml:"punctuationKey"`
	PollIntervalMs         int    `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	RunTimeoutSeconds      int    `json:"runTimeoutSeconds" yaml:"runTimeoutSeconds"`
	RateLimitPerMinute     int    `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	RateLimitBurst         int    `json:"rateLimitBurst" yaml:"rateLimitBurst"`
}

// TranscriptionConfig configures the Whisper-compatible transcription API.
type TranscriptionConfig struct {
	APIBase        string `json:"apiBase" yaml:"apiBase"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model          string `json:"model" yaml:"model"`
	Language       string `json:"language,omitempty" yaml:"language,omitempty"`
	Task           string `json:"task" yaml:"task"` // "transcribe" | "translate"
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// MediaConfig configures media download and decryption.
type MediaConfig struct {
	TempDir             string `json:"tempDir" yaml:"tempDir"`
	MaxBytes            int64  `json:"maxBytes" yaml:"maxBytes"`
	FetchTimeoutSeconds int    `json:"fetchTimeoutSeconds" yaml:"fetchTimeoutSeconds"`
	VerifyMAC           bool   `json:"verifyMac" yaml:"verifyMac"`
}

// MemoryConfig configures the conversation thread store.
type MemoryConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // "sqlite" | "postgres" | "memory"
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	PostgresDSN   string `json:"postgresDsn,omitempty" yaml:"postgresDsn,omitempty"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"` // 0 = keep forever
	PruneSchedule string `json:"pruneSchedule" yaml:"pruneSchedule"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file (chosen by extension), expands
// ${VAR} references, overlays it on Defaults and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Media.TempDir = ExpandPath(cfg.Media.TempDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Credentials are not
// required here; commands that talk to remote services check their own.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}
	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Assistant.PollIntervalMs < 50 {
		errs = append(errs, "assistant.pollIntervalMs must be >= 50")
	}
	if cfg.Assistant.RunTimeoutSeconds < 1 {
		errs = append(errs, "assistant.runTimeoutSeconds must be >= 1")
	}
	if cfg.Assistant.PunctuationKey == "" {
		errs = append(errs, "assistant.punctuationKey must not be empty")
	}
	if cfg.Assistant.RateLimitPerMinute < 0 {
		errs = append(errs, "assistant.rateLimitPerMinute must be >= 0")
	}

	switch cfg.Transcription.Task {
	case "transcribe", "translate":
	default:
		errs = append(errs, "transcription.task must be one of: transcribe, translate")
	}

	if cfg.Media.MaxBytes < 1 {
		errs = append(errs, "media.maxBytes must be >= 1")
	}
	if cfg.Media.FetchTimeoutSeconds < 1 {
		errs = append(errs, "media.fetchTimeoutSeconds must be >= 1")
	}
	if cfg.Relay.TimeoutSeconds < 1 {
		errs = append(errs, "relay.timeoutSeconds must be >= 1")
	}

	switch cfg.Memory.Backend {
	case "sqlite":
		if cfg.Memory.DBPath == "" {
			errs = append(errs, "memory.dbPath is required for the sqlite backend")
		}
	case "postgres":
		if cfg.Memory.PostgresDSN == "" {
			errs = append(errs, "memory.postgresDsn is required for the postgres backend")
		}
	case "memory":
	default:
		errs = append(errs, "memory.backend must be one of: sqlite, postgres, memory")
	}
	if cfg.Memory.RetentionDays < 0 {
		errs = append(errs, "memory.retentionDays must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
