package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Engine       EngineConfig       `yaml:"engine"`
	Recognizer   RecognizerConfig   `yaml:"recognizer"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	History      HistoryConfig      `yaml:"history"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// EngineConfig describes the synthesis engine the runtime drives.
type EngineConfig struct {
	Mode                string `yaml:"mode"` // mock, exec
	Command             string `yaml:"command"`
	SampleRate          int    `yaml:"sample_rate"`
	ReferenceSampleRate int    `yaml:"reference_sample_rate"`
	SupportsInstruct    bool   `yaml:"supports_instruct"`
	ChunkDurationMS     int    `yaml:"chunk_duration_ms"`
}

type RecognizerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type OrchestratorConfig struct {
	MaxConcurrent    int `yaml:"max_concurrent"`
	RequestTimeoutMS int `yaml:"request_timeout_ms"` // 0 disables the timeout
	ReferenceCache   int `yaml:"reference_cache"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxa-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Mode:                "mock",
			SampleRate:          24000,
			ReferenceSampleRate: 16000,
			SupportsInstruct:    false,
			ChunkDurationMS:     400,
		},
		Recognizer: RecognizerConfig{
			Enabled: false,
			Mode:    "mock",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:  2,
			ReferenceCache: 16,
		},
		History: HistoryConfig{
			Path:          "./data/voxa-history.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "VOXA_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "VOXA_ENGINE_COMMAND")
	overrideInt(&cfg.Engine.SampleRate, "VOXA_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.ReferenceSampleRate, "VOXA_ENGINE_REFERENCE_SAMPLE_RATE")
	overrideBool(&cfg.Engine.SupportsInstruct, "VOXA_ENGINE_SUPPORTS_INSTRUCT")
	overrideInt(&cfg.Engine.ChunkDurationMS, "VOXA_ENGINE_CHUNK_DURATION_MS")
	overrideBool(&cfg.Recognizer.Enabled, "VOXA_RECOGNIZER_ENABLED")
	overrideString(&cfg.Recognizer.Mode, "VOXA_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "VOXA_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.ModelPath, "VOXA_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Language, "VOXA_RECOGNIZER_LANGUAGE")
	overrideInt(&cfg.Orchestrator.MaxConcurrent, "VOXA_ORCHESTRATOR_MAX_CONCURRENT")
	overrideInt(&cfg.Orchestrator.RequestTimeoutMS, "VOXA_ORCHESTRATOR_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Orchestrator.ReferenceCache, "VOXA_ORCHESTRATOR_REFERENCE_CACHE")
	overrideString(&cfg.History.Path, "VOXA_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "VOXA_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "VOXA_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "VOXA_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "VOXA_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Engine.ReferenceSampleRate <= 0 {
		return errors.New("engine.reference_sample_rate must be positive")
	}
	if cfg.Recognizer.Enabled {
		switch cfg.Recognizer.Mode {
		case "mock", "exec":
		default:
			return errors.New("recognizer.mode must be one of mock|exec")
		}
		if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
			return errors.New("recognizer.command must be set when mode=exec")
		}
	}
	if cfg.Orchestrator.MaxConcurrent <= 0 {
		return errors.New("orchestrator.max_concurrent must be >= 1")
	}
	if cfg.Orchestrator.RequestTimeoutMS < 0 {
		return errors.New("orchestrator.request_timeout_ms must be >= 0")
	}
	if cfg.Orchestrator.ReferenceCache < 0 {
		return errors.New("orchestrator.reference_cache must be >= 0")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
