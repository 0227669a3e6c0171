package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Index     IndexConfig     `koanf:"index"`
	Runtime   RuntimeConfig   `koanf:"runtime"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type IndexConfig struct {
	QdrantAddr       string `koanf:"qdrant_addr"`
	Collection       string `koanf:"collection"`
	VectorSize       uint64 `koanf:"vector_size"`
	BatchSize        int    `koanf:"batch_size"`
	SyncMarkerTTLSec int    `koanf:"sync_marker_ttl_sec"`
	EmbedderBaseURL  string `koanf:"embedder_base_url"`
	EmbedderModel    string `koanf:"embedder_model"`
}

type RuntimeConfig struct {
	DisableRetrieveTools bool   `koanf:"disable_retrieve_tools"`
	RetrievalLimit       int    `koanf:"retrieval_limit"`
	MaxSpawnTurns        int    `koanf:"max_spawn_turns"`
	PlanAuditPath        string `koanf:"plan_audit_path"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes one stdio MCP server whose tools become a
// catalog category.
type MCPServerConfig struct {
	Name    string   `koanf:"name"`
	Space   string   `koanf:"space"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Load reads configuration from an optional YAML file and PRAXIS_ env vars,
// layered over defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("index.qdrant_addr", "localhost:6334")
	k.Set("index.collection", "praxis_tools")
	k.Set("index.vector_size", 768)
	k.Set("index.batch_size", 50)
	k.Set("index.sync_marker_ttl_sec", 300)
	k.Set("index.embedder_base_url", "http://localhost:11434")
	k.Set("index.embedder_model", "nomic-embed-text")

	k.Set("runtime.disable_retrieve_tools", false)
	k.Set("runtime.retrieval_limit", 5)
	k.Set("runtime.max_spawn_turns", 5)

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (PRAXIS_INDEX_BATCH_SIZE -> index.batch_size)
	if err := k.Load(env.Provider("PRAXIS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "PRAXIS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
