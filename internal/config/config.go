package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime settings for the agent DAO service.
type Config struct {
	Addr         string
	TimeUnit     time.Duration
	Seed         int64
	SeedDemoData bool

	DebugToken      string
	AllowDebugToken bool
	JWTKeysFile     string
	WriteScope      string

	ChainRPCURL  string
	ChainRetries int

	AgentLLMURL   string
	AgentLLMKey   string
	AgentLLMModel string

	DatabaseURL       string
	KafkaBrokers      []string
	KafkaTopic        string
	S3Bucket          string
	S3Prefix          string
	StreamBuffer      int
	StreamConcurrency int
}

const (
	defaultAddr              = ":8050"
	defaultTimeUnitMS        = 1000
	defaultWriteScope        = "dao:write"
	defaultKafkaTopic        = "agentdao.ledger"
	defaultStreamBuffer      = 256
	defaultStreamConcurrency = 4
	defaultChainRetries      = 2
	defaultAgentLLMModel     = "mistral-small-latest"
)

// Load reads environment variables and returns a Config.
func Load() (Config, error) {
	cfg := Config{
		Addr:              getEnv("AGENTDAO_ADDR", defaultAddr),
		TimeUnit:          time.Duration(getInt("AGENTDAO_TIME_UNIT_MS", defaultTimeUnitMS)) * time.Millisecond,
		Seed:              getInt64("AGENTDAO_SEED", 0),
		SeedDemoData:      getBool("AGENTDAO_SEED_DEMO_DATA", true),
		DebugToken:        os.Getenv("AGENTDAO_DEBUG_TOKEN"),
		AllowDebugToken:   getBool("AGENTDAO_ALLOW_DEBUG_TOKEN", false),
		JWTKeysFile:       os.Getenv("AGENTDAO_JWT_KEYS_FILE"),
		WriteScope:        getEnv("AGENTDAO_WRITE_SCOPE", defaultWriteScope),
		ChainRPCURL:       os.Getenv("AGENTDAO_CHAIN_RPC_URL"),
		ChainRetries:      getInt("AGENTDAO_CHAIN_RETRIES", defaultChainRetries),
		AgentLLMURL:       os.Getenv("AGENTDAO_AGENT_LLM_URL"),
		AgentLLMKey:       firstNonEmpty(os.Getenv("AGENTDAO_AGENT_LLM_KEY"), os.Getenv("MISTRAL_API_KEY")),
		AgentLLMModel:     getEnv("AGENTDAO_AGENT_LLM_MODEL", defaultAgentLLMModel),
		DatabaseURL:       firstNonEmpty(os.Getenv("AGENTDAO_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3Prefix:          os.Getenv("S3_PREFIX"),
		StreamBuffer:      getInt("AGENTDAO_STREAM_BUFFER", defaultStreamBuffer),
		StreamConcurrency: getInt("AGENTDAO_STREAM_CONCURRENCY", defaultStreamConcurrency),
	}

	if cfg.AllowDebugToken && cfg.DebugToken == "" {
		return Config{}, fmt.Errorf("AGENTDAO_DEBUG_TOKEN required when AGENTDAO_ALLOW_DEBUG_TOKEN is set")
	}
	return cfg, nil
}

// ExportEnabled reports whether any ledger export sink is configured.
func (c Config) ExportEnabled() bool {
	return len(c.KafkaBrokers) > 0 || c.S3Bucket != "" || c.DatabaseURL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
