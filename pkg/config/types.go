package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent ledger configuration stored as
// config.toml in the .ledger/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version       int                 `toml:"version"`
	Storage       StorageConfig       `toml:"storage"`
	API           APIConfig           `toml:"api"`
	Client        ClientConfig        `toml:"client"`
	Oracle        OracleConfig        `toml:"oracle"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
	VectorStore   VectorStoreConfig   `toml:"vector_store"`
	Reconcile     ReconcileConfig     `toml:"reconcile"`
	Extraction    ExtractionConfig    `toml:"extraction"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	Events        EventsConfig        `toml:"events"`
}

// StorageConfig selects the message/topic/memory backend.
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// API server. Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// OracleConfig holds LLM oracle settings.
type OracleConfig struct {
	Provider       string `toml:"provider,omitempty"`
	Target         string `toml:"target,omitempty"`
	Model          string `toml:"model,omitempty"`
	APIKey         string `toml:"api_key,omitempty"`
	TimeoutSeconds uint   `toml:"timeout_seconds,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// VectorStoreConfig holds topic-name vector index settings.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
}

// ReconcileConfig holds buffer reconciliation settings.
type ReconcileConfig struct {
	// PrimaryPlatform is the platform whose buffers are reconciled
	// against the stored log; every other platform is append-only.
	PrimaryPlatform string `toml:"primary_platform,omitempty"`
}

// ExtractionConfig holds topic/memory extraction settings.
type ExtractionConfig struct {
	Schedule string `toml:"schedule,omitempty"`
	Window   int    `toml:"window,omitempty"`
}

// ConsolidationConfig holds memory consolidation settings.
type ConsolidationConfig struct {
	Strategy            string  `toml:"strategy,omitempty"`
	Workers             int     `toml:"workers,omitempty"`
	SimilarityThreshold float64 `toml:"similarity_threshold,omitempty"`
	TimeframeDays       int     `toml:"timeframe_days,omitempty"`
	MaxMemoriesPerChunk int     `toml:"max_memories_per_chunk,omitempty"`
	MinSharedKeywords   int     `toml:"min_shared_keywords,omitempty"`
	MaxTopicClusters    int     `toml:"max_topic_clusters,omitempty"`
	MaxTotalTokens      int     `toml:"max_total_tokens,omitempty"`
}

// EventsConfig holds event stream publisher settings.
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(get func(c *Config) string, set func(c *Config, v string)) configKeyInfo {
	return configKeyInfo{
		get: get,
		set: func(c *Config, v string) error { set(c, v); return nil },
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": stringKey(
		func(c *Config) string { return c.Storage.Driver },
		func(c *Config, v string) { c.Storage.Driver = v },
	),
	"storage.sqlite_path": stringKey(
		func(c *Config) string { return c.Storage.SQLitePath },
		func(c *Config, v string) { c.Storage.SQLitePath = v },
	),
	"storage.postgres_dsn": stringKey(
		func(c *Config) string { return c.Storage.PostgresDSN },
		func(c *Config, v string) { c.Storage.PostgresDSN = v },
	),
	"api.listen": stringKey(
		func(c *Config) string { return c.API.Listen },
		func(c *Config, v string) { c.API.Listen = v },
	),
	"client.api_target": stringKey(
		func(c *Config) string { return c.Client.APITarget },
		func(c *Config, v string) { c.Client.APITarget = v },
	),
	"oracle.provider": stringKey(
		func(c *Config) string { return c.Oracle.Provider },
		func(c *Config, v string) { c.Oracle.Provider = v },
	),
	"oracle.target": stringKey(
		func(c *Config) string { return c.Oracle.Target },
		func(c *Config, v string) { c.Oracle.Target = v },
	),
	"oracle.model": stringKey(
		func(c *Config) string { return c.Oracle.Model },
		func(c *Config, v string) { c.Oracle.Model = v },
	),
	"oracle.api_key": stringKey(
		func(c *Config) string { return c.Oracle.APIKey },
		func(c *Config, v string) { c.Oracle.APIKey = v },
	),
	"oracle.timeout_seconds": {
		get: func(c *Config) string {
			if c.Oracle.TimeoutSeconds == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Oracle.TimeoutSeconds), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for oracle.timeout_seconds: %w", err)
			}
			c.Oracle.TimeoutSeconds = uint(n)
			return nil
		},
	},
	"embedding.provider": stringKey(
		func(c *Config) string { return c.Embedding.Provider },
		func(c *Config, v string) { c.Embedding.Provider = v },
	),
	"embedding.target": stringKey(
		func(c *Config) string { return c.Embedding.Target },
		func(c *Config, v string) { c.Embedding.Target = v },
	),
	"embedding.model": stringKey(
		func(c *Config) string { return c.Embedding.Model },
		func(c *Config, v string) { c.Embedding.Model = v },
	),
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"vector_store.provider": stringKey(
		func(c *Config) string { return c.VectorStore.Provider },
		func(c *Config, v string) { c.VectorStore.Provider = v },
	),
	"vector_store.target": stringKey(
		func(c *Config) string { return c.VectorStore.Target },
		func(c *Config, v string) { c.VectorStore.Target = v },
	),
	"reconcile.primary_platform": stringKey(
		func(c *Config) string { return c.Reconcile.PrimaryPlatform },
		func(c *Config, v string) { c.Reconcile.PrimaryPlatform = v },
	),
	"extraction.schedule": stringKey(
		func(c *Config) string { return c.Extraction.Schedule },
		func(c *Config, v string) { c.Extraction.Schedule = v },
	),
	"extraction.window": intKey("extraction.window",
		func(c *Config) *int { return &c.Extraction.Window },
	),
	"consolidation.strategy": stringKey(
		func(c *Config) string { return c.Consolidation.Strategy },
		func(c *Config, v string) { c.Consolidation.Strategy = v },
	),
	"consolidation.workers": intKey("consolidation.workers",
		func(c *Config) *int { return &c.Consolidation.Workers },
	),
	"consolidation.similarity_threshold": {
		get: func(c *Config) string {
			if c.Consolidation.SimilarityThreshold == 0 {
				return ""
			}
			return strconv.FormatFloat(c.Consolidation.SimilarityThreshold, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for consolidation.similarity_threshold: %w", err)
			}
			c.Consolidation.SimilarityThreshold = f
			return nil
		},
	},
	"consolidation.timeframe_days": intKey("consolidation.timeframe_days",
		func(c *Config) *int { return &c.Consolidation.TimeframeDays },
	),
	"consolidation.max_memories_per_chunk": intKey("consolidation.max_memories_per_chunk",
		func(c *Config) *int { return &c.Consolidation.MaxMemoriesPerChunk },
	),
	"consolidation.min_shared_keywords": intKey("consolidation.min_shared_keywords",
		func(c *Config) *int { return &c.Consolidation.MinSharedKeywords },
	),
	"consolidation.max_topic_clusters": intKey("consolidation.max_topic_clusters",
		func(c *Config) *int { return &c.Consolidation.MaxTopicClusters },
	),
	"consolidation.max_total_tokens": intKey("consolidation.max_total_tokens",
		func(c *Config) *int { return &c.Consolidation.MaxTotalTokens },
	),
	"events.provider": stringKey(
		func(c *Config) string { return c.Events.Provider },
		func(c *Config, v string) { c.Events.Provider = v },
	),
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			var brokers []string
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					brokers = append(brokers, b)
				}
			}
			c.Events.Brokers = brokers
			return nil
		},
	},
	"events.topic": stringKey(
		func(c *Config) string { return c.Events.Topic },
		func(c *Config, v string) { c.Events.Topic = v },
	),
}

// intKey builds a configKeyInfo for an int field, treating zero as unset.
func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if n := *field(c); n != 0 {
				return strconv.Itoa(n)
			}
			return ""
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}
