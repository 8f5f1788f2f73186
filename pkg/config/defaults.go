package config

const (
	defaultStorageDriver = "sqlite"

	defaultAPIListen       = ":8081"
	defaultClientAPITarget = "http://localhost:8081"

	defaultOracleProvider = "openai"
	defaultOracleTarget   = "https://api.openai.com"
	defaultOracleModel    = "gpt-4o-mini"
	defaultOracleTimeout  = 60

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultVectorProvider = "sqlitevec"

	defaultPrimaryPlatform = "telegram"

	defaultExtractionSchedule = "*/10 * * * *"
	defaultExtractionWindow   = 200

	defaultConsolidationStrategy = "timeframe"
	defaultWorkers               = 3
	defaultSimilarityThreshold   = 0.82
	defaultTimeframeDays         = 30
	defaultMaxMemoriesPerChunk   = 20
	defaultMinSharedKeywords     = 2
	defaultMaxTopicClusters      = 10
	defaultMaxTotalTokens        = 50000

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "ledger.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		Oracle: OracleConfig{
			Provider:       defaultOracleProvider,
			Target:         defaultOracleTarget,
			Model:          defaultOracleModel,
			TimeoutSeconds: defaultOracleTimeout,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Reconcile: ReconcileConfig{
			PrimaryPlatform: defaultPrimaryPlatform,
		},
		Extraction: ExtractionConfig{
			Schedule: defaultExtractionSchedule,
			Window:   defaultExtractionWindow,
		},
		Consolidation: ConsolidationConfig{
			Strategy:            defaultConsolidationStrategy,
			Workers:             defaultWorkers,
			SimilarityThreshold: defaultSimilarityThreshold,
			TimeframeDays:       defaultTimeframeDays,
			MaxMemoriesPerChunk: defaultMaxMemoriesPerChunk,
			MinSharedKeywords:   defaultMinSharedKeywords,
			MaxTopicClusters:    defaultMaxTopicClusters,
			MaxTotalTokens:      defaultMaxTotalTokens,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
	}
}
