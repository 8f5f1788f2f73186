// Package servecmder provides the serve command running the ledger API
// server with extraction scheduling.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/api"
	"github.com/parchmentco/ledger/api/mcp"
	"github.com/parchmentco/ledger/pkg/chunker"
	"github.com/parchmentco/ledger/pkg/config"
	"github.com/parchmentco/ledger/pkg/consolidate"
	embeddingutils "github.com/parchmentco/ledger/pkg/embeddings/utils"
	"github.com/parchmentco/ledger/pkg/eventstream"
	"github.com/parchmentco/ledger/pkg/eventstream/kafka"
	"github.com/parchmentco/ledger/pkg/eventstream/nop"
	"github.com/parchmentco/ledger/pkg/extract"
	"github.com/parchmentco/ledger/pkg/logger"
	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/oracle/openai"
	"github.com/parchmentco/ledger/pkg/reconcile"
	"github.com/parchmentco/ledger/pkg/storage"
	"github.com/parchmentco/ledger/pkg/storage/inmemory"
	"github.com/parchmentco/ledger/pkg/storage/postgres"
	"github.com/parchmentco/ledger/pkg/storage/sqlite"
	"github.com/parchmentco/ledger/pkg/vector"
	vectorutils "github.com/parchmentco/ledger/pkg/vector/utils"
)

var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for API server to listen on",
	},
	config.FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Storage backend (sqlite, postgres, inmemory)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to SQLite database (default: in-memory)",
	},
	config.FlagPostgresDSN: {
		Name:        "postgres-dsn",
		ViperKey:    "storage.postgres_dsn",
		Description: "Postgres connection string",
	},
	config.FlagOracleTarget: {
		Name:        "oracle-target",
		ViperKey:    "oracle.target",
		Description: "LLM oracle API root URL",
	},
	config.FlagOracleModel: {
		Name:        "oracle-model",
		ViperKey:    "oracle.model",
		Description: "LLM oracle completion model",
	},
	config.FlagPrimaryPlatform: {
		Name:        "primary-platform",
		ViperKey:    "reconcile.primary_platform",
		Description: "Platform whose buffers are reconciled (others append only)",
	},
	config.FlagSchedule: {
		Name:        "schedule",
		ViperKey:    "extraction.schedule",
		Description: "Cron schedule for extraction flushes",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagOracleTarget,
	config.FlagOracleModel,
	config.FlagPrimaryPlatform,
	config.FlagSchedule,
}

type ServeCommander struct {
	listen          string
	storageDriver   string
	sqlitePath      string
	postgresDSN     string
	oracleTarget    string
	oracleModel     string
	primaryPlatform string
	schedule        string
	configDir       string
	debug           bool

	viper  *viper.Viper
	logger *zap.Logger
}

const serveLongDesc string = `Run the ledger API server.

The server reconciles conversation buffers into a canonical log, extracts
topics and memories on a schedule, and exposes consolidation over HTTP
and MCP.`

const serveShortDesc string = "Run the ledger API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}

			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.viper, err = config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(cmder.viper, cmd, serveFlags, serveFlagKeys)

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, serveFlags, config.FlagOracleTarget, &cmder.oracleTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagOracleModel, &cmder.oracleModel)
	config.AddStringFlag(cmd, serveFlags, config.FlagPrimaryPlatform, &cmder.primaryPlatform)
	config.AddStringFlag(cmd, serveFlags, config.FlagSchedule, &cmder.schedule)

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	v := c.viper
	ctx := context.Background()

	storer, err := c.newStorageDriver(ctx)
	if err != nil {
		return err
	}
	defer storer.Close()

	events := c.newPublisher()
	defer events.Close()

	orc := oracle.NewClient(openai.NewCaller(openai.Config{
		BaseURL: v.GetString("oracle.target"),
		APIKey:  v.GetString("oracle.api_key"),
		Model:   v.GetString("oracle.model"),
		Timeout: time.Duration(v.GetUint("oracle.timeout_seconds")) * time.Second,
	}))

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: v.GetString("embedding.provider"),
		TargetURL:    v.GetString("embedding.target"),
		Model:        v.GetString("embedding.model"),
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer embedder.Close()

	vectors, err := c.newVectorDriver()
	if err != nil {
		return err
	}
	defer vectors.Close()

	reconciler := reconcile.New(storer.Messages(), events, c.logger, v.GetString("reconcile.primary_platform"))

	// One guard serializes topic merges against extraction's topic
	// assignment across the whole process.
	guard := &storage.TopicGuard{}

	extractor, err := extract.NewService(&extract.Config{
		Messages: storer.Messages(),
		Topics:   storer.Topics(),
		Memories: storer.Memories(),
		Oracle:   orc,
		Embedder: embedder,
		Vectors:  vectors,
		Guard:    guard,
		Window:   v.GetInt("extraction.window"),
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating extraction service: %w", err)
	}

	scheduler, err := extract.NewScheduler(extractor, v.GetString("extraction.schedule"), c.logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	engine, err := consolidate.NewEngine(&consolidate.Config{
		Memories:            storer.Memories(),
		Topics:              storer.Topics(),
		Messages:            storer.Messages(),
		Oracle:              orc,
		Embedder:            embedder,
		Vectors:             vectors,
		Events:              events,
		Guard:               guard,
		NumWorkers:          v.GetUint("consolidation.workers"),
		SimilarityThreshold: float32(v.GetFloat64("consolidation.similarity_threshold")),
		Logger:              c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating consolidation engine: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		ListenAddr: v.GetString("api.listen"),
		Chunking:   c.chunkingParams(),
	}, storer, reconciler, engine, extractor, embedder, c.logger)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Storer:       storer,
		VectorDriver: vectors,
		Embedder:     embedder,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	apiServer.MountMCP(mcpServer.Handler())

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	c.watchConfig(watchCtx, apiServer)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("api server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("shutting down", zap.String("signal", sig.String()))
		return apiServer.Shutdown()
	}
}

func (c *ServeCommander) newStorageDriver(ctx context.Context) (storage.Driver, error) {
	v := c.viper

	switch driver := v.GetString("storage.driver"); driver {
	case "postgres":
		dsn := v.GetString("storage.postgres_dsn")
		if dsn == "" {
			return nil, fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
		storer, err := postgres.NewDriver(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres storer: %w", err)
		}
		c.logger.Info("using Postgres storage")
		return storer, nil

	case "sqlite":
		path := v.GetString("storage.sqlite_path")
		if path == "" {
			c.logger.Info("using in-memory storage")
			return inmemory.NewDriver(), nil
		}
		storer, err := sqlite.NewDriver(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", path))
		return storer, nil

	case "inmemory":
		c.logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

func (c *ServeCommander) newPublisher() eventstream.Publisher {
	v := c.viper

	if v.GetString("events.provider") == "kafka" {
		brokers := v.GetStringSlice("events.brokers")
		topic := v.GetString("events.topic")
		c.logger.Info("publishing events to Kafka",
			zap.Strings("brokers", brokers),
			zap.String("topic", topic),
		)
		return kafka.NewPublisher(brokers, topic)
	}

	return nop.NewPublisher()
}

func (c *ServeCommander) newVectorDriver() (vector.Driver, error) {
	v := c.viper

	target := v.GetString("vector_store.target")
	if target == "" {
		target = ":memory:"
	}

	vectors, err := vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{
		ProviderType: v.GetString("vector_store.provider"),
		DBPath:       target,
		Dimensions:   v.GetUint("embedding.dimensions"),
		Logger:       c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating vector driver: %w", err)
	}
	return vectors, nil
}

// watchConfig follows config.toml for the lifetime of the server and
// applies reloadable settings; today that is the batch-planning
// parameters. Without a config file there is nothing to watch.
func (c *ServeCommander) watchConfig(ctx context.Context, apiServer *api.Server) {
	cfger, err := config.NewConfiger(c.configDir)
	if err != nil || cfger.GetTarget() == "" {
		return
	}

	go func() {
		err := cfger.Watch(ctx, func(cfg *config.Config) {
			apiServer.SetChunking(chunker.Params{
				TimeframeDays:       cfg.Consolidation.TimeframeDays,
				MaxMemoriesPerChunk: cfg.Consolidation.MaxMemoriesPerChunk,
				MinSharedKeywords:   cfg.Consolidation.MinSharedKeywords,
				SimilarityThreshold: float32(cfg.Consolidation.SimilarityThreshold),
				MaxTopicClusters:    cfg.Consolidation.MaxTopicClusters,
				MaxTotalTokens:      cfg.Consolidation.MaxTotalTokens,
			})
			c.logger.Info("reloaded configuration", zap.String("path", cfger.GetTarget()))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("config watch stopped", zap.Error(err))
		}
	}()
}

func (c *ServeCommander) chunkingParams() chunker.Params {
	v := c.viper
	return chunker.Params{
		TimeframeDays:       v.GetInt("consolidation.timeframe_days"),
		MaxMemoriesPerChunk: v.GetInt("consolidation.max_memories_per_chunk"),
		MinSharedKeywords:   v.GetInt("consolidation.min_shared_keywords"),
		SimilarityThreshold: float32(v.GetFloat64("consolidation.similarity_threshold")),
		MaxTopicClusters:    v.GetInt("consolidation.max_topic_clusters"),
		MaxTotalTokens:      v.GetInt("consolidation.max_total_tokens"),
	}
}
