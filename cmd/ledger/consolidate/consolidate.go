// Package consolidatecmder provides the consolidate command for running a
// memory consolidation pass directly against the configured storage.
package consolidatecmder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chunker"
	"github.com/parchmentco/ledger/pkg/config"
	"github.com/parchmentco/ledger/pkg/consolidate"
	"github.com/parchmentco/ledger/pkg/logger"
	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/oracle/openai"
	"github.com/parchmentco/ledger/pkg/storage"
	"github.com/parchmentco/ledger/pkg/storage/postgres"
	"github.com/parchmentco/ledger/pkg/storage/sqlite"
)

var consolidateFlags = config.FlagSet{
	config.FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Storage backend (sqlite, postgres)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to SQLite database",
	},
	config.FlagPostgresDSN: {
		Name:        "postgres-dsn",
		ViperKey:    "storage.postgres_dsn",
		Description: "Postgres connection string",
	},
	config.FlagStrategy: {
		Name:        "strategy",
		ViperKey:    "consolidation.strategy",
		Description: "Batching strategy (timeframe, keyword_overlap)",
	},
	config.FlagWorkers: {
		Name:        "workers",
		ViperKey:    "consolidation.workers",
		Description: "Concurrent oracle calls",
	},
}

var consolidateFlagKeys = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagStrategy,
	config.FlagWorkers,
}

type ConsolidateCommander struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	strategy      string
	workers       int
	dryRun        bool
	debug         bool

	viper  *viper.Viper
	logger *zap.Logger
}

const consolidateLongDesc string = `Run one memory consolidation pass.

Memories are grouped into batches by the selected strategy and each batch
is sent to the LLM oracle for deduplication instructions. With --dry-run
the planned batches are printed without an oracle call or any mutation.`

const consolidateShortDesc string = "Run a memory consolidation pass"

func NewConsolidateCmd() *cobra.Command {
	cmder := &ConsolidateCommander{}

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: consolidateShortDesc,
		Long:  consolidateLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}

			configDir, _ := cmd.Flags().GetString("config-dir")
			cmder.viper, err = config.InitViper(configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(cmder.viper, cmd, consolidateFlags, consolidateFlagKeys)

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, consolidateFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, consolidateFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, consolidateFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, consolidateFlags, config.FlagStrategy, &cmder.strategy)
	config.AddIntFlag(cmd, consolidateFlags, config.FlagWorkers, &cmder.workers)
	cmd.Flags().BoolVar(&cmder.dryRun, "dry-run", false, "Report planned batches without applying them")

	return cmd
}

func (c *ConsolidateCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	v := c.viper
	ctx := context.Background()

	storer, err := c.newStorageDriver(ctx)
	if err != nil {
		return err
	}
	defer storer.Close()

	orc := oracle.NewClient(openai.NewCaller(openai.Config{
		BaseURL: v.GetString("oracle.target"),
		APIKey:  v.GetString("oracle.api_key"),
		Model:   v.GetString("oracle.model"),
		Timeout: time.Duration(v.GetUint("oracle.timeout_seconds")) * time.Second,
	}))

	engine, err := consolidate.NewEngine(&consolidate.Config{
		Memories:   storer.Memories(),
		Topics:     storer.Topics(),
		Messages:   storer.Messages(),
		Oracle:     orc,
		NumWorkers: v.GetUint("consolidation.workers"),
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating consolidation engine: %w", err)
	}

	batches, err := c.planBatches(ctx, storer)
	if err != nil {
		return err
	}

	c.logger.Info("planned consolidation batches",
		zap.String("strategy", v.GetString("consolidation.strategy")),
		zap.Int("batches", len(batches)),
		zap.Bool("dry_run", c.dryRun),
	)

	report := engine.Run(ctx, batches, c.dryRun)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (c *ConsolidateCommander) planBatches(ctx context.Context, storer storage.Driver) ([]chunker.Batch, error) {
	v := c.viper

	memories, err := storer.Memories().List(ctx)
	if err != nil {
		return nil, err
	}

	params := chunker.Params{
		TimeframeDays:       v.GetInt("consolidation.timeframe_days"),
		MaxMemoriesPerChunk: v.GetInt("consolidation.max_memories_per_chunk"),
		MinSharedKeywords:   v.GetInt("consolidation.min_shared_keywords"),
	}

	switch strategy := v.GetString("consolidation.strategy"); strategy {
	case chunker.StrategyTimeframe:
		return chunker.ChunkByTimeframe(memories, params), nil
	case chunker.StrategyKeywordOverlap:
		return chunker.ChunkByKeywordOverlap(memories, params), nil
	default:
		return nil, fmt.Errorf("unsupported strategy for offline consolidation: %s", strategy)
	}
}

func (c *ConsolidateCommander) newStorageDriver(ctx context.Context) (storage.Driver, error) {
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
		return storer, nil

	case "sqlite":
		path := v.GetString("storage.sqlite_path")
		if path == "" {
			return nil, fmt.Errorf("storage.sqlite_path is required: an offline pass needs persisted memories")
		}
		storer, err := sqlite.NewDriver(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		return storer, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
