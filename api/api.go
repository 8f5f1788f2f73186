package api

import (
	"net/http"
	"sync"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chunker"
	"github.com/parchmentco/ledger/pkg/consolidate"
	"github.com/parchmentco/ledger/pkg/embeddings"
	"github.com/parchmentco/ledger/pkg/extract"
	"github.com/parchmentco/ledger/pkg/reconcile"
	"github.com/parchmentco/ledger/pkg/storage"
)

// Server is the API server for managing and querying the ledger system
type Server struct {
	config     Config
	storer     storage.Driver
	reconciler *reconcile.Reconciler
	engine     *consolidate.Engine
	extractor  *extract.Service
	embedder   embeddings.Embedder
	logger     *zap.Logger
	app        *fiber.App

	// chunkingMu guards the chunking parameters, which a config reload
	// may replace while a consolidation run is planning.
	chunkingMu sync.RWMutex
	chunking   chunker.Params
}

// SetChunking replaces the batch-planning parameters, typically on a
// config file reload.
func (s *Server) SetChunking(p chunker.Params) {
	s.chunkingMu.Lock()
	s.chunking = p
	s.chunkingMu.Unlock()
}

func (s *Server) chunkingParams() chunker.Params {
	s.chunkingMu.RLock()
	defer s.chunkingMu.RUnlock()
	return s.chunking
}

// NewServer creates a new API server.
// The storer and reconciler are injected to allow sharing with other
// components; engine, extractor, and embedder are optional and gate the
// routes that need them.
func NewServer(config Config, storer storage.Driver, reconciler *reconcile.Reconciler, engine *consolidate.Engine, extractor *extract.Service, embedder embeddings.Embedder, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:     config,
		storer:     storer,
		reconciler: reconciler,
		engine:     engine,
		extractor:  extractor,
		embedder:   embedder,
		logger:     logger,
		app:        app,
		chunking:   config.Chunking,
	}

	app.Get("/ping", s.handlePing)

	app.Post("/conversations/:key/reconcile", s.handleReconcile)
	app.Post("/conversations/:key/tool-call", s.handleToolCall)
	app.Post("/conversations/:key/assistant", s.handleAssistant)
	app.Post("/conversations/:key/extract", s.handleExtract)
	app.Get("/conversations/:key/messages", s.handleListMessages)

	app.Get("/topics", s.handleListTopics)
	app.Post("/topics", s.handleCreateTopic)
	app.Post("/topics/merge", s.handleMergeTopics)
	app.Post("/topics/merge-similar", s.handleMergeSimilarTopics)
	app.Get("/topics/:id/memories", s.handleTopicMemories)
	app.Get("/topics/:id/messages", s.handleTopicMessages)

	app.Get("/memories", s.handleListMemories)

	app.Post("/consolidation/run", s.handleConsolidationRun)

	return s
}

// MountMCP exposes an MCP handler under /mcp.
func (s *Server) MountMCP(handler http.Handler) {
	s.app.All("/mcp", adaptor.HTTPHandler(handler))
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
