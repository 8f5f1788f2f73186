package api

import "github.com/parchmentco/ledger/pkg/chunker"

// Config holds API server settings.
type Config struct {
	ListenAddr string

	// Chunking parameterizes consolidation batch planning. Zero fields
	// fall back to the chunker defaults.
	Chunking chunker.Params
}
