// Package vector provides interfaces and implementations for vector storage
// of topic-name embeddings, used to cluster similarly named topics.
package vector

import "context"

// Document represents a stored topic-name embedding.
type Document struct {
	// ID is a unique identifier for the document (the topic id).
	ID string

	// Name is the topic name this embedding was computed from.
	Name string

	// Embedding is the vector representation of the topic name.
	Embedding []float32
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score represents the similarity score (higher = more similar).
	Score float32
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings. If a document with the
	// same ID already exists, implementers should update the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the given embedding.
	Query(ctx context.Context, embedding []float32, topK int) ([]QueryResult, error)

	// Get retrieves documents by their IDs.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
