// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - HashStore: Persisted "last indexed" digest records
//   - Parser: Splits a document into ordered content blocks
//   - Watcher: Delivers deduplicated filesystem change events
//   - Consumer: A fan-out sink for dirty blocks
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - EmbeddingService: Generates vector embeddings. Without it, semantic
//     indexing and query are disabled.
//   - VectorIndex: Stores vectors and answers similarity queries. Only
//     enabled when EmbeddingService is configured.
//   - EmbeddingStore: Persists embedding records so the vector index
//     survives restarts.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
