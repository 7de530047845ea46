// Package domain defines the core business entities for kiln.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Digest: A 256-bit content fingerprint, the identity for change detection
//   - Block: An addressable unit of a document produced by the parser
//   - HashRecord: The persisted "last indexed" digest for one block
//   - DirtyBlock: A block whose content must be reprocessed
//   - FileEvent: A change notification from the watcher
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
