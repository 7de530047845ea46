// Package hashing provides content digests and the per-document digest
// tree used for block-level change detection.
//
// Leaf and internal hashes are domain-separated so a block digest can
// never collide with a combining digest. Trees are flat arenas rebuilt
// from a digest list each scan, never mutable node graphs.
package hashing
