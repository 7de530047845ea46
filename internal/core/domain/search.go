package domain

// VectorHit is a single nearest-neighbour result.
type VectorHit struct {
	// Digest identifies the matched content.
	Digest Digest

	// Score is the cosine similarity to the query vector.
	Score float64
}
