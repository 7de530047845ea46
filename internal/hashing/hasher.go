package hashing

import (
	"lukechampine.com/blake3"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
)

// Domain-separation prefixes. A leaf digest hashes 0x00 plus content;
// an internal digest hashes 0x01 plus the two child digests.
const (
	leafDomain     byte = 0x00
	internalDomain byte = 0x01
)

// HashBlock computes the content digest of a byte span. Pure and total:
// repeated calls yield identical digests, and empty input hashes to a
// fixed well-known digest (the hash of the bare leaf prefix).
func HashBlock(data []byte) domain.Digest {
	h := blake3.New(domain.DigestSize, nil)
	h.Write([]byte{leafDomain})
	h.Write(data)

	var d domain.Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Combine computes the digest of an internal tree node from its two
// children. Distinct from leaf hashing by domain prefix.
func Combine(left, right domain.Digest) domain.Digest {
	h := blake3.New(domain.DigestSize, nil)
	h.Write([]byte{internalDomain})
	h.Write(left[:])
	h.Write(right[:])

	var d domain.Digest
	copy(d[:], h.Sum(nil))
	return d
}

// HashBlocks digests each raw block in order.
func HashBlocks(blocks []domain.RawBlock) []domain.Digest {
	digests := make([]domain.Digest, len(blocks))
	for i, b := range blocks {
		digests[i] = HashBlock([]byte(b.Text))
	}
	return digests
}
