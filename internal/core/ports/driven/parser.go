package driven

import (
	"context"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
)

// Parser splits document bytes into an ordered list of content blocks
// with byte offsets. A parse failure is treated by callers as "zero
// blocks, log error", never a pipeline abort.
type Parser interface {
	// Parse returns the document's blocks in document order.
	Parse(ctx context.Context, content []byte) ([]domain.RawBlock, error)
}
