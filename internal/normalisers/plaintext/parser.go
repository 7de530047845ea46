package plaintext

import (
	"bytes"
	"context"
	"fmt"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// Parser splits plain text documents into paragraph blocks separated by
// blank lines.
type Parser struct{}

// New creates a plaintext parser.
func New() *Parser {
	return &Parser{}
}

// Parse returns one block per paragraph, in document order.
func (p *Parser) Parse(_ context.Context, content []byte) ([]domain.RawBlock, error) {
	if bytes.IndexByte(content, 0) >= 0 {
		return nil, fmt.Errorf("%w: binary content", domain.ErrParse)
	}

	var blocks []domain.RawBlock
	start := -1 // start of the current paragraph, -1 when between paragraphs
	end := 0
	lineStart := 0
	flush := func() {
		if start >= 0 {
			blocks = append(blocks, domain.RawBlock{
				ByteStart: start,
				ByteEnd:   end,
				Text:      string(content[start:end]),
			})
			start = -1
		}
	}

	for i := 0; i <= len(content); i++ {
		if i < len(content) && content[i] != '\n' {
			continue
		}
		line := content[lineStart:i]
		if len(bytes.TrimSpace(line)) == 0 {
			flush()
		} else {
			if start < 0 {
				start = lineStart
			}
			end = i
		}
		lineStart = i + 1
	}
	flush()
	return blocks, nil
}
