package markdown

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// Parser splits Markdown documents into blocks. Headings are blocks of
// their own, paragraphs break on blank lines, and fenced code blocks are
// kept whole from opening to closing fence.
type Parser struct{}

// New creates a Markdown parser.
func New() *Parser {
	return &Parser{}
}

// Parse returns the document's blocks in order. Byte offsets delimit
// each block exactly: content[ByteStart:ByteEnd] == Text.
func (p *Parser) Parse(_ context.Context, content []byte) ([]domain.RawBlock, error) {
	if bytes.IndexByte(content, 0) >= 0 {
		return nil, fmt.Errorf("%w: binary content", domain.ErrParse)
	}

	lines := splitLines(content)
	var blocks []domain.RawBlock

	i := 0
	for i < len(lines) {
		ln := lines[i]
		trimmed := strings.TrimSpace(ln.text)

		switch {
		case trimmed == "":
			i++

		case isFence(trimmed):
			// Swallow everything up to and including the closing fence;
			// an unterminated fence runs to end of document.
			start, end := ln.start, ln.end
			i++
			for i < len(lines) {
				end = lines[i].end
				closing := isFence(strings.TrimSpace(lines[i].text))
				i++
				if closing {
					break
				}
			}
			blocks = append(blocks, makeBlock(content, start, end))

		case isHeading(trimmed):
			blocks = append(blocks, makeBlock(content, ln.start, ln.end))
			i++

		default:
			start, end := ln.start, ln.end
			i++
			for i < len(lines) {
				next := strings.TrimSpace(lines[i].text)
				if next == "" || isHeading(next) || isFence(next) {
					break
				}
				end = lines[i].end
				i++
			}
			blocks = append(blocks, makeBlock(content, start, end))
		}
	}
	return blocks, nil
}

type lineSpan struct {
	start, end int // end excludes the newline
	text       string
}

func splitLines(content []byte) []lineSpan {
	var lines []lineSpan
	start := 0
	for i, b := range content {
		if b == '\n' {
			lines = append(lines, lineSpan{start: start, end: i, text: string(content[start:i])})
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, lineSpan{start: start, end: len(content), text: string(content[start:])})
	}
	return lines
}

func makeBlock(content []byte, start, end int) domain.RawBlock {
	return domain.RawBlock{
		ByteStart: start,
		ByteEnd:   end,
		Text:      string(content[start:end]),
	}
}

func isHeading(trimmed string) bool {
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	// ATX headings only: one to six hashes followed by a space.
	hashes := 0
	for hashes < len(trimmed) && trimmed[hashes] == '#' {
		hashes++
	}
	return hashes <= 6 && hashes < len(trimmed) && trimmed[hashes] == ' '
}

func isFence(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}
