package text

import (
	"fmt"
	"iter"
	"strings"

	"neopilot/logger"
	"neopilot/types"
)

const (
	DefaultMaxContextLines = 200
	DefaultChunkSize       = 50
)

// Chunker extracts a bounded window of lines around the cursor and serializes it
// in fixed-size chunks so very large windows are never built as one string up front.
type Chunker struct {
	MaxContextLines int
	ChunkSize       int
	// LineFormat renders one line; row is 1-indexed. Nil writes lines verbatim.
	LineFormat func(row int, line string) string
}

// NumberedLine prefixes a line with its row, the format the prompt asks the model to echo
func NumberedLine(row int, line string) string {
	return fmt.Sprintf("%d: %s", row, line)
}

func (c Chunker) limits() (maxLines, chunkSize int) {
	maxLines, chunkSize = c.MaxContextLines, c.ChunkSize
	if maxLines <= 0 {
		logger.Debug("chunker: max context lines %d invalid, using %d", maxLines, DefaultMaxContextLines)
		maxLines = DefaultMaxContextLines
	}
	if chunkSize <= 0 {
		logger.Debug("chunker: chunk size %d invalid, using %d", chunkSize, DefaultChunkSize)
		chunkSize = DefaultChunkSize
	}
	return maxLines, chunkSize
}

// Window returns the 1-indexed inclusive row range of at most MaxContextLines rows
// centered on cursorLine and clamped to the document.
func (c Chunker) Window(numLines, cursorLine int) (start, end int) {
	maxLines, _ := c.limits()
	if numLines <= 0 {
		return 1, 0
	}
	cursorLine = min(max(cursorLine, 1), numLines)

	start = cursorLine - maxLines/2
	end = start + maxLines - 1
	if start < 1 {
		end += 1 - start
		start = 1
	}
	if end > numLines {
		start -= end - numLines
		end = numLines
	}
	return max(start, 1), end
}

// Chunks yields the window around cursorLine as consecutive ChunkSize-line strings.
// The sequence is computed lazily from doc each time it is ranged over.
func (c Chunker) Chunks(doc []string, cursorLine int) (iter.Seq[string], error) {
	if len(doc) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "chunker", "empty document")
	}
	if cursorLine < 1 || cursorLine > len(doc) {
		return nil, types.NewError(types.KindProcessing, "chunker", "cursor line %d outside document of %d lines", cursorLine, len(doc))
	}

	_, chunkSize := c.limits()
	start, end := c.Window(len(doc), cursorLine)
	format := c.LineFormat

	return func(yield func(string) bool) {
		var sb strings.Builder
		for from := start; from <= end; from += chunkSize {
			to := min(from+chunkSize-1, end)
			sb.Reset()
			for row := from; row <= to; row++ {
				if row > from {
					sb.WriteByte('\n')
				}
				if format != nil {
					sb.WriteString(format(row, doc[row-1]))
				} else {
					sb.WriteString(doc[row-1])
				}
			}
			if !yield(sb.String()) {
				return
			}
		}
	}, nil
}

// Build joins the chunks of the window with a blank-line separator
func (c Chunker) Build(doc []string, cursorLine int) (string, error) {
	chunks, err := c.Chunks(doc, cursorLine)
	if err != nil {
		return "", err
	}
	var parts []string
	for chunk := range chunks {
		parts = append(parts, chunk)
	}
	return strings.Join(parts, "\n\n"), nil
}
