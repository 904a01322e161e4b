package provider

import (
	"errors"
	"fmt"
	"strings"

	"neopilot/logger"
	"neopilot/text"
	"neopilot/tokens"
	"neopilot/types"
)

// Preprocessor processes the context before prompt building.
// Return ErrSkipCompletion to skip without error, or another error to fail.
type Preprocessor func(p *Provider, ctx *Context) error

// PromptBuilder builds the chat messages from the context
type PromptBuilder func(p *Provider, ctx *Context) ([]types.Message, error)

// Postprocessor processes the model output in ctx.Result.
// Return ErrSkipCompletion to finish with no suggestion.
type Postprocessor func(p *Provider, ctx *Context) error

// ErrSkipCompletion is a sentinel error that processors return to skip
// completion without treating it as an error.
var ErrSkipCompletion = errors.New("skip completion")

// SystemPrompt fixes the answer format the parser understands
const SystemPrompt = `You are a code completion engine embedded in a text editor.
You receive an excerpt of the file being edited. Every line is prefixed with its 1-based line number and a colon; the prefix is not part of the file.
Propose edits that continue or complete what the user is writing at the cursor.
Answer with JSON only: an array of alternative suggestion sets, each set an array of edits
[[{"content": "<replacement text>", "startRow": <first replaced line>, "endRow": <last replaced line>}]].
Each edit replaces lines startRow through endRow (inclusive) with content. Do not include line number prefixes in content.
Edits in one set must not overlap. Return [] when there is nothing useful to suggest.`

// --- Preprocessors ---

// RequireContext rejects requests without a usable document and cursor
func RequireContext() Preprocessor {
	return func(p *Provider, ctx *Context) error {
		req := ctx.Request
		if req == nil || req.Context == nil {
			return types.NewError(types.KindInvalidInput, "provider", "missing edit context")
		}
		ec := req.Context
		if len(ec.Lines) == 0 {
			return types.NewError(types.KindInvalidInput, "provider", "empty document")
		}
		if ec.Row < 1 || ec.Row > len(ec.Lines) {
			return types.NewError(types.KindProcessing, "provider", "cursor row %d outside document of %d lines", ec.Row, len(ec.Lines))
		}
		return nil
	}
}

// FitTokenBudget narrows the document to the lines around the cursor that fit
// MaxContextTokens
func FitTokenBudget() Preprocessor {
	return func(p *Provider, ctx *Context) error {
		ec := ctx.Request.Context
		start, end, trimmed := tokens.FitAroundCursor(ec.Lines, ec.Row-1, p.Config.MaxContextTokens, p.Counter)
		if end < start {
			return types.NewError(types.KindInvalidInput, "provider", "empty document")
		}
		ctx.Lines = ec.Lines[start : end+1]
		ctx.WindowStart = start
		ctx.CursorLine = ec.Row - start
		if trimmed {
			logger.Debug("%s: context trimmed to rows %d-%d of %d", p.Name, start+1, end+1, len(ec.Lines))
		}
		return nil
	}
}

// --- Prompt builders ---

// ChatPrompt builds the system message and a user message holding the numbered
// context window and the cursor position
func ChatPrompt() PromptBuilder {
	return func(p *Provider, ctx *Context) ([]types.Message, error) {
		ec := ctx.Request.Context
		offset := ctx.WindowStart
		chunker := text.Chunker{
			MaxContextLines: p.Config.MaxContextLines,
			ChunkSize:       p.Config.ChunkSize,
			LineFormat: func(row int, line string) string {
				return text.NumberedLine(row+offset, line)
			},
		}
		body, err := chunker.Build(ctx.Lines, ctx.CursorLine)
		if err != nil {
			return nil, err
		}

		var sb strings.Builder
		if ec.Path != "" {
			fmt.Fprintf(&sb, "File: %s\n", ec.Path)
		}
		if ec.Filetype != "" {
			fmt.Fprintf(&sb, "Language: %s\n", ec.Filetype)
		}
		fmt.Fprintf(&sb, "Cursor: line %d, column %d\n", ec.Row, ec.Col+1)
		sb.WriteString("<code>\n")
		sb.WriteString(body)
		sb.WriteString("\n</code>\n")
		fmt.Fprintf(&sb, "Current line %d: %s", ec.Row, ec.Lines[ec.Row-1])

		return []types.Message{
			{Role: types.RoleSystem, Content: SystemPrompt},
			{Role: types.RoleUser, Content: sb.String()},
		}, nil
	}
}

// --- Postprocessors ---

// RejectEmpty returns a postprocessor that rejects empty completions
func RejectEmpty() Postprocessor {
	return func(p *Provider, ctx *Context) error {
		if strings.TrimSpace(ctx.Result) == "" {
			logger.Debug("%s: rejected, empty or whitespace-only", p.Name)
			return ErrSkipCompletion
		}
		return nil
	}
}
