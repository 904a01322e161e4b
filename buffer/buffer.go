package buffer

import (
	"fmt"
	"sync"

	"neopilot/engine"
	"neopilot/logger"
	"neopilot/notify"
	"neopilot/render"
	"neopilot/types"

	"github.com/neovim/go-client/nvim"
)

// Highlight groups defined by the Lua side
const (
	HLSuggestion = "NeopilotSuggestion"
	HLReplaced   = "NeopilotReplaced"
)

// RPC method names the plugin calls
const (
	MethodEvent = "neopilot_event"
	MethodStats = "neopilot_stats"
	MethodKeys  = "neopilot_keys"
)

const namespaceName = "neopilot"

var _ engine.Editor = (*NvimBuffer)(nil)

type Config struct {
	NsID int // extmark namespace; 0 creates one named "neopilot" on first draw
}

// NvimBuffer implements engine.Editor on top of one Neovim RPC connection. Handlers
// registered before the client is set are installed by SetClient.
type NvimBuffer struct {
	mu       sync.RWMutex
	client   *nvim.Nvim
	nsID     int
	config   Config
	handlers map[string]any
}

func New(config Config) *NvimBuffer {
	return &NvimBuffer{
		nsID:     config.NsID,
		config:   config,
		handlers: make(map[string]any),
	}
}

// SetClient stores the nvim client for all buffer operations and registers every
// handler added so far
func (b *NvimBuffer) SetClient(n *nvim.Nvim) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = n
	b.nsID = b.config.NsID
	for method, fn := range b.handlers {
		if err := n.RegisterHandler(method, fn); err != nil {
			return fmt.Errorf("register %s: %w", method, err)
		}
	}
	return nil
}

func (b *NvimBuffer) conn() (*nvim.Nvim, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, fmt.Errorf("nvim client not set")
	}
	return b.client, nil
}

// Handle registers fn for an RPC method on the current and all future clients
func (b *NvimBuffer) Handle(method string, fn any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[method] = fn
	if b.client == nil {
		return nil
	}
	return b.client.RegisterHandler(method, fn)
}

// RegisterEventHandler routes neopilot_event notifications to handler
func (b *NvimBuffer) RegisterEventHandler(handler func(event string, buf int)) error {
	return b.Handle(MethodEvent, func(_ *nvim.Nvim, event string, buf int) {
		handler(event, buf)
	})
}

// windowCursorLua returns the cursor of the first window showing the buffer
const windowCursorLua = `
	local buf = ...
	local win = vim.fn.bufwinid(buf)
	if win == -1 then return {1, 0} end
	return vim.api.nvim_win_get_cursor(win)
`

// Snapshot reads the buffer state in a single round-trip
func (b *NvimBuffer) Snapshot(buf int) (*engine.Snapshot, error) {
	defer logger.Trace("buffer.Snapshot")()
	n, err := b.conn()
	if err != nil {
		return nil, err
	}

	var lines [][]byte
	var path, filetype string
	var cursor [2]int
	var mode nvim.Mode

	batch := n.NewBatch()
	batch.BufferLines(nvim.Buffer(buf), 0, -1, false, &lines)
	batch.BufferName(nvim.Buffer(buf), &path)
	batch.ExecLua(`return vim.bo[...].filetype`, &filetype, buf)
	batch.ExecLua(windowCursorLua, &cursor, buf)
	batch.Mode(&mode)
	if err := batch.Execute(); err != nil {
		logger.Error("error executing snapshot batch: %v", err)
		return nil, err
	}

	linesStr := make([]string, len(lines))
	for i, line := range lines {
		linesStr[i] = string(line)
	}
	return &engine.Snapshot{
		Lines:    linesStr,
		Cursor:   types.Position{Row: cursor[0], Col: cursor[1]},
		Path:     path,
		Filetype: filetype,
		Mode:     mode.Mode,
	}, nil
}

func (b *NvimBuffer) Cursor(buf int) (types.Position, error) {
	n, err := b.conn()
	if err != nil {
		return types.Position{}, err
	}
	var cursor [2]int
	if err := n.ExecLua(windowCursorLua, &cursor, buf); err != nil {
		return types.Position{}, err
	}
	return types.Position{Row: cursor[0], Col: cursor[1]}, nil
}

// Draw replaces the overlay of buf with o
func (b *NvimBuffer) Draw(buf int, o *render.Overlay) error {
	n, err := b.conn()
	if err != nil {
		return err
	}
	ns, err := b.namespace(n)
	if err != nil {
		return err
	}

	batch := n.NewBatch()
	batch.ClearBufferNamespace(nvim.Buffer(buf), ns, 0, -1)
	marks := Extmarks(o)
	ids := make([]int, len(marks))
	for i, m := range marks {
		batch.SetBufferExtmark(nvim.Buffer(buf), ns, m.Line, m.Col, m.Opts, &ids[i])
	}
	if err := batch.Execute(); err != nil {
		return fmt.Errorf("draw overlay: %w", err)
	}
	logger.Debug("buffer %d: drew %d extmarks", buf, len(marks))
	return nil
}

func (b *NvimBuffer) ClearOverlay(buf int) error {
	n, err := b.conn()
	if err != nil {
		return err
	}
	ns, err := b.namespace(n)
	if err != nil {
		return err
	}
	return n.ClearBufferNamespace(nvim.Buffer(buf), ns, 0, -1)
}

// SetLines replaces the 0-indexed, end-exclusive range [start, end) of buf
func (b *NvimBuffer) SetLines(buf, start, end int, lines []string) error {
	n, err := b.conn()
	if err != nil {
		return err
	}
	replacement := make([][]byte, len(lines))
	for i, line := range lines {
		replacement[i] = []byte(line)
	}
	return n.SetBufferLines(nvim.Buffer(buf), start, end, false, replacement)
}

func (b *NvimBuffer) SetCursor(buf, row, col int) error {
	return b.execLua(`
		local buf, row, col = ...
		local win = vim.fn.bufwinid(buf)
		if win ~= -1 then vim.api.nvim_win_set_cursor(win, {row, col}) end
	`, buf, row, col)
}

// StartInsert returns to insert mode with the cursor allowed past the last character
func (b *NvimBuffer) StartInsert(buf int) error {
	return b.execLua(`
		if vim.fn.mode() ~= 'i' then
			local row, col = unpack(vim.api.nvim_win_get_cursor(0))
			vim.cmd('startinsert')
			vim.api.nvim_win_set_cursor(0, {row, col})
		end
	`)
}

// FeedKeys sends keys in key notation (like "<Tab>") to Neovim without remapping
func (b *NvimBuffer) FeedKeys(keys string) error {
	return b.execLua(`
		local keys = ...
		vim.api.nvim_feedkeys(vim.api.nvim_replace_termcodes(keys, true, false, true), 'n', false)
	`, keys)
}

// Notify shows msg through vim.notify; it is the sink of the daemon's notifier
func (b *NvimBuffer) Notify(msg string, level notify.Level) {
	if err := b.execLua(`vim.notify(...)`, msg, int(level)); err != nil {
		logger.Warn("notify: %v", err)
	}
}

func (b *NvimBuffer) execLua(code string, args ...any) error {
	n, err := b.conn()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return n.ExecLua(code, nil, nil)
	}
	return n.ExecLua(code, nil, args...)
}

func (b *NvimBuffer) namespace(n *nvim.Nvim) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nsID != 0 {
		return b.nsID, nil
	}
	ns, err := n.CreateNamespace(namespaceName)
	if err != nil {
		return 0, fmt.Errorf("create namespace: %w", err)
	}
	b.nsID = ns
	return ns, nil
}

// Extmark is one nvim_buf_set_extmark call: Line and Col are 0-indexed
type Extmark struct {
	Line int
	Col  int
	Opts map[string]any
}

// Extmarks converts an overlay into extmarks: inline ghost text, virtual lines below
// their anchor row and a line highlight on every row about to be replaced
func Extmarks(o *render.Overlay) []Extmark {
	if o.Empty() {
		return nil
	}
	var marks []Extmark
	for _, span := range o.Replaced {
		for row := span.StartRow; row <= span.EndRow; row++ {
			marks = append(marks, Extmark{
				Line: row - 1,
				Opts: map[string]any{"line_hl_group": HLReplaced},
			})
		}
	}
	for _, in := range o.Inline {
		marks = append(marks, Extmark{
			Line: in.Row - 1,
			Col:  in.Col,
			Opts: map[string]any{
				"virt_text":     [][]any{{in.Text, HLSuggestion}},
				"virt_text_pos": "inline",
			},
		})
	}
	for _, block := range o.Blocks {
		virtLines := make([][][]any, len(block.Lines))
		for i, line := range block.Lines {
			virtLines[i] = [][]any{{line, HLSuggestion}}
		}
		marks = append(marks, Extmark{
			Line: block.Row - 1,
			Opts: map[string]any{"virt_lines": virtLines},
		})
	}
	return marks
}
