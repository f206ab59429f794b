package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/snehjoshi/aochat/internal/engine"
	"github.com/snehjoshi/aochat/internal/types"
)

// console renders engine events as plain lines.
type console struct {
	mu      sync.Mutex
	w       io.Writer
	loc     *time.Location
	printed map[string]struct{} // ids of the current view already written
}

var _ engine.Adapter = (*console)(nil)

func newConsole(w io.Writer) *console {
	return &console{w: w, loc: time.Local, printed: make(map[string]struct{})}
}

func (c *console) RenderAppend(msgs []*types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.line(m)
		c.printed[m.ID] = struct{}{}
	}
}

func (c *console) Rekey(oldID, newID string, m *types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.printed[oldID]; ok {
		delete(c.printed, oldID)
		c.printed[newID] = struct{}{}
	}
	switch m.Status {
	case types.StatusConfirmed:
		if oldID == newID {
			fmt.Fprintf(c.w, "  ✓ %q assumed delivered\n", m.Content)
		} else {
			fmt.Fprintf(c.w, "  ✓ %q delivered (%s)\n", m.Content, newID)
		}
	case types.StatusFailed:
		fmt.Fprintf(c.w, "  ✗ %q not sent: %s\n", m.Content, m.Error)
	}
}

// RenderFull prints the whole view under a header. A view whose oldest
// message is already on screen is the capped list sliding forward; only its
// new tail is printed.
func (c *console) RenderFull(msgs []*types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sliding := false
	if len(msgs) > 0 {
		_, sliding = c.printed[msgs[0].ID]
	}
	if !sliding {
		fmt.Fprintf(c.w, "── %d messages ──\n", len(msgs))
	}
	next := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, seen := c.printed[m.ID]; !sliding || !seen {
			c.line(m)
		}
		next[m.ID] = struct{}{}
	}
	c.printed = next
}

func (c *console) ReportStatus(text string, kind engine.StatusKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "* [%s] %s\n", kind, text)
}

// line MUST be called with c.mu held.
func (c *console) line(m *types.Message) {
	ts := time.UnixMilli(m.Timestamp).In(c.loc).Format("15:04:05")
	mark := ""
	switch {
	case m.Status == types.StatusPending:
		mark = " …"
	case m.Status == types.StatusFailed:
		mark = " ✗"
	case m.Own:
		mark = " ✓"
	}
	fmt.Fprintf(c.w, "[%s] %s: %s%s\n", ts, m.Username, m.Content, mark)
}
