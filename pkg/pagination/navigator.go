package pagination

import (
	"context"
	"fmt"

	"github.com/nimburion/docstore/pkg/query"
)

// ErrNoPrevious is returned by Navigator.Prev on the first page.
var ErrNoPrevious = fmt.Errorf("%w: no previous page", query.ErrInvalidQuery)

// Navigator walks pages in both directions by keeping the stack of cursors that
// opened each visited page. It is not safe for concurrent use.
type Navigator struct {
	engine     *Engine
	collection string
	opts       query.Options
	size       int

	stack   []string
	current string
	next    string
	started bool
}

// NewNavigator returns a navigator positioned before the first page.
func (e *Engine) NewNavigator(collection string, opts query.Options, pageSize int) *Navigator {
	return &Navigator{engine: e, collection: collection, opts: opts, size: pageSize}
}

func (n *Navigator) load(ctx context.Context, cursor string) (*Page, error) {
	page, err := n.engine.Page(ctx, n.collection, n.opts, n.size, cursor)
	if err != nil {
		return nil, err
	}
	n.started = true
	n.current = cursor
	n.next = page.NextCursor
	page.HasPrev = len(n.stack) > 0
	return page, nil
}

// First resets the navigator and reads the first page.
func (n *Navigator) First(ctx context.Context) (*Page, error) {
	n.stack = nil
	return n.load(ctx, "")
}

// Next reads the page after the current one. Before any page was read it reads
// the first page. Past an empty page it keeps returning an empty page.
func (n *Navigator) Next(ctx context.Context) (*Page, error) {
	if !n.started {
		return n.First(ctx)
	}
	if n.next == "" {
		return &Page{HasPrev: len(n.stack) > 0}, nil
	}
	n.stack = append(n.stack, n.current)
	page, err := n.load(ctx, n.next)
	if err != nil {
		n.stack = n.stack[:len(n.stack)-1]
		return nil, err
	}
	return page, nil
}

// Prev re-reads the page before the current one.
func (n *Navigator) Prev(ctx context.Context) (*Page, error) {
	if len(n.stack) == 0 {
		return nil, ErrNoPrevious
	}
	prev := n.stack[len(n.stack)-1]
	n.stack = n.stack[:len(n.stack)-1]
	return n.load(ctx, prev)
}

// Depth is the number of pages behind the current one.
func (n *Navigator) Depth() int { return len(n.stack) }
