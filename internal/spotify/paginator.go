package spotify

import (
	"context"
	"time"

	"github.com/alexjbarnes/spotify-term/internal/models"
)

// offsetUnfetched is the cursor offset before any page has been fetched.
const offsetUnfetched = -1

// Paginator walks a list endpoint forward and backward using the
// next/previous links each page carries, so callers never re-derive URLs.
// Each successful fetch replaces the cursor's links wholesale and moves
// the offset by exactly one. The paginator holds no page items itself;
// callers that want history retain the returned pages.
//
// A Paginator is owned by a single caller. Concurrent Next/Prev calls on
// the same instance must be serialized by the owner.
type Paginator[T any] struct {
	client   *Client
	resolver PageResolver[T]
	cursor   models.PageCursor
}

// NewPaginator builds a paginator whose first Next fetches firstURL, a
// fully built page URL including the page-size parameter. endpoint is the
// key under which the cursor is persisted by the dashboard.
func NewPaginator[T any](client *Client, resolver PageResolver[T], endpoint, firstURL string, pageSize int) *Paginator[T] {
	return &Paginator[T]{
		client:   client,
		resolver: resolver,
		cursor: models.PageCursor{
			Endpoint: endpoint,
			Offset:   offsetUnfetched,
			PageSize: pageSize,
			NextURL:  firstURL,
		},
	}
}

// Next fetches the following page. It returns (nil, nil) without any
// network call when no next link is stored, which is the termination
// signal.
func (p *Paginator[T]) Next(ctx context.Context) (*Page[T], error) {
	if p.cursor.NextURL == "" {
		return nil, nil
	}

	page, err := p.fetch(ctx, p.cursor.NextURL)
	if err != nil {
		return nil, err
	}

	p.cursor.Offset++
	p.advance(page)

	return page, nil
}

// Prev fetches the preceding page. It returns (nil, nil) when already on
// or before the first page; the offset sentinel, not the previous link,
// guards against walking before page zero.
func (p *Paginator[T]) Prev(ctx context.Context) (*Page[T], error) {
	if p.cursor.Offset <= 0 || p.cursor.PrevURL == "" {
		return nil, nil
	}

	page, err := p.fetch(ctx, p.cursor.PrevURL)
	if err != nil {
		return nil, err
	}

	p.cursor.Offset--
	p.advance(page)

	return page, nil
}

func (p *Paginator[T]) fetch(ctx context.Context, pageURL string) (*Page[T], error) {
	raw, err := p.client.getRaw(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	return p.resolver.Resolve(raw)
}

// advance replaces the cursor's links from the freshly resolved page.
func (p *Paginator[T]) advance(page *Page[T]) {
	p.cursor.NextURL = page.Next
	p.cursor.PrevURL = page.Previous
	p.cursor.Total = page.Total
	p.cursor.FetchedAt = time.Now()
}

// PageIndex is the 1-based index of the most recently fetched page, or 0
// before the first fetch.
func (p *Paginator[T]) PageIndex() int {
	return p.cursor.Offset + 1
}

// PageSize is the fixed per-instantiation page size.
func (p *Paginator[T]) PageSize() int {
	return p.cursor.PageSize
}

// ItemsSeen is the number of items covered by the pages walked so far.
func (p *Paginator[T]) ItemsSeen() int {
	return p.PageIndex() * p.cursor.PageSize
}

// MaxPage is the total page count for endpoints that report a grand
// total, or 0 when unknown.
func (p *Paginator[T]) MaxPage() int {
	if p.cursor.Total == 0 || p.cursor.PageSize == 0 {
		return 0
	}

	return (p.cursor.Total + p.cursor.PageSize - 1) / p.cursor.PageSize
}

// Cursor snapshots the paginator position for persistence.
func (p *Paginator[T]) Cursor() models.PageCursor {
	return p.cursor
}

// RestoreCursor resumes from a persisted snapshot. The endpoint key and
// page size of the snapshot must match this paginator's; mismatches are
// ignored so a stale snapshot can never point a listing at the wrong
// endpoint.
func (p *Paginator[T]) RestoreCursor(c models.PageCursor) {
	if c.Endpoint != p.cursor.Endpoint || c.PageSize != p.cursor.PageSize {
		return
	}

	p.cursor = c
}
