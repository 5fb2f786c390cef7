package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/alexjbarnes/spotify-term/internal/models"
	"github.com/alexjbarnes/spotify-term/internal/spotify"
	"github.com/alexjbarnes/spotify-term/internal/state"
)

// view is one open listing: a paginator plus how to render and filter its
// current page. The function fields adapt the generic paginators to a
// single dashboard loop.
type view struct {
	endpoint string
	title    string

	next   func(ctx context.Context) (bool, error)
	prev   func(ctx context.Context) (bool, error)
	filter func(query string) []string

	lines   []string
	metrics func() string
	cursor  func() models.PageCursor
}

// dashboard is the line-mode front end: one command per line, pages of
// plain text out. It is deliberately free of any TUI framework.
type dashboard struct {
	client   *spotify.Client
	state    *state.State
	logger   *slog.Logger
	pageSize int

	out io.Writer
	in  io.Reader
}

const helpText = `commands:
  t           saved tracks
  p           playlists
  s <query>   search tracks
  n           next page
  b           previous page
  f <text>    filter current page locally
  q           quit`

func (d *dashboard) run(ctx context.Context) error {
	user, err := d.client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("fetching profile: %w", err)
	}

	name := user.DisplayName
	if name == "" {
		name = user.ID
	}

	fmt.Fprintf(d.out, "logged in as %s\n%s\n", name, helpText)

	var current *view

	scanner := bufio.NewScanner(d.in)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cmd, arg := splitCommand(scanner.Text())

		switch cmd {
		case "q":
			return nil

		case "", "help":
			fmt.Fprintln(d.out, helpText)

		case "t":
			current = d.savedTracksView()
			d.turnPage(ctx, current, true)

		case "p":
			current = d.playlistsView()
			d.turnPage(ctx, current, true)

		case "s":
			if arg == "" {
				fmt.Fprintln(d.out, "usage: s <query>")
				continue
			}

			current = d.searchView(arg)
			d.turnPage(ctx, current, true)

		case "n":
			if current == nil {
				fmt.Fprintln(d.out, "open a listing first (t, p, or s)")
				continue
			}

			d.turnPage(ctx, current, true)

		case "b":
			if current == nil {
				fmt.Fprintln(d.out, "open a listing first (t, p, or s)")
				continue
			}

			d.turnPage(ctx, current, false)

		case "f":
			if current == nil {
				fmt.Fprintln(d.out, "open a listing first (t, p, or s)")
				continue
			}

			d.printLines(current.filter(arg))

		default:
			fmt.Fprintf(d.out, "unknown command %q\n%s\n", cmd, helpText)
		}
	}

	return scanner.Err()
}

// turnPage advances or rewinds the current view and renders the result.
// The cursor snapshot is persisted on every successful turn so the
// listing reopens in place next run.
func (d *dashboard) turnPage(ctx context.Context, v *view, forward bool) {
	var (
		ok  bool
		err error
	)

	if forward {
		ok, err = v.next(ctx)
	} else {
		ok, err = v.prev(ctx)
	}

	if err != nil {
		if spotify.IsTransient(err) {
			fmt.Fprintf(d.out, "temporary API failure, try again: %v\n", err)
			return
		}

		fmt.Fprintf(d.out, "fetch failed: %v\n", err)

		return
	}

	if !ok {
		if forward {
			fmt.Fprintln(d.out, "no more pages")
		} else {
			fmt.Fprintln(d.out, "already on the first page")
		}

		return
	}

	fmt.Fprintf(d.out, "%s (%s)\n", v.title, v.metrics())
	d.printLines(v.lines)

	if err := d.state.SetCursor(v.cursor()); err != nil {
		d.logger.Warn("persisting cursor failed", slog.Any("error", err))
	}

	if err := d.state.SetLastEndpoint(v.endpoint); err != nil {
		d.logger.Warn("persisting endpoint failed", slog.Any("error", err))
	}
}

func (d *dashboard) printLines(lines []string) {
	if len(lines) == 0 {
		fmt.Fprintln(d.out, "(nothing)")
		return
	}

	for _, line := range lines {
		fmt.Fprintln(d.out, line)
	}
}

func (d *dashboard) savedTracksView() *view {
	pg := d.client.SavedTracks(d.pageSize)
	d.restore(pg.Cursor().Endpoint, pg.RestoreCursor)

	v := &view{endpoint: "saved-tracks", title: "Saved tracks"}
	var items []spotify.SavedTrack

	render := func() {
		v.lines = v.lines[:0]
		for i, it := range items {
			v.lines = append(v.lines, formatTrack(pg.ItemsSeen()-pg.PageSize()+i+1, it.Track))
		}
	}

	v.next = func(ctx context.Context) (bool, error) {
		page, err := pg.Next(ctx)
		if err != nil || page == nil {
			return false, err
		}

		items = page.Items
		render()

		return true, nil
	}

	v.prev = func(ctx context.Context) (bool, error) {
		page, err := pg.Prev(ctx)
		if err != nil || page == nil {
			return false, err
		}

		items = page.Items
		render()

		return true, nil
	}

	v.filter = func(query string) []string {
		filtered := spotify.FilterSavedTracks(items, query)
		lines := make([]string, 0, len(filtered))
		for i, it := range filtered {
			lines = append(lines, formatTrack(i+1, it.Track))
		}

		return lines
	}

	v.metrics = func() string { return formatMetrics(pg.PageIndex(), pg.MaxPage(), pg.ItemsSeen()) }
	v.cursor = pg.Cursor

	return v
}

func (d *dashboard) playlistsView() *view {
	pg := d.client.Playlists(d.pageSize)
	d.restore(pg.Cursor().Endpoint, pg.RestoreCursor)

	v := &view{endpoint: "playlists", title: "Playlists"}
	var items []spotify.SimplePlaylist

	render := func() {
		v.lines = v.lines[:0]
		for i, pl := range items {
			v.lines = append(v.lines, formatPlaylist(i+1, pl))
		}
	}

	v.next = func(ctx context.Context) (bool, error) {
		page, err := pg.Next(ctx)
		if err != nil || page == nil {
			return false, err
		}

		items = page.Items
		render()

		return true, nil
	}

	v.prev = func(ctx context.Context) (bool, error) {
		page, err := pg.Prev(ctx)
		if err != nil || page == nil {
			return false, err
		}

		items = page.Items
		render()

		return true, nil
	}

	v.filter = func(query string) []string {
		filtered := spotify.FilterPlaylists(items, query)
		lines := make([]string, 0, len(filtered))
		for i, pl := range filtered {
			lines = append(lines, formatPlaylist(i+1, pl))
		}

		return lines
	}

	v.metrics = func() string { return formatMetrics(pg.PageIndex(), pg.MaxPage(), pg.ItemsSeen()) }
	v.cursor = pg.Cursor

	return v
}

func (d *dashboard) searchView(query string) *view {
	pg := d.client.SearchTracks(query, d.pageSize)

	v := &view{endpoint: "search:" + query, title: fmt.Sprintf("Search %q", query)}
	var items []spotify.Track

	render := func() {
		v.lines = v.lines[:0]
		for i, tr := range items {
			v.lines = append(v.lines, formatTrack(i+1, tr))
		}
	}

	v.next = func(ctx context.Context) (bool, error) {
		page, err := pg.Next(ctx)
		if err != nil || page == nil {
			return false, err
		}

		items = page.Items
		render()

		return true, nil
	}

	v.prev = func(ctx context.Context) (bool, error) {
		page, err := pg.Prev(ctx)
		if err != nil || page == nil {
			return false, err
		}

		items = page.Items
		render()

		return true, nil
	}

	v.filter = func(q string) []string {
		filtered := spotify.FilterTracks(items, q)
		lines := make([]string, 0, len(filtered))
		for i, tr := range filtered {
			lines = append(lines, formatTrack(i+1, tr))
		}

		return lines
	}

	v.metrics = func() string { return formatMetrics(pg.PageIndex(), pg.MaxPage(), pg.ItemsSeen()) }
	v.cursor = pg.Cursor

	return v
}

// restore resumes a persisted cursor for the endpoint, if one exists.
func (d *dashboard) restore(endpoint string, apply func(models.PageCursor)) {
	if cursor, ok := d.state.Cursor(endpoint); ok {
		apply(cursor)
	}
}

func splitCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)

	cmd, arg, _ = strings.Cut(line, " ")

	return cmd, strings.TrimSpace(arg)
}

func formatTrack(n int, tr spotify.Track) string {
	artists := make([]string, 0, len(tr.Artists))
	for _, a := range tr.Artists {
		artists = append(artists, a.Name)
	}

	dur := time.Duration(tr.DurationMS) * time.Millisecond

	return fmt.Sprintf("%3d. %-40.40s %-30.30s %d:%02d",
		n, tr.Name, strings.Join(artists, ", "), int(dur.Minutes()), int(dur.Seconds())%60)
}

func formatPlaylist(n int, pl spotify.SimplePlaylist) string {
	return fmt.Sprintf("%3d. %-40.40s %-20.20s %4d tracks",
		n, pl.Name, pl.Owner.DisplayName, pl.Tracks.Total)
}

func formatMetrics(page, maxPage, seen int) string {
	if maxPage > 0 {
		return fmt.Sprintf("page %d/%d, %d items seen", page, maxPage, seen)
	}

	return fmt.Sprintf("page %d, %d items seen", page, seen)
}
