package spotify

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeForMatch lower-cases and NFC-normalizes a string so filter
// matching is stable regardless of how the provider composed accented
// characters.
func normalizeForMatch(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

// matches reports whether needle occurs in any of the haystacks after
// normalization. An empty needle matches everything.
func matches(needle string, haystacks ...string) bool {
	if needle == "" {
		return true
	}

	needle = normalizeForMatch(needle)
	for _, h := range haystacks {
		if strings.Contains(normalizeForMatch(h), needle) {
			return true
		}
	}

	return false
}

// FilterSavedTracks narrows a fetched page's items to those whose track
// name or any artist name contains the query. Used by the dashboard's
// local filter; it never triggers network calls.
func FilterSavedTracks(items []SavedTrack, query string) []SavedTrack {
	if query == "" {
		return items
	}

	var out []SavedTrack

	for _, item := range items {
		names := []string{item.Track.Name}
		for _, a := range item.Track.Artists {
			names = append(names, a.Name)
		}

		if matches(query, names...) {
			out = append(out, item)
		}
	}

	return out
}

// FilterTracks narrows a page of plain tracks the same way.
func FilterTracks(items []Track, query string) []Track {
	if query == "" {
		return items
	}

	var out []Track

	for _, tr := range items {
		names := []string{tr.Name}
		for _, a := range tr.Artists {
			names = append(names, a.Name)
		}

		if matches(query, names...) {
			out = append(out, tr)
		}
	}

	return out
}

// FilterPlaylists narrows a fetched page's items to playlists whose name
// or owner contains the query.
func FilterPlaylists(items []SimplePlaylist, query string) []SimplePlaylist {
	if query == "" {
		return items
	}

	var out []SimplePlaylist

	for _, item := range items {
		if matches(query, item.Name, item.Owner.DisplayName) {
			out = append(out, item)
		}
	}

	return out
}
