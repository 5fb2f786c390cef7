package spotify

import (
	"context"
	"fmt"
	"net/url"
)

// CurrentUser fetches the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*PrivateUser, error) {
	var user PrivateUser
	if err := c.get(ctx, "/me", &user); err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}

	return &user, nil
}

// SavedTracks returns a paginator over the user's saved tracks.
func (c *Client) SavedTracks(limit int) *Paginator[SavedTrack] {
	first := fmt.Sprintf("%s/me/tracks?limit=%d&offset=0", c.baseURL, limit)

	return NewPaginator[SavedTrack](c, envelopeResolver[SavedTrack]{}, "saved-tracks", first, limit)
}

// Playlists returns a paginator over the user's playlists.
func (c *Client) Playlists(limit int) *Paginator[SimplePlaylist] {
	first := fmt.Sprintf("%s/me/playlists?limit=%d&offset=0", c.baseURL, limit)

	return NewPaginator[SimplePlaylist](c, envelopeResolver[SimplePlaylist]{}, "playlists", first, limit)
}

// SearchTracks returns a paginator over track search results. The search
// response nests the paging envelope under a type key, which the resolver
// unwraps.
func (c *Client) SearchTracks(query string, limit int) *Paginator[Track] {
	first := fmt.Sprintf("%s/search?type=track&q=%s&limit=%d&offset=0",
		c.baseURL, url.QueryEscape(query), limit)

	return NewPaginator[Track](c, envelopeResolver[Track]{Key: "tracks"}, "search:"+query, first, limit)
}
