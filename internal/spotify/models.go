package spotify

// Wire types for the slice of the API the dashboard renders. Only fields
// that are displayed or filtered on are mapped.

// PrivateUser is the authenticated user's profile.
type PrivateUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"`
}

// SimpleArtist is the artist reference embedded in tracks and albums.
type SimpleArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SimpleAlbum is the album reference embedded in tracks.
type SimpleAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
}

// Track is a full track object.
type Track struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Artists    []SimpleArtist `json:"artists"`
	Album      SimpleAlbum    `json:"album"`
	DurationMS int            `json:"duration_ms"`
	Popularity int            `json:"popularity"`
}

// SavedTrack is a library entry: a track plus when it was saved.
type SavedTrack struct {
	AddedAt string `json:"added_at"`
	Track   Track  `json:"track"`
}

// PlaylistOwner is the owner reference embedded in playlists.
type PlaylistOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// PlaylistTracksRef carries only the track count of a playlist listing.
type PlaylistTracksRef struct {
	Total int `json:"total"`
}

// SimplePlaylist is a playlist as returned by list endpoints.
type SimplePlaylist struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Owner  PlaylistOwner     `json:"owner"`
	Tracks PlaylistTracksRef `json:"tracks"`
	Public bool              `json:"public"`
}
