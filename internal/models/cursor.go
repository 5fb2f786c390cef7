// Package models defines types shared across internal packages.
package models

import "time"

// PageCursor is a snapshot of a paginator's position, persisted by the
// dashboard so a listing can be reopened where the user left off.
// NextURL and PrevURL are replaced wholesale from the most recently
// resolved page, never merged.
type PageCursor struct {
	Endpoint  string    `json:"endpoint"`
	Offset    int       `json:"offset"` // -1 means nothing fetched yet
	PageSize  int       `json:"page_size"`
	Total     int       `json:"total"`
	NextURL   string    `json:"next_url,omitempty"`
	PrevURL   string    `json:"prev_url,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}
