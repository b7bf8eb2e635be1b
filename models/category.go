package models

import "time"

// Category is a Spotify browse category, surfaced to users as a genre.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StoredCategory is a Category as persisted by the db package.
type StoredCategory struct {
	Category
	Position  int       `json:"position"`
	FetchedAt time.Time `json:"fetchedAt"`
}
