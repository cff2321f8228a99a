package model

import "time"

// Film is a festival programme entry, either a feature or a shorts package.
type Film struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	IsShorts    bool      `json:"isShorts,omitempty"`
	ParentID    string    `json:"parentId,omitempty"`
	Shorts      []string  `json:"shorts,omitempty"`
	TagLine     string    `json:"tagLine,omitempty"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Description string    `json:"description,omitempty"`
	Panelist    *Panelist `json:"panelist,omitempty"`
	Credits     []Credit  `json:"credits,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Panelist is the director or presenter block shown on a film page.
type Panelist struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Credit is one role line of a film's credits, e.g. Director → [names].
type Credit struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Category is a programme section shown as an event card on the program page.
type Category struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
