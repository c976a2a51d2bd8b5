// Package model defines the domain types used across the application.
package model

import "time"

// Preferences holds the delivery settings and cursor of a single destination.
// CategoryFilter and TagFilter are sorted sets; an empty set matches everything.
// LastDeliveredItemID is zero until the first successful delivery.
type Preferences struct {
	DestinationID       int64      `json:"destination_id"`
	CategoryFilter      []int64    `json:"categories"`
	TagFilter           []int64    `json:"tags"`
	AutoPostingEnabled  bool       `json:"auto_posting"`
	LastDeliveredItemID int64      `json:"last_delivered_item_id"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
}

// Filters returns the filter sets of the preferences.
func (p Preferences) Filters() FilterSet {
	return FilterSet{Categories: p.CategoryFilter, Tags: p.TagFilter}
}

// FilterSet is a pair of category and tag id sets.
type FilterSet struct {
	Categories []int64
	Tags       []int64
}

// IsEmpty reports whether neither set restricts anything.
func (f FilterSet) IsEmpty() bool {
	return len(f.Categories) == 0 && len(f.Tags) == 0
}

// Item is a single piece of content published by the source.
// IDs grow with publication time.
type Item struct {
	ID               int64
	Title            string
	Excerpt          string
	BodyHTML         string
	Link             string
	PublishedAt      time.Time
	Categories       []int64
	Tags             []int64
	FeaturedImageURL string
}

// Order selects which end of the matching items a limited query returns.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// Query narrows down ListItems results.
type Query struct {
	Categories []int64
	Tags       []int64
	// Since drops dated items published at or before it. Undated items are kept.
	Since *time.Time
	// AfterID is a hint: sources that can compare ids drop items at or below it.
	AfterID int64
	Limit   int
	Order   Order
}

// TermKind distinguishes the two taxonomies a destination can filter by.
type TermKind string

// Supported taxonomies.
const (
	TermCategory TermKind = "categories"
	TermTag      TermKind = "tags"
)

// Term is a named taxonomy entry of the source.
type Term struct {
	ID   int64
	Name string
}
