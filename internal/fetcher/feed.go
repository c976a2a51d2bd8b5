package fetcher

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"autopost_bot/internal/model"
)

// Feed reads items from an RSS or Atom feed. Items must carry a numeric
// post id in their guid or link (WordPress "?p=123"); others are skipped.
// Category and tag filters cannot be applied server-side.
type Feed struct {
	client  HTTPClient
	url     string
	timeout time.Duration
}

// NewFeed creates a Feed source for the given feed URL.
func NewFeed(client HTTPClient, url string) *Feed {
	return &Feed{
		client:  client,
		url:     url,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads and parses the feed.
func (f *Feed) Fetch(ctx context.Context) (*gofeed.Feed, error) {
	body, err := get(ctx, f.client, f.timeout, f.url)
	if err != nil {
		return nil, err
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ListItems returns the feed items newer than q.Since and q.AfterID in q.Order.
// Items without a publication date pass the time bound.
func (f *Feed) ListItems(ctx context.Context, q model.Query) ([]model.Item, error) {
	items, err := f.items(ctx)
	if err != nil {
		return nil, err
	}
	items = slices.DeleteFunc(items, func(it model.Item) bool {
		if it.ID <= q.AfterID {
			return true
		}
		return q.Since != nil && !it.PublishedAt.IsZero() && !it.PublishedAt.After(*q.Since)
	})
	if q.Order == model.OldestFirst {
		slices.Reverse(items)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// GetItem looks the id up among the items currently in the feed.
func (f *Feed) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	items, err := f.items(ctx)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.ID == id {
			return &it, nil
		}
	}
	return nil, fmt.Errorf("item %d: %w", id, model.ErrNotFound)
}

func (f *Feed) items(ctx context.Context) ([]model.Item, error) {
	feed, err := f.Fetch(ctx)
	if err != nil {
		return nil, unavailable("fetch feed", err)
	}

	var items []model.Item
	for _, it := range feed.Items {
		id, ok := ItemID(it)
		if !ok {
			continue
		}
		item := model.Item{
			ID:       id,
			Title:    it.Title,
			Excerpt:  it.Description,
			BodyHTML: it.Content,
			Link:     it.Link,
		}
		if it.PublishedParsed != nil {
			item.PublishedAt = it.PublishedParsed.UTC()
		}
		if it.Image != nil {
			item.FeaturedImageURL = it.Image.URL
		}
		items = append(items, item)
	}
	slices.SortStableFunc(items, func(a, b model.Item) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return items, nil
}

var postIDRe = regexp.MustCompile(`[?&]p=(\d+)`)

// ItemID extracts the numeric post id of a feed item from its guid or link.
func ItemID(item *gofeed.Item) (int64, bool) {
	for _, s := range []string{item.GUID, item.Link} {
		m := postIDRe.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}
