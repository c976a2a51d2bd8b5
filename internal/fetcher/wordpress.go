package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autopost_bot/internal/model"
)

// WordPress reads posts from the WordPress REST API (wp-json/wp/v2).
type WordPress struct {
	client  HTTPClient
	baseURL string
	timeout time.Duration
}

// NewWordPress creates a WordPress source for the site at baseURL.
func NewWordPress(client HTTPClient, baseURL string) *WordPress {
	return &WordPress{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 30 * time.Second,
	}
}

type wpRendered struct {
	Rendered string `json:"rendered"`
}

type wpPost struct {
	ID         int64      `json:"id"`
	DateGMT    string     `json:"date_gmt"`
	Link       string     `json:"link"`
	Title      wpRendered `json:"title"`
	Excerpt    wpRendered `json:"excerpt"`
	Content    wpRendered `json:"content"`
	Categories []int64    `json:"categories"`
	Tags       []int64    `json:"tags"`
	Embedded   struct {
		FeaturedMedia []struct {
			SourceURL string `json:"source_url"`
		} `json:"wp:featuredmedia"`
	} `json:"_embedded"`
}

type wpTerm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ListItems returns posts matching q in q.Order. Posts always carry a date, so
// q.AfterID is left to the caller.
func (w *WordPress) ListItems(ctx context.Context, q model.Query) ([]model.Item, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	v := url.Values{}
	v.Set("per_page", strconv.Itoa(limit))
	v.Set("orderby", "date")
	if q.Order == model.OldestFirst {
		v.Set("order", "asc")
	} else {
		v.Set("order", "desc")
	}
	v.Set("_embed", "wp:featuredmedia")
	if len(q.Categories) > 0 {
		v.Set("categories", joinIDs(q.Categories))
	}
	if len(q.Tags) > 0 {
		v.Set("tags", joinIDs(q.Tags))
	}
	if q.Since != nil {
		v.Set("after", q.Since.UTC().Format(time.RFC3339))
	}

	body, err := get(ctx, w.client, w.timeout, w.baseURL+"/wp-json/wp/v2/posts?"+v.Encode())
	if err != nil {
		return nil, unavailable("list posts", err)
	}

	var posts []wpPost
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, unavailable("decode posts", err)
	}

	items := make([]model.Item, 0, len(posts))
	for _, p := range posts {
		items = append(items, p.item())
	}
	return items, nil
}

// GetItem returns a single post by id.
func (w *WordPress) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	u := fmt.Sprintf("%s/wp-json/wp/v2/posts/%d?_embed=wp:featuredmedia", w.baseURL, id)
	body, err := get(ctx, w.client, w.timeout, u)
	if err != nil {
		var se *httpStatusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("post %d: %w", id, model.ErrNotFound)
		}
		return nil, unavailable("get post", err)
	}

	var p wpPost
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, unavailable("decode post", err)
	}
	item := p.item()
	return &item, nil
}

// ListTerms returns up to 100 categories or tags of the site.
func (w *WordPress) ListTerms(ctx context.Context, kind model.TermKind) ([]model.Term, error) {
	if kind != model.TermCategory && kind != model.TermTag {
		return nil, fmt.Errorf("unknown term kind %q", kind)
	}
	u := fmt.Sprintf("%s/wp-json/wp/v2/%s?per_page=100&orderby=count&order=desc", w.baseURL, kind)
	body, err := get(ctx, w.client, w.timeout, u)
	if err != nil {
		return nil, unavailable("list "+string(kind), err)
	}

	var raw []wpTerm
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, unavailable("decode "+string(kind), err)
	}
	terms := make([]model.Term, 0, len(raw))
	for _, t := range raw {
		terms = append(terms, model.Term{ID: t.ID, Name: t.Name})
	}
	return terms, nil
}

func (p wpPost) item() model.Item {
	item := model.Item{
		ID:         p.ID,
		Title:      p.Title.Rendered,
		Excerpt:    p.Excerpt.Rendered,
		BodyHTML:   p.Content.Rendered,
		Link:       p.Link,
		Categories: p.Categories,
		Tags:       p.Tags,
	}
	// date_gmt carries no zone suffix.
	if t, err := time.Parse("2006-01-02T15:04:05", p.DateGMT); err == nil {
		item.PublishedAt = t.UTC()
	}
	if len(p.Embedded.FeaturedMedia) > 0 {
		item.FeaturedImageURL = p.Embedded.FeaturedMedia[0].SourceURL
	}
	return item
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
