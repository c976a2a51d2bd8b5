// Package fetcher implements the content sources the bot polls: the WordPress
// REST API and plain RSS/Atom feeds.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"autopost_bot/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source is a content source. ListItems returns items newest first.
type Source interface {
	ListItems(ctx context.Context, q model.Query) ([]model.Item, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
}

// TermLister is implemented by sources that can enumerate their categories and tags.
type TermLister interface {
	ListTerms(ctx context.Context, kind model.TermKind) ([]model.Term, error)
}

const (
	userAgent    = "AutoPostBot/1.0"
	maxBodyBytes = 5 * 1024 * 1024
	defaultLimit = 10
)

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func get(ctx context.Context, client HTTPClient, timeout time.Duration, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpStatusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrSourceUnavailable, op, err)
}
