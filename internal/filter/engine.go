// Package filter implements the item matching engine.
package filter

import (
	"slices"

	"github.com/samber/lo"

	"autopost_bot/internal/model"
)

// Match checks whether an item passes the given filter set.
// An empty set passes everything. Selected ids of one taxonomy use OR logic
// (one shared id is enough); categories and tags combine with AND.
// An item that reports no terms of a kind is not rejected by that kind:
// such sources cannot expose taxonomy and already filtered upstream.
func Match(item model.Item, set model.FilterSet) bool {
	return matchesAny(set.Categories, item.Categories) && matchesAny(set.Tags, item.Tags)
}

// Items returns the items that pass set, preserving order.
func Items(items []model.Item, set model.FilterSet) []model.Item {
	if set.IsEmpty() {
		return items
	}
	return lo.Filter(items, func(item model.Item, _ int) bool {
		return Match(item, set)
	})
}

func matchesAny(selected, terms []int64) bool {
	if len(selected) == 0 || len(terms) == 0 {
		return true
	}
	return slices.ContainsFunc(terms, func(id int64) bool {
		return slices.Contains(selected, id)
	})
}
