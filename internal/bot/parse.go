package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"autopost_bot/internal/model"
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, errors.New("post ID is required")
	}
	field := strings.TrimPrefix(strings.Fields(s)[0], "#")
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid post ID %q", s)
	}
	return id, nil
}

// ParseFiltersArgs parses "<categories|tags> <ids...>". Ids may be separated
// by spaces or commas; they are returned raw for the preference store to validate.
func ParseFiltersArgs(args string) (model.TermKind, []string, error) {
	const usage = "usage: /filters <categories|tags> <ids...>"

	parts := strings.Fields(args)
	if len(parts) < 2 {
		return "", nil, errors.New(usage)
	}

	var kind model.TermKind
	switch strings.ToLower(parts[0]) {
	case "categories", "category", "cat":
		kind = model.TermCategory
	case "tags", "tag":
		kind = model.TermTag
	default:
		return "", nil, fmt.Errorf("unknown filter %q, %s", parts[0], usage)
	}

	raw := strings.FieldsFunc(strings.Join(parts[1:], " "), func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(raw) == 0 {
		return "", nil, errors.New(usage)
	}
	return kind, raw, nil
}
