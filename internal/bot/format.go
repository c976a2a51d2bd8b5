package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"autopost_bot/internal/model"
	"autopost_bot/internal/scheduler"
	"autopost_bot/internal/session"
)

const (
	maxKeyboardTerms = 40
	keyboardColumns  = 2
	timeFormat       = "2006-01-02 15:04 UTC"
)

// FormatStatus describes a destination's settings and schedule.
func FormatStatus(p model.Preferences, jobs []scheduler.JobInfo) string {
	var b strings.Builder
	if len(jobs) > 0 {
		b.WriteString("Auto-posting: on")
		if next := jobs[0].NextFireAt; !next.IsZero() {
			fmt.Fprintf(&b, " (next check %s)", next.UTC().Format(timeFormat))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Auto-posting: off\n")
	}

	if p.LastDeliveredItemID > 0 {
		fmt.Fprintf(&b, "Last delivered post: #%d\n", p.LastDeliveredItemID)
	} else {
		b.WriteString("Last delivered post: none\n")
	}
	if p.LastCheckedAt != nil {
		fmt.Fprintf(&b, "Last check: %s\n", p.LastCheckedAt.UTC().Format(timeFormat))
	} else {
		b.WriteString("Last check: never\n")
	}

	b.WriteString("\n")
	b.WriteString(FormatFilters(p))
	return b.String()
}

// FormatFilters lists the category and tag filters.
func FormatFilters(p model.Preferences) string {
	return fmt.Sprintf("Categories: %s\nTags: %s", idList(p.CategoryFilter), idList(p.TagFilter))
}

func idList(ids []int64) string {
	if len(ids) == 0 {
		return "all"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

// SelectionKeyboard renders terms as toggle buttons followed by Save and Cancel.
func SelectionKeyboard(terms []model.Term, sel session.Selection) tgbotapi.InlineKeyboardMarkup {
	if len(terms) > maxKeyboardTerms {
		terms = terms[:maxKeyboardTerms]
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, t := range terms {
		label := t.Name
		if sel.Has(t.ID) {
			label = "✅ " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s:%d", actionSelect, t.ID)))
		if len(row) == keyboardColumns {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("💾 Save", actionSelect+":"+selSave),
		tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", actionSelect+":"+selCancel),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// describeError turns a service error into a user-facing sentence.
func describeError(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "Nothing found."
	case errors.Is(err, model.ErrSourceUnavailable):
		return "The site is unavailable right now. Try again later."
	case errors.Is(err, model.ErrDeliveryRejected):
		return "Telegram refused the message for this chat."
	case errors.Is(err, model.ErrDeliveryFailed):
		return "Could not send the post. Try again later."
	case errors.Is(err, model.ErrInvalidFilter):
		return "No valid ids given. Ids are positive numbers."
	case errors.Is(err, model.ErrNoSession):
		return "This selection has expired. Start again with /categories or /tags."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
