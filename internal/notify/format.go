package notify

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"booking-notifier/internal/models"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// FormatCurrency renders an integer minor-unit amount as a display price,
// e.g. 12999 USD -> "$129.99". Unknown currencies fall back to "$".
func FormatCurrency(cents int64, currency string) string {
	symbol, ok := currencySymbols[strings.ToUpper(currency)]
	if !ok {
		symbol = "$"
	}
	return fmt.Sprintf("%s%.2f", symbol, float64(cents)/100)
}

// parseTimestamp accepts RFC3339 timestamps and the timezone-less variant
// some persisted snapshots carry.
func parseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", raw)
}

// FormatLongDate renders "Saturday, February 22, 2026". Unparseable input
// is echoed back so the email still shows something.
func FormatLongDate(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := parseTimestamp(raw)
	if err != nil {
		return raw
	}
	return t.Format("Monday, January 2, 2006")
}

// FormatShortDate renders "Feb 22, 2026", echoing unparseable input.
func FormatShortDate(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := parseTimestamp(raw)
	if err != nil {
		return raw
	}
	return t.Format("Jan 2, 2006")
}

// FormatTime renders a 12-hour clock time like "10:00 AM", or "" when the
// input cannot be parsed.
func FormatTime(raw string) string {
	t, err := parseTimestamp(raw)
	if err != nil {
		return ""
	}
	return t.Format("3:04 PM")
}

// FormatTimeRange renders "10:00 AM – 11:35 AM". When one side is
// unparseable the other side is returned alone.
func FormatTimeRange(startRaw, endRaw string) string {
	start := FormatTime(startRaw)
	end := FormatTime(endRaw)

	switch {
	case start != "" && end != "":
		return start + " – " + end
	case start != "":
		return start
	default:
		return end
	}
}

// FormatDuration renders the elapsed time between two timestamps as
// "1h 35min", "1h", or "45min". Returns "" when either side is
// unparseable or the range is not positive.
func FormatDuration(startRaw, endRaw string) string {
	start, err := parseTimestamp(startRaw)
	if err != nil {
		return ""
	}
	end, err := parseTimestamp(endRaw)
	if err != nil {
		return ""
	}

	minutes := int(end.Sub(start).Minutes())
	if minutes <= 0 {
		return ""
	}

	hours := minutes / 60
	rem := minutes % 60
	switch {
	case hours > 0 && rem > 0:
		return fmt.Sprintf("%dh %dmin", hours, rem)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dmin", rem)
	}
}

// CalendarLink builds a Google Calendar event creation URL, or "" when the
// start or end time cannot be parsed.
func CalendarLink(title, startRaw, endRaw, location string) string {
	start, err := parseTimestamp(startRaw)
	if err != nil {
		return ""
	}
	end, err := parseTimestamp(endRaw)
	if err != nil {
		return ""
	}

	const stamp = "20060102T150405Z"
	dates := start.UTC().Format(stamp) + "/" + end.UTC().Format(stamp)

	link := "https://calendar.google.com/calendar/render?action=TEMPLATE" +
		"&text=" + url.QueryEscape(title) +
		"&dates=" + dates
	if location != "" {
		link += "&location=" + url.QueryEscape(location)
	}
	return link
}

// DirectionsURL builds a Google Maps directions link, preferring exact
// coordinates over the formatted address. Returns "" when neither is known.
func DirectionsURL(loc *models.Location) string {
	if loc == nil {
		return ""
	}
	if loc.Latitude != nil && loc.Longitude != nil {
		return fmt.Sprintf("https://www.google.com/maps/dir/?api=1&destination=%f,%f",
			*loc.Latitude, *loc.Longitude)
	}
	if loc.FormattedAddress != "" {
		return "https://www.google.com/maps/dir/?api=1&destination=" +
			url.QueryEscape(loc.FormattedAddress)
	}
	return ""
}
