package bulk

import (
	"strconv"
	"strings"
	"time"
)

const (
	minYear           = 1900
	maxYearsAhead     = 10
	twoDigitYearPivot = 50
)

var now = time.Now

var fallbackLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// ParseReleaseDate accepts MM/DD/YY (years above 50 are 19xx), MM/DD/YYYY,
// YYYY and a few ISO/long forms. Dates outside 1900 to ten years from now
// are rejected.
func ParseReleaseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if strings.Contains(s, "/") {
		return parseSlashDate(s)
	}

	if len(s) == 4 {
		year, err := strconv.Atoi(s)
		if err != nil || !yearInRange(year) {
			return nil
		}

		t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

		return &t
	}

	for _, layout := range fallbackLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}

		if !yearInRange(t.Year()) {
			return nil
		}

		t = t.UTC()

		return &t
	}

	return nil
}

func parseSlashDate(s string) *time.Time {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return nil
	}

	month, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	day, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	yearStr := strings.TrimSpace(parts[2])
	year, err3 := strconv.Atoi(yearStr)

	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}

	if len(yearStr) == 2 {
		if year > twoDigitYearPivot {
			year += 1900
		} else {
			year += 2000
		}
	}

	if !yearInRange(year) {
		return nil
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)

	// reject overflow such as 02/31
	if t.Day() != day {
		return nil
	}

	return &t
}

func yearInRange(year int) bool {
	return year >= minYear && year <= now().Year()+maxYearsAhead
}
