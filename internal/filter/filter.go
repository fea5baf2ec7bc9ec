package filter

import (
	"regexp"
	"strings"

	"flatseek/internal/model"
)

// Matches evaluates every criterion as an independent predicate and ANDs
// the results. All predicates are pure, so evaluation order never
// matters.
func Matches(l model.Listing, c model.FilterCriteria) bool {
	ok := districtOK(l, c)
	ok = priceOK(l, c) && ok
	ok = sizeOK(l, c) && ok
	ok = categoryOK(l, c) && ok
	ok = timeLimitOK(l, c) && ok
	return ok
}

var districtNoise = regexp.MustCompile(`[\s.\-]`)

// NormalizeDistrict collapses a district name for comparison: quotes and
// whitespace stripped, dots and dashes removed, lowercased. "Alt-Moabit"
// and "altmoabit" compare equal.
func NormalizeDistrict(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return districtNoise.ReplaceAllString(strings.ToLower(s), "")
}

func districtOK(l model.Listing, c model.FilterCriteria) bool {
	wanted := make([]string, 0, len(c.Districts))
	for _, d := range c.Districts {
		if n := NormalizeDistrict(d); n != "" {
			wanted = append(wanted, n)
		}
	}
	if len(wanted) == 0 {
		return true // empty set matches all
	}
	have := NormalizeDistrict(l.District)
	if have == "" {
		return false
	}
	for _, w := range wanted {
		if strings.Contains(have, w) {
			return true
		}
	}
	return false
}

func priceOK(l model.Listing, c model.FilterCriteria) bool {
	return c.MaxRent <= 0 || l.Rent <= c.MaxRent
}

func sizeOK(l model.Listing, c model.FilterCriteria) bool {
	return c.MinSize <= 0 || l.Size >= c.MinSize
}

func categoryOK(l model.Listing, c model.FilterCriteria) bool {
	if len(c.Categories) == 0 {
		return true
	}
	for _, cat := range c.Categories {
		if l.Category == cat {
			return true
		}
	}
	return false
}

func timeLimitOK(l model.Listing, c model.FilterCriteria) bool {
	return c.AllowTimeLimited || !IsTimeLimited(l)
}

var timeLimitKeywords = []string{
	"zwischenmiete",
	"zwischenmiet",
	"untermiete",
	"sublet",
	"temporary",
	"befristet",
	"befristung",
	"zeitmiete",
}

// IsTimeLimited detects Zwischenmiete offers: an explicit duration, a
// real end date, or a telltale keyword in the title.
func IsTimeLimited(l model.Listing) bool {
	if hasValue(l.Duration) {
		return true
	}
	if hasRealEndDate(l.AvailableTo) {
		return true
	}
	title := strings.ToLower(l.Title)
	for _, kw := range timeLimitKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

func hasValue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "0.0", "null", "none":
		return false
	}
	return true
}

// hasRealEndDate treats zero-dates the feed uses as placeholders as
// "no end date".
func hasRealEndDate(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "0.0", "00.00.0000", "00.00.0000, 00:00:00", "null", "none":
		return false
	}
	return true
}
