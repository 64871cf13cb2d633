package events

import (
	"regexp"
	"time"
)

var datePatterns = []struct {
	re     *regexp.Regexp
	layout func(m []string) string
}{
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`), func(m []string) string { return m[1] + "-" + m[2] + "-" + m[3] }},
	{regexp.MustCompile(`(\d{2})[/.-](\d{2})[/.-](\d{4})`), func(m []string) string { return m[3] + "-" + m[2] + "-" + m[1] }},
	{regexp.MustCompile(`(?:^|\D)(\d{4})(\d{2})(\d{2})(?:\D|$)`), func(m []string) string { return m[1] + "-" + m[2] + "-" + m[3] }},
}

// ParseEventDate extracts a departure date from a product identifier such as a SKU
// ("TRIP-2025-06-14", "gita_14.06.2025", "BUS20250614"). It returns nil when no valid date is found.
func ParseEventDate(identifier string) *time.Time {
	for _, p := range datePatterns {
		for _, m := range p.re.FindAllStringSubmatch(identifier, -1) {
			t, err := time.Parse("2006-01-02", p.layout(m))
			if err != nil {
				continue
			}
			return &t
		}
	}
	return nil
}

// EventDateFrom tries each identifier in turn, SKU first.
func EventDateFrom(identifiers ...string) *time.Time {
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		if t := ParseEventDate(id); t != nil {
			return t
		}
	}
	return nil
}
