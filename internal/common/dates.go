package common

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// minguoEpochOffset converts Republic of China calendar years to Gregorian.
// Government sites publish dates as "114-05-20" or "114/5/20" where 114 means 2025.
const minguoEpochOffset = 1911

// ParseDateToISO normalizes a raw date string scraped from a government page
// into ISO form "YYYY-MM-DD". Minguo years (below 1000) are converted to
// Gregorian. Returns false when the input cannot be interpreted as a real
// calendar date.
func ParseDateToISO(raw string) (string, bool) {
	cleaned := stripDateNoise(raw)
	if cleaned == "" {
		return "", false
	}

	parts := splitDateParts(cleaned)
	if len(parts) != 3 {
		return "", false
	}

	// Years are either 4-digit Gregorian or 3-digit Minguo. Shorter fields
	// like "99" are ambiguous and rejected.
	if len(parts[0]) < 3 {
		return "", false
	}

	year, err1 := atoiStrict(parts[0])
	month, err2 := atoiStrict(parts[1])
	day, err3 := atoiStrict(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", false
	}

	if year < 1000 {
		year += minguoEpochOffset
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}

	// Reject dates like February 30 that time.Date would silently normalize.
	candidate := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if candidate.Year() != year || candidate.Month() != time.Month(month) || candidate.Day() != day {
		return "", false
	}

	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

// stripDateNoise keeps only digits and separator characters. Pages embed
// dates inside labels like "發布日期：114-05-20" or "2025年5月20日".
func stripDateNoise(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '/' || r == '.':
			b.WriteRune('-')
		case r == '年' || r == '月':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func splitDateParts(cleaned string) []string {
	raw := strings.FieldsFunc(cleaned, func(r rune) bool { return r == '-' })
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func atoiStrict(s string) (int, error) {
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("bad numeric field %q", s)
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad numeric field %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
