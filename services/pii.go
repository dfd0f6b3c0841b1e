package services

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// PII categories detected in end-user messages.
const (
	PIIEmail      = "email"
	PIIPhone      = "phone"
	PIINationalID = "national_id"
	PIICard       = "card"
	PIIIBAN       = "iban"
)

var piiPlaceholders = map[string]string{
	PIIEmail:      "[EMAIL]",
	PIIPhone:      "[PHONE]",
	PIINationalID: "[NATIONAL_ID]",
	PIICard:       "[CARD]",
	PIIIBAN:       "[IBAN]",
}

// PIIMatch is one detected occurrence with its span in the input.
type PIIMatch struct {
	Category string
	Start    int
	End      int
	Value    string
}

var piiPatterns = []struct {
	category string
	re       *regexp.Regexp
}{
	{PIINationalID, regexp.MustCompile(`\b\d{6}/\d{3,4}\b`)},
	{PIICard, regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{PIIPhone, regexp.MustCompile(`(?:\+420|00420)\s?\d{3}\s?\d{3}\s?\d{3}\b`)},
	{PIIEmail, regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)},
	{PIIIBAN, regexp.MustCompile(`(?i)\bcz\d{2}(?:\s?\d{4}){5}\b`)},
}

// Email domains that are service addresses rather than personal data.
var ignoredEmailDomains = map[string]bool{
	"example.com": true,
	"example.org": true,
	"test.com":    true,
	"localhost":   true,
	"gov.cz":      true,
	"psp.cz":      true,
}

// DetectPII scans text for personal data. Pattern hits are validated
// (Luhn for cards, birth-number month ranges for national ids) to cut
// false positives before anything is flagged.
func DetectPII(text string) []PIIMatch {
	var matches []PIIMatch
	for _, p := range piiPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]

			switch p.category {
			case PIICard:
				if !luhnValid(value) {
					continue
				}
			case PIINationalID:
				if !validBirthNumber(value) {
					continue
				}
			case PIIEmail:
				at := strings.LastIndex(value, "@")
				if ignoredEmailDomains[strings.ToLower(value[at+1:])] {
					continue
				}
			}

			matches = append(matches, PIIMatch{
				Category: p.category,
				Start:    loc[0],
				End:      loc[1],
				Value:    value,
			})
		}
	}
	return matches
}

// RedactPII replaces detected PII with per-category placeholders and
// reports the distinct categories found. Placeholders never re-match,
// so redacting already-redacted text is a no-op.
func RedactPII(text string) (string, []string) {
	matches := DetectPII(text)
	if len(matches) == 0 {
		return text, nil
	}

	// When spans overlap (a card-like run of digits inside an IBAN)
	// keep the longer match and drop the one it covers.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End-matches[i].Start > matches[j].End-matches[j].Start
	})
	selected := matches[:0]
	for _, m := range matches {
		if n := len(selected); n > 0 {
			prev := &selected[n-1]
			if m.Start < prev.End {
				if m.End-m.Start > prev.End-prev.Start {
					*prev = m
				}
				continue
			}
		}
		selected = append(selected, m)
	}

	// Replace back-to-front so earlier spans stay valid
	categorySet := make(map[string]bool)
	result := text
	for i := len(selected) - 1; i >= 0; i-- {
		m := selected[i]
		result = result[:m.Start] + piiPlaceholders[m.Category] + result[m.End:]
		categorySet[m.Category] = true
	}

	categories := make([]string, 0, len(categorySet))
	for _, p := range piiPatterns {
		if categorySet[p.category] {
			categories = append(categories, p.category)
		}
	}
	return result, categories
}

// luhnValid checks a 16-digit card number with the Luhn algorithm.
func luhnValid(candidate string) bool {
	var digits []int
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) != 16 {
		return false
	}

	checksum := 0
	for i := 0; i < len(digits); i++ {
		digit := digits[len(digits)-1-i]
		if i%2 == 1 {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		checksum += digit
	}
	return checksum%10 == 0
}

// validBirthNumber checks the month component of a birth number:
// 01-12 and 51-62 plus the +20 variants allowed since 2004. The mod-11
// check is deliberately skipped; pre-1985 numbers do not satisfy it.
func validBirthNumber(value string) bool {
	digits := strings.ReplaceAll(value, "/", "")
	if len(digits) != 9 && len(digits) != 10 {
		return false
	}
	month, err := strconv.Atoi(digits[2:4])
	if err != nil {
		return false
	}
	switch {
	case month >= 1 && month <= 12:
		return true
	case month >= 21 && month <= 32:
		return true
	case month >= 51 && month <= 62:
		return true
	case month >= 71 && month <= 82:
		return true
	}
	return false
}
