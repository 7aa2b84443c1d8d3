package util

import (
	"regexp"
	"strings"
	"unicode"
)

var leadingArticle = regexp.MustCompile(`(?i)^(the|a|an)\s+`)

var nameListSeparator = regexp.MustCompile(`(?i)\s*(?:,|;|\s+and\s+|\s+&\s+)\s*`)

// NormalizeName collapses internal whitespace and trims the value so that
// names arriving from different sources compare cleanly.
func NormalizeName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.Join(strings.Fields(value), " ")
}

// NameVariations produces the ordered, de-duplicated search variations of a
// raw name: the original, the original with a leading article stripped, the
// original with "the " prepended when absent, and the original with
// punctuation removed. An empty name yields no variations.
func NameVariations(name string) []string {
	name = NormalizeName(name)
	if name == "" {
		return nil
	}

	variations := make([]string, 0, 4)
	seen := make(map[string]bool)
	add := func(v string) {
		v = NormalizeName(v)
		if v == "" {
			return
		}
		key := strings.ToLower(v)
		if seen[key] {
			return
		}
		seen[key] = true
		variations = append(variations, v)
	}

	add(name)
	add(leadingArticle.ReplaceAllString(name, ""))
	if !strings.HasPrefix(strings.ToLower(name), "the ") {
		add("the " + name)
	}
	add(stripPunctuation(name))

	return variations
}

func stripPunctuation(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SplitNameList splits a comma/conjunction-joined name field into individual
// names, preserving order and dropping duplicates.
func SplitNameList(raw string) []string {
	raw = NormalizeName(raw)
	if raw == "" {
		return nil
	}

	parts := nameListSeparator.Split(raw, -1)
	names := make([]string, 0, len(parts))
	seen := make(map[string]bool)
	for _, part := range parts {
		part = NormalizeName(part)
		if part == "" {
			continue
		}
		key := strings.ToLower(part)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, part)
	}
	return names
}

// wholeWordPattern builds a boundary-aware, case-insensitive pattern for name.
// Explicit boundary groups are used instead of \b so that names starting or
// ending in punctuation still match only full mentions.
func wholeWordPattern(name string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)(^|[^\p{L}\p{N}_])(` + regexp.QuoteMeta(name) + `)($|[^\p{L}\p{N}_])`)
}

// ContainsWholeWord reports whether text contains name as a whole word.
// Substrings inside longer words never match ("Cole" does not match "Nicole").
func ContainsWholeWord(text, name string) bool {
	name = NormalizeName(name)
	if text == "" || name == "" {
		return false
	}
	re, err := wholeWordPattern(name)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// ReplaceWholeWord replaces every whole-word occurrence of old in text with
// new, leaving embedded substrings untouched. The surrounding delimiters are
// preserved verbatim.
func ReplaceWholeWord(text, old, new string) string {
	old = NormalizeName(old)
	if text == "" || old == "" {
		return text
	}
	re, err := wholeWordPattern(old)
	if err != nil {
		return text
	}

	// Scan incrementally instead of ReplaceAll: the trailing delimiter of one
	// match is the leading delimiter of the next ("Cole, Cole"), and the
	// replacement itself may contain the old name as a whole word.
	var b strings.Builder
	b.Grow(len(text))
	rest := text
	for {
		loc := re.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:loc[4]])
		b.WriteString(new)
		rest = rest[loc[5]:]
	}
	return b.String()
}
